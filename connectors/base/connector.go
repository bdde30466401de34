// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package base

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DatabaseType identifies a supported database engine.
type DatabaseType string

const (
	TypePostgreSQL DatabaseType = "postgresql"
	TypeMySQL      DatabaseType = "mysql"
	TypeMongoDB    DatabaseType = "mongodb"
	TypeSQLite     DatabaseType = "sqlite"
)

// ConnectionMethod selects how connection details are supplied.
type ConnectionMethod string

const (
	MethodURL        ConnectionMethod = "url"
	MethodParameters ConnectionMethod = "parameters"
)

// ErrUnsupportedType is returned when a database type has no registered connector.
var ErrUnsupportedType = errors.New("unsupported database type")

// ErrClosedConnection is returned when an adapter method is called on a
// connection that has already been disconnected.
var ErrClosedConnection = errors.New("connection is closed")

// ConnectionParameters holds discrete connection fields for the parameters method.
type ConnectionParameters struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// ConnectionConfig is a discriminated union over the two connection methods.
// Exactly one of ConnectionString or Parameters is populated, consistent
// with Method.
type ConnectionConfig struct {
	Type             DatabaseType          `json:"type"`
	Method           ConnectionMethod      `json:"method"`
	ConnectionString string                `json:"connectionString,omitempty"`
	Parameters       *ConnectionParameters `json:"parameters,omitempty"`
}

// Validate checks the config shape before any network call is attempted.
// Engine membership is not checked here; that is the factory's job.
func (c *ConnectionConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("connection config is required")
	}
	switch c.Method {
	case MethodURL:
		if c.ConnectionString == "" {
			return fmt.Errorf("connection string is required for url method")
		}
		if c.Parameters != nil {
			return fmt.Errorf("parameters must be empty for url method")
		}
	case MethodParameters:
		if c.ConnectionString != "" {
			return fmt.Errorf("connection string must be empty for parameters method")
		}
		p := c.Parameters
		if p == nil {
			return fmt.Errorf("parameters are required for parameters method")
		}
		if p.Database == "" {
			return fmt.Errorf("database name is required")
		}
		// SQLite connects to a file; host/port/credentials do not apply.
		if c.Type != TypeSQLite {
			if p.Host == "" {
				return fmt.Errorf("host is required")
			}
			if p.Port <= 0 || p.Port > 65535 {
				return fmt.Errorf("port %d is out of range", p.Port)
			}
			if p.Username == "" {
				return fmt.Errorf("username is required")
			}
		}
	default:
		return fmt.Errorf("unknown connection method %q", c.Method)
	}
	return nil
}

// DatabaseName extracts the target database name from the config: the URL
// path tail for the url method, the explicit parameter otherwise.
func (c *ConnectionConfig) DatabaseName() string {
	if c.Method == MethodParameters && c.Parameters != nil {
		return c.Parameters.Database
	}
	if u, err := url.Parse(c.ConnectionString); err == nil && strings.Contains(c.ConnectionString, "://") {
		return strings.TrimPrefix(u.Path, "/")
	}
	// Not URL-shaped (a bare SQLite path or a native DSN): take the tail.
	tail := c.ConnectionString
	if idx := strings.LastIndex(tail, "/"); idx != -1 {
		tail = tail[idx+1:]
	}
	if idx := strings.Index(tail, "?"); idx != -1 {
		tail = tail[:idx]
	}
	return tail
}

// Connection is an opaque, adapter-specific live connection. It is owned by
// exactly one request at a time and must be released with Disconnect by
// whoever acquired it, including on error paths.
type Connection interface {
	Type() DatabaseType
	Closed() bool
}

// TableColumn describes one column of a table (or inferred document field).
type TableColumn struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Nullable  bool   `json:"nullable"`
	IsPrimary bool   `json:"isPrimary"`
}

// TableSchema describes one table's columns in the engine's natural order.
type TableSchema struct {
	TableName string        `json:"tableName"`
	Columns   []TableColumn `json:"columns"`
}

// Row is a single result row: column or field name to a dynamically typed
// value. The shape depends on the target schema, so it is not fixed at
// compile time.
type Row map[string]interface{}

// QueryExecutionResult reports query execution in-band. Execution failures
// are returned as Success=false rather than as a Go error so the caller can
// decide whether to retry with a regenerated query.
type QueryExecutionResult struct {
	Success bool   `json:"success"`
	Data    []Row  `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Connector is the uniform capability interface implemented once per engine.
// Implementations are stateless singletons; all per-connection state lives in
// the Connection values they return. Safe for concurrent use.
type Connector interface {
	// Connect opens a live connection from either the raw connection string
	// or assembled parameters. The underlying driver's message is preserved
	// in the returned error.
	Connect(ctx context.Context, config *ConnectionConfig) (Connection, error)

	// Disconnect releases all resources held by the connection. Callers must
	// call it exactly once; a second call fails.
	Disconnect(ctx context.Context, conn Connection) error

	// ListTables returns the table (or collection) names visible on the
	// connection. An empty list is a valid, non-error outcome.
	ListTables(ctx context.Context, conn Connection) ([]string, error)

	// FetchSchema returns column metadata for the given tables, in the
	// engine's natural column order.
	FetchSchema(ctx context.Context, conn Connection, tables []string) ([]TableSchema, error)

	// ExecuteQuery strips markdown fencing, enforces the read-only statement
	// policy and executes the query as a single statement. Execution errors
	// are reported via the result, not via the error return.
	ExecuteQuery(ctx context.Context, conn Connection, query string) (*QueryExecutionResult, error)

	// Type returns the engine tag this connector serves.
	Type() DatabaseType
}

// DatabaseLister is an optional capability for engines that can enumerate
// the databases visible to the connection.
type DatabaseLister interface {
	ListDatabases(ctx context.Context, conn Connection) ([]string, error)
}

// ConnectorError wraps an adapter operation failure with enough context for
// the caller to act on. The originating driver message is preserved in Cause.
type ConnectorError struct {
	Type      DatabaseType
	Operation string
	Message   string
	Cause     error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Type, e.Operation, e.Message)
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError creates a new ConnectorError.
func NewConnectorError(dbType DatabaseType, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		Type:      dbType,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
