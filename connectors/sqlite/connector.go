// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"sqlpilot/platform/connectors/base"
)

// Connector implements the base.Connector interface for SQLite.
type Connector struct {
	logger *log.Logger
}

// New creates a new SQLite connector instance.
func New() *Connector {
	return &Connector{
		logger: log.New(os.Stdout, "[SQLITE] ", log.LstdFlags),
	}
}

type liteConn struct {
	db     *sql.DB
	path   string
	closed bool
}

func (c *liteConn) Type() base.DatabaseType { return base.TypeSQLite }
func (c *liteConn) Closed() bool            { return c.closed }

// Type returns the engine tag.
func (c *Connector) Type() base.DatabaseType { return base.TypeSQLite }

// Connect opens a SQLite database file (or :memory:).
func (c *Connector) Connect(ctx context.Context, config *base.ConnectionConfig) (base.Connection, error) {
	path := databasePath(config)
	if path == "" {
		return nil, base.NewConnectorError(base.TypeSQLite, "Connect", "database path is required", nil)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, base.NewConnectorError(base.TypeSQLite, "Connect", "failed to open database", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, base.NewConnectorError(base.TypeSQLite, "Connect", "failed to open database file", err)
	}

	c.logger.Printf("Opened SQLite database: %s", base.SanitizeLogString(path))
	return &liteConn{db: db, path: path}, nil
}

// databasePath resolves the file path from either method. The sqlite://
// URL scheme is tolerated on the url method.
func databasePath(config *base.ConnectionConfig) string {
	if config.Method == base.MethodParameters {
		return config.Parameters.Database
	}
	path := config.ConnectionString
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "file://")
	return path
}

// Disconnect closes the database. A second call fails.
func (c *Connector) Disconnect(ctx context.Context, conn base.Connection) error {
	lc, err := c.conn(conn, "Disconnect")
	if err != nil {
		return err
	}

	lc.closed = true
	if err := lc.db.Close(); err != nil {
		return base.NewConnectorError(base.TypeSQLite, "Disconnect", "failed to close database", err)
	}

	c.logger.Printf("Closed SQLite database")
	return nil
}

// ListTables returns user tables from sqlite_master, excluding the engine's
// internal sqlite_* tables.
func (c *Connector) ListTables(ctx context.Context, conn base.Connection) ([]string, error) {
	lc, err := c.conn(conn, "ListTables")
	if err != nil {
		return nil, err
	}

	rows, err := lc.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, base.NewConnectorError(base.TypeSQLite, "ListTables", "introspection query failed", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, base.NewConnectorError(base.TypeSQLite, "ListTables", "failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(base.TypeSQLite, "ListTables", "error during row iteration", err)
	}

	return tables, nil
}

// FetchSchema returns column metadata via PRAGMA table_info. The pragma
// cannot use placeholders, so the table name is quote-escaped inline.
func (c *Connector) FetchSchema(ctx context.Context, conn base.Connection, tables []string) ([]base.TableSchema, error) {
	lc, err := c.conn(conn, "FetchSchema")
	if err != nil {
		return nil, err
	}

	schemas := make([]base.TableSchema, 0, len(tables))
	for _, table := range tables {
		query := fmt.Sprintf("PRAGMA table_info('%s')", strings.ReplaceAll(table, "'", "''"))
		rows, err := lc.db.QueryContext(ctx, query)
		if err != nil {
			return nil, base.NewConnectorError(base.TypeSQLite, "FetchSchema",
				fmt.Sprintf("schema query failed for table %q", table), err)
		}

		columns := make([]base.TableColumn, 0)
		for rows.Next() {
			// PRAGMA table_info returns: cid, name, type, notnull, dflt_value, pk
			var (
				cid, notNull, pk int
				name, colType    string
				dfltValue        sql.NullString
			)
			if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
				_ = rows.Close()
				return nil, base.NewConnectorError(base.TypeSQLite, "FetchSchema", "failed to scan column", err)
			}
			columns = append(columns, base.TableColumn{
				Name:      name,
				Type:      colType,
				Nullable:  notNull == 0,
				IsPrimary: pk > 0,
			})
		}
		iterErr := rows.Err()
		_ = rows.Close()
		if iterErr != nil {
			return nil, base.NewConnectorError(base.TypeSQLite, "FetchSchema", "error during row iteration", iterErr)
		}

		schemas = append(schemas, base.TableSchema{TableName: table, Columns: columns})
	}

	return schemas, nil
}

// ExecuteQuery runs a single read-only statement.
func (c *Connector) ExecuteQuery(ctx context.Context, conn base.Connection, query string) (*base.QueryExecutionResult, error) {
	lc, err := c.conn(conn, "ExecuteQuery")
	if err != nil {
		return nil, err
	}

	cleaned := base.CleanQuery(query)
	if err := base.ValidateReadOnly(cleaned); err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}

	rows, err := lc.db.QueryContext(ctx, cleaned)
	if err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}
	defer func() { _ = rows.Close() }()

	data, err := base.ScanRows(rows)
	if err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}

	c.logger.Printf("Query executed: %d rows", len(data))
	return &base.QueryExecutionResult{Success: true, Data: data}, nil
}

// ListDatabases returns the single attached database's display name: the
// file name without common SQLite extensions.
func (c *Connector) ListDatabases(ctx context.Context, conn base.Connection) ([]string, error) {
	lc, err := c.conn(conn, "ListDatabases")
	if err != nil {
		return nil, err
	}

	path := lc.path
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".db")
	name = strings.TrimSuffix(name, ".sqlite")
	name = strings.TrimSuffix(name, ".sqlite3")
	return []string{name}, nil
}

func (c *Connector) conn(conn base.Connection, op string) (*liteConn, error) {
	lc, ok := conn.(*liteConn)
	if !ok {
		return nil, base.NewConnectorError(base.TypeSQLite, op, "connection is not a SQLite connection", nil)
	}
	if lc.closed {
		return nil, base.NewConnectorError(base.TypeSQLite, op, "connection is closed", base.ErrClosedConnection)
	}
	return lc, nil
}
