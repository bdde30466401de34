// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"sqlpilot/platform/connectors/base"
)

// Connector implements the base.Connector interface for PostgreSQL.
type Connector struct {
	logger *log.Logger
}

// New creates a new PostgreSQL connector instance.
func New() *Connector {
	return &Connector{
		logger: log.New(os.Stdout, "[POSTGRES] ", log.LstdFlags),
	}
}

type pgConn struct {
	db     *sql.DB
	closed bool
}

func (c *pgConn) Type() base.DatabaseType { return base.TypePostgreSQL }
func (c *pgConn) Closed() bool            { return c.closed }

// Type returns the engine tag.
func (c *Connector) Type() base.DatabaseType { return base.TypePostgreSQL }

// Connect opens and pings a PostgreSQL connection.
func (c *Connector) Connect(ctx context.Context, config *base.ConnectionConfig) (base.Connection, error) {
	dsn := buildDSN(config)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, base.NewConnectorError(base.TypePostgreSQL, "Connect", "failed to open connection", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, base.NewConnectorError(base.TypePostgreSQL, "Connect", "failed to ping database", err)
	}

	c.logger.Printf("Connected to PostgreSQL: %s", base.SanitizeLogString(config.DatabaseName()))
	return &pgConn{db: db}, nil
}

// buildDSN assembles a lib/pq connection string from either method.
func buildDSN(config *base.ConnectionConfig) string {
	if config.Method == base.MethodURL {
		return config.ConnectionString
	}
	p := config.Parameters
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		p.Host, p.Port, p.Username, p.Password, p.Database)
}

// Disconnect closes the database connection. A second call fails.
func (c *Connector) Disconnect(ctx context.Context, conn base.Connection) error {
	pc, err := c.conn(conn, "Disconnect")
	if err != nil {
		return err
	}

	pc.closed = true
	if err := pc.db.Close(); err != nil {
		return base.NewConnectorError(base.TypePostgreSQL, "Disconnect", "failed to close connection", err)
	}

	c.logger.Printf("Disconnected from PostgreSQL")
	return nil
}

// ListTables returns all table names in the public schema.
func (c *Connector) ListTables(ctx context.Context, conn base.Connection) ([]string, error) {
	pc, err := c.conn(conn, "ListTables")
	if err != nil {
		return nil, err
	}

	rows, err := pc.db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'")
	if err != nil {
		return nil, base.NewConnectorError(base.TypePostgreSQL, "ListTables", "introspection query failed", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, base.NewConnectorError(base.TypePostgreSQL, "ListTables", "failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(base.TypePostgreSQL, "ListTables", "error during row iteration", err)
	}

	return tables, nil
}

// schemaQuery joins column metadata with the primary-key constraint for one
// table, ordered by the column's ordinal position.
const schemaQuery = `
SELECT
  c.column_name,
  c.data_type,
  c.is_nullable,
  (
    SELECT TRUE
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage ku
      ON tc.constraint_name = ku.constraint_name
    WHERE tc.constraint_type = 'PRIMARY KEY'
      AND tc.table_name = c.table_name
      AND ku.column_name = c.column_name
  ) AS is_primary
FROM information_schema.columns c
WHERE c.table_name = $1
  AND c.table_schema = 'public'
ORDER BY c.ordinal_position`

// FetchSchema returns column metadata for the given tables.
func (c *Connector) FetchSchema(ctx context.Context, conn base.Connection, tables []string) ([]base.TableSchema, error) {
	pc, err := c.conn(conn, "FetchSchema")
	if err != nil {
		return nil, err
	}

	schemas := make([]base.TableSchema, 0, len(tables))
	for _, table := range tables {
		columns, err := c.fetchColumns(ctx, pc.db, table)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, base.TableSchema{TableName: table, Columns: columns})
	}

	return schemas, nil
}

func (c *Connector) fetchColumns(ctx context.Context, db *sql.DB, table string) ([]base.TableColumn, error) {
	rows, err := db.QueryContext(ctx, schemaQuery, table)
	if err != nil {
		return nil, base.NewConnectorError(base.TypePostgreSQL, "FetchSchema",
			fmt.Sprintf("schema query failed for table %q", table), err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]base.TableColumn, 0)
	for rows.Next() {
		var (
			name, dataType, nullable string
			isPrimary                sql.NullBool
		)
		if err := rows.Scan(&name, &dataType, &nullable, &isPrimary); err != nil {
			return nil, base.NewConnectorError(base.TypePostgreSQL, "FetchSchema", "failed to scan column", err)
		}
		columns = append(columns, base.TableColumn{
			Name:      name,
			Type:      dataType,
			Nullable:  nullable == "YES",
			IsPrimary: isPrimary.Valid && isPrimary.Bool,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(base.TypePostgreSQL, "FetchSchema", "error during row iteration", err)
	}

	return columns, nil
}

// ExecuteQuery runs a single read-only statement. Execution errors come back
// in the result so the caller can retry with a regenerated query.
func (c *Connector) ExecuteQuery(ctx context.Context, conn base.Connection, query string) (*base.QueryExecutionResult, error) {
	pc, err := c.conn(conn, "ExecuteQuery")
	if err != nil {
		return nil, err
	}

	cleaned := base.CleanQuery(query)
	if err := base.ValidateReadOnly(cleaned); err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}

	rows, err := pc.db.QueryContext(ctx, cleaned)
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

// ListDatabases returns all non-template databases on the server.
func (c *Connector) ListDatabases(ctx context.Context, conn base.Connection) ([]string, error) {
	pc, err := c.conn(conn, "ListDatabases")
	if err != nil {
		return nil, err
	}

	rows, err := pc.db.QueryContext(ctx, "SELECT datname FROM pg_database WHERE datistemplate = false")
	if err != nil {
		return nil, base.NewConnectorError(base.TypePostgreSQL, "ListDatabases", "introspection query failed", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, base.NewConnectorError(base.TypePostgreSQL, "ListDatabases", "failed to scan database name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(base.TypePostgreSQL, "ListDatabases", "error during row iteration", err)
	}

	return names, nil
}

// conn narrows a base.Connection to this engine's connection and rejects
// closed or foreign connections.
func (c *Connector) conn(conn base.Connection, op string) (*pgConn, error) {
	pc, ok := conn.(*pgConn)
	if !ok {
		return nil, base.NewConnectorError(base.TypePostgreSQL, op, "connection is not a PostgreSQL connection", nil)
	}
	if pc.closed {
		return nil, base.NewConnectorError(base.TypePostgreSQL, op, "connection is closed", base.ErrClosedConnection)
	}
	return pc, nil
}
