// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"sqlpilot/platform/connectors/base"
)

// Connector implements the base.Connector interface for MySQL.
type Connector struct {
	logger *log.Logger
}

// New creates a new MySQL connector instance.
func New() *Connector {
	return &Connector{
		logger: log.New(os.Stdout, "[MYSQL] ", log.LstdFlags),
	}
}

type myConn struct {
	db     *sql.DB
	closed bool
}

func (c *myConn) Type() base.DatabaseType { return base.TypeMySQL }
func (c *myConn) Closed() bool            { return c.closed }

// Type returns the engine tag.
func (c *Connector) Type() base.DatabaseType { return base.TypeMySQL }

// Connect opens and pings a MySQL connection.
func (c *Connector) Connect(ctx context.Context, config *base.ConnectionConfig) (base.Connection, error) {
	dsn, err := buildDSN(config)
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMySQL, "Connect", "failed to build DSN", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMySQL, "Connect", "failed to open connection", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, base.NewConnectorError(base.TypeMySQL, "Connect", "failed to ping database", err)
	}

	c.logger.Printf("Connected to MySQL: %s", base.SanitizeLogString(config.DatabaseName()))
	return &myConn{db: db}, nil
}

// buildDSN assembles a go-sql-driver DSN. URL-method strings may arrive
// either as native DSNs (user:pass@tcp(host:port)/db) or as mysql:// URLs;
// both are accepted.
func buildDSN(config *base.ConnectionConfig) (string, error) {
	if config.Method == base.MethodParameters {
		p := config.Parameters
		cfg := gomysql.NewConfig()
		cfg.User = p.Username
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%d", p.Host, p.Port)
		cfg.DBName = p.Database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	}

	raw := config.ConnectionString
	if !strings.Contains(raw, "://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	cfg := gomysql.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Disconnect closes the database connection. A second call fails.
func (c *Connector) Disconnect(ctx context.Context, conn base.Connection) error {
	mc, err := c.conn(conn, "Disconnect")
	if err != nil {
		return err
	}

	mc.closed = true
	if err := mc.db.Close(); err != nil {
		return base.NewConnectorError(base.TypeMySQL, "Disconnect", "failed to close connection", err)
	}

	c.logger.Printf("Disconnected from MySQL")
	return nil
}

// ListTables returns all table names in the connected database.
func (c *Connector) ListTables(ctx context.Context, conn base.Connection) ([]string, error) {
	mc, err := c.conn(conn, "ListTables")
	if err != nil {
		return nil, err
	}

	rows, err := mc.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMySQL, "ListTables", "introspection query failed", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, base.NewConnectorError(base.TypeMySQL, "ListTables", "failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(base.TypeMySQL, "ListTables", "error during row iteration", err)
	}

	return tables, nil
}

const schemaQuery = `
SELECT column_name, data_type, is_nullable, column_key
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`

// FetchSchema returns column metadata for the given tables. Primary-key
// membership comes from information_schema's column_key marker.
func (c *Connector) FetchSchema(ctx context.Context, conn base.Connection, tables []string) ([]base.TableSchema, error) {
	mc, err := c.conn(conn, "FetchSchema")
	if err != nil {
		return nil, err
	}

	schemas := make([]base.TableSchema, 0, len(tables))
	for _, table := range tables {
		rows, err := mc.db.QueryContext(ctx, schemaQuery, table)
		if err != nil {
			return nil, base.NewConnectorError(base.TypeMySQL, "FetchSchema",
				fmt.Sprintf("schema query failed for table %q", table), err)
		}

		columns := make([]base.TableColumn, 0)
		for rows.Next() {
			var name, dataType, nullable, columnKey string
			if err := rows.Scan(&name, &dataType, &nullable, &columnKey); err != nil {
				_ = rows.Close()
				return nil, base.NewConnectorError(base.TypeMySQL, "FetchSchema", "failed to scan column", err)
			}
			columns = append(columns, base.TableColumn{
				Name:      name,
				Type:      dataType,
				Nullable:  nullable == "YES",
				IsPrimary: columnKey == "PRI",
			})
		}
		iterErr := rows.Err()
		_ = rows.Close()
		if iterErr != nil {
			return nil, base.NewConnectorError(base.TypeMySQL, "FetchSchema", "error during row iteration", iterErr)
		}

		schemas = append(schemas, base.TableSchema{TableName: table, Columns: columns})
	}

	return schemas, nil
}

// ExecuteQuery runs a single read-only statement.
func (c *Connector) ExecuteQuery(ctx context.Context, conn base.Connection, query string) (*base.QueryExecutionResult, error) {
	mc, err := c.conn(conn, "ExecuteQuery")
	if err != nil {
		return nil, err
	}

	cleaned := base.CleanQuery(query)
	if err := base.ValidateReadOnly(cleaned); err != nil {
		return &base.QueryExecutionResult{Success: false, Error: err.Error()}, nil
	}

	rows, err := mc.db.QueryContext(ctx, cleaned)
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

// ListDatabases returns all databases visible to the connected user.
func (c *Connector) ListDatabases(ctx context.Context, conn base.Connection) ([]string, error) {
	mc, err := c.conn(conn, "ListDatabases")
	if err != nil {
		return nil, err
	}

	rows, err := mc.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, base.NewConnectorError(base.TypeMySQL, "ListDatabases", "introspection query failed", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, base.NewConnectorError(base.TypeMySQL, "ListDatabases", "failed to scan database name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(base.TypeMySQL, "ListDatabases", "error during row iteration", err)
	}

	return names, nil
}

func (c *Connector) conn(conn base.Connection, op string) (*myConn, error) {
	mc, ok := conn.(*myConn)
	if !ok {
		return nil, base.NewConnectorError(base.TypeMySQL, op, "connection is not a MySQL connection", nil)
	}
	if mc.closed {
		return nil, base.NewConnectorError(base.TypeMySQL, op, "connection is closed", base.ErrClosedConnection)
	}
	return mc, nil
}
