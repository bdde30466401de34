// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator coordinates the connect, introspect, generate,
// execute pipeline behind a single entry point.
package orchestrator

import (
	"context"
	"fmt"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/connectors/manager"
	"sqlpilot/platform/shared/logger"
)

// CredentialSource resolves the connection config for the current request.
// The HTTP gateway backs it with the credential cookie; tests back it with a
// literal config.
type CredentialSource interface {
	Load(ctx context.Context) (*base.ConnectionConfig, error)
}

// CredentialFunc adapts a function to the CredentialSource interface.
type CredentialFunc func(ctx context.Context) (*base.ConnectionConfig, error)

func (f CredentialFunc) Load(ctx context.Context) (*base.ConnectionConfig, error) { return f(ctx) }

// RetryFunc observes execution retries. Wired to metrics at the composition
// root.
type RetryFunc func(dbType base.DatabaseType)

// QueryResult is the outcome of a full generate-and-execute run.
type QueryResult struct {
	Query   string     `json:"query"`
	Data    []base.Row `json:"data"`
	Retried bool       `json:"retried"`
}

// Executor runs the end-to-end pipeline. Connections are opened per call and
// always closed before returning, whatever the outcome.
type Executor struct {
	manager   *manager.Manager
	generator *QueryGenerator
	log       *logger.Logger

	// OnRetry, when set, observes execution retries.
	OnRetry RetryFunc
}

// NewExecutor creates an executor over the given manager and generator.
func NewExecutor(m *manager.Manager, g *QueryGenerator, log *logger.Logger) *Executor {
	return &Executor{manager: m, generator: g, log: log}
}

// GenerateAndExecute connects with the resolved credentials, introspects the
// schema, generates a query for the prompt, and executes it. A failed
// execution triggers exactly one regeneration with the engine error folded
// into the prompt. The connection is closed on every path, including
// cancellation.
func (e *Executor) GenerateAndExecute(ctx context.Context, requestID string, creds CredentialSource, prompt string) (*QueryResult, error) {
	config, err := creds.Load(ctx)
	if err != nil {
		return nil, err
	}

	conn, tables, err := e.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	defer e.close(ctx, conn)

	schemas, err := e.manager.GetTableSchema(ctx, conn, tables, true)
	if err != nil {
		return nil, err
	}

	query, err := e.generator.Generate(ctx, requestID, config, schemas, prompt, GenerateOptions{})
	if err != nil {
		return nil, err
	}

	result, err := e.manager.ExecuteQuery(ctx, conn, query)
	if err != nil {
		return nil, err
	}
	if result.Success {
		return &QueryResult{Query: query, Data: result.Data}, nil
	}

	// One repair attempt with the engine error in context.
	e.log.Warn(requestID, "query failed, regenerating with error context", map[string]interface{}{
		"db_type": string(config.Type),
		"error":   base.SanitizeLogString(result.Error),
	})
	if e.OnRetry != nil {
		e.OnRetry(config.Type)
	}

	retryQuery, err := e.generator.Generate(ctx, requestID, config, schemas, prompt, GenerateOptions{
		RefinedContext: true,
		PreviousQuery:  query,
		PreviousError:  result.Error,
	})
	if err != nil {
		return nil, &QueryExecutionError{FirstQuery: query, FirstError: result.Error, RetryError: err.Error()}
	}

	retryResult, err := e.manager.ExecuteQuery(ctx, conn, retryQuery)
	if err != nil {
		return nil, err
	}
	if !retryResult.Success {
		return nil, &QueryExecutionError{
			FirstQuery: query,
			FirstError: result.Error,
			RetryQuery: retryQuery,
			RetryError: retryResult.Error,
		}
	}

	return &QueryResult{Query: retryQuery, Data: retryResult.Data, Retried: true}, nil
}

// ConnectAndListTables verifies the credentials by connecting and listing
// tables. A reachable database with no tables is reported as an error, since
// nothing can be queried in it.
func (e *Executor) ConnectAndListTables(ctx context.Context, config *base.ConnectionConfig) ([]string, error) {
	conn, tables, err := e.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	defer e.close(ctx, conn)

	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables found in database %s", config.DatabaseName())
	}
	return tables, nil
}

// GetSchema connects and returns the schemas of the named tables, or of all
// tables when none are named.
func (e *Executor) GetSchema(ctx context.Context, creds CredentialSource, tables []string) ([]base.TableSchema, error) {
	config, err := creds.Load(ctx)
	if err != nil {
		return nil, err
	}

	conn, allTables, err := e.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	defer e.close(ctx, conn)

	if len(tables) == 0 {
		tables = allTables
	}
	return e.manager.GetTableSchema(ctx, conn, tables, true)
}

// ExecuteSQL runs a caller-supplied query without generation. The connector's
// read-only validation still applies.
func (e *Executor) ExecuteSQL(ctx context.Context, creds CredentialSource, query string) (*base.QueryExecutionResult, error) {
	config, err := creds.Load(ctx)
	if err != nil {
		return nil, err
	}

	conn, _, err := e.connect(ctx, config)
	if err != nil {
		return nil, err
	}
	defer e.close(ctx, conn)

	return e.manager.ExecuteQuery(ctx, conn, query)
}

// ListDatabases enumerates databases visible with the resolved credentials.
func (e *Executor) ListDatabases(ctx context.Context, creds CredentialSource) ([]string, error) {
	config, err := creds.Load(ctx)
	if err != nil {
		return nil, err
	}

	result := e.manager.EstablishConnection(ctx, config)
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, result.Error)
	}
	defer e.close(ctx, result.Connection)

	return e.manager.ListDatabases(ctx, result.Connection)
}

func (e *Executor) connect(ctx context.Context, config *base.ConnectionConfig) (base.Connection, []string, error) {
	result := e.manager.EstablishConnection(ctx, config)
	if !result.Success {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoConnection, result.Error)
	}

	tables, err := e.manager.GetTables(ctx, result.Connection)
	if err != nil {
		e.close(ctx, result.Connection)
		return nil, nil, err
	}
	return result.Connection, tables, nil
}

// close disconnects even when ctx is already canceled, so abandoned requests
// do not leak connections.
func (e *Executor) close(ctx context.Context, conn base.Connection) {
	e.manager.CloseConnection(context.WithoutCancel(ctx), conn)
}
