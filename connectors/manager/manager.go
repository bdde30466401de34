// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

// Package manager provides the high-level connection and schema facade used
// by the query orchestrator and the HTTP gateway.
package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/connectors/registry"
	"sqlpilot/platform/shared/logger"
)

// DefaultSchemaTTL is how long a fetched schema stays valid in the cache.
const DefaultSchemaTTL = 5 * time.Minute

// CacheEvent describes a schema-cache lookup outcome.
type CacheEvent string

const (
	CacheHit   CacheEvent = "hit"
	CacheMiss  CacheEvent = "miss"
	CacheStale CacheEvent = "stale"
)

// CacheEventFunc is invoked on every schema-cache lookup. Wired to metrics
// at the composition root.
type CacheEventFunc func(dbType base.DatabaseType, event CacheEvent)

// ConnectionResult reports a connection attempt without an error return, so
// callers can surface the outcome as data.
type ConnectionResult struct {
	Success    bool
	Connection base.Connection
	Error      string
}

type cacheEntry struct {
	schemas   []base.TableSchema
	fetchedAt time.Time
}

// Manager coordinates connector lookup, connection lifecycle, and a
// TTL-bounded schema cache shared across requests.
type Manager struct {
	registry *registry.Registry
	log      *logger.Logger
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry

	// OnCacheEvent, when set, observes schema-cache lookups.
	OnCacheEvent CacheEventFunc
}

// New creates a manager with the default schema TTL.
func New(reg *registry.Registry, log *logger.Logger) *Manager {
	return &Manager{
		registry: reg,
		log:      log,
		ttl:      DefaultSchemaTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// NewWithTTL creates a manager with a custom schema TTL.
func NewWithTTL(reg *registry.Registry, log *logger.Logger, ttl time.Duration) *Manager {
	m := New(reg, log)
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

// SetClock overrides the time source. Tests use it to control TTL expiry.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// EstablishConnection validates the config and opens a connection. Failures
// are reported in the result, never as a Go error.
func (m *Manager) EstablishConnection(ctx context.Context, config *base.ConnectionConfig) *ConnectionResult {
	if err := config.Validate(); err != nil {
		return &ConnectionResult{Success: false, Error: err.Error()}
	}

	connector, err := m.registry.Get(config.Type)
	if err != nil {
		return &ConnectionResult{Success: false, Error: err.Error()}
	}

	conn, err := connector.Connect(ctx, config)
	if err != nil {
		m.log.Warn("", "connection attempt failed", map[string]interface{}{
			"db_type": string(config.Type),
			"error":   base.SanitizeLogString(err.Error()),
		})
		return &ConnectionResult{Success: false, Error: err.Error()}
	}

	return &ConnectionResult{Success: true, Connection: conn}
}

// GetTables lists tables (or collections) on an open connection.
func (m *Manager) GetTables(ctx context.Context, conn base.Connection) ([]string, error) {
	connector, err := m.registry.Get(conn.Type())
	if err != nil {
		return nil, err
	}

	tables, err := connector.ListTables(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	return tables, nil
}

// GetTableSchema returns the schemas for the given tables, serving from the
// cache when useCache is set and a fresh entry exists for the same engine
// and table set. A fetch always refreshes the cache.
func (m *Manager) GetTableSchema(ctx context.Context, conn base.Connection, tables []string, useCache bool) ([]base.TableSchema, error) {
	key := cacheKey(conn.Type(), tables)

	if useCache {
		if schemas, ok := m.cached(conn.Type(), key); ok {
			return schemas, nil
		}
	}

	connector, err := m.registry.Get(conn.Type())
	if err != nil {
		return nil, err
	}

	schemas, err := connector.FetchSchema(ctx, conn, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{schemas: copySchemas(schemas), fetchedAt: m.now()}
	m.mu.Unlock()

	return schemas, nil
}

func (m *Manager) cached(dbType base.DatabaseType, key string) ([]base.TableSchema, bool) {
	m.mu.RLock()
	entry, ok := m.cache[key]
	m.mu.RUnlock()

	if !ok {
		m.emit(dbType, CacheMiss)
		return nil, false
	}
	if m.now().Sub(entry.fetchedAt) > m.ttl {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		m.emit(dbType, CacheStale)
		return nil, false
	}

	m.emit(dbType, CacheHit)
	return copySchemas(entry.schemas), true
}

// ClearCache drops cached schemas. An empty engine drops the whole cache;
// with an engine but no tables it drops every entry for that engine; with
// tables it drops entries that mention any of them.
func (m *Manager) ClearCache(dbType base.DatabaseType, tables []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dbType == "" {
		m.cache = make(map[string]cacheEntry)
		return
	}

	prefix := string(dbType) + "-"
	for key := range m.cache {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if len(tables) == 0 {
			delete(m.cache, key)
			continue
		}
		for _, t := range tables {
			if strings.Contains(key, "-"+t) || strings.HasSuffix(key, t) {
				delete(m.cache, key)
				break
			}
		}
	}
}

// CloseConnection disconnects, logging failures instead of returning them.
// Cleanup paths call this and must not fail.
func (m *Manager) CloseConnection(ctx context.Context, conn base.Connection) {
	if conn == nil || conn.Closed() {
		return
	}

	connector, err := m.registry.Get(conn.Type())
	if err != nil {
		m.log.Error("", "cannot close connection", map[string]interface{}{"error": err.Error()})
		return
	}

	if err := connector.Disconnect(ctx, conn); err != nil {
		m.log.Warn("", "failed to close connection", map[string]interface{}{
			"db_type": string(conn.Type()),
			"error":   base.SanitizeLogString(err.Error()),
		})
	}
}

// ExecuteQuery runs a read-only query on an open connection.
func (m *Manager) ExecuteQuery(ctx context.Context, conn base.Connection, query string) (*base.QueryExecutionResult, error) {
	connector, err := m.registry.Get(conn.Type())
	if err != nil {
		return nil, err
	}
	return connector.ExecuteQuery(ctx, conn, query)
}

// ListDatabases enumerates databases when the engine supports it.
func (m *Manager) ListDatabases(ctx context.Context, conn base.Connection) ([]string, error) {
	connector, err := m.registry.Get(conn.Type())
	if err != nil {
		return nil, err
	}

	lister, ok := connector.(base.DatabaseLister)
	if !ok {
		return nil, fmt.Errorf("database listing is not supported for %s", conn.Type())
	}
	return lister.ListDatabases(ctx, conn)
}

func (m *Manager) emit(dbType base.DatabaseType, event CacheEvent) {
	if m.OnCacheEvent != nil {
		m.OnCacheEvent(dbType, event)
	}
}

// cacheKey builds a deterministic key from the engine and the sorted table
// set, so table order does not fragment the cache.
func cacheKey(dbType base.DatabaseType, tables []string) string {
	sorted := make([]string, len(tables))
	copy(sorted, tables)
	sort.Strings(sorted)
	return string(dbType) + "-" + strings.Join(sorted, "-")
}

// copySchemas deep-copies cached schemas so callers cannot mutate the cache.
func copySchemas(in []base.TableSchema) []base.TableSchema {
	out := make([]base.TableSchema, len(in))
	for i, s := range in {
		columns := make([]base.TableColumn, len(s.Columns))
		copy(columns, s.Columns)
		out[i] = base.TableSchema{TableName: s.TableName, Columns: columns}
	}
	return out
}
