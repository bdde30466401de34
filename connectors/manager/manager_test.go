// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/connectors/registry"
	"sqlpilot/platform/shared/logger"
)

const testType base.DatabaseType = "faketest"

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Type() base.DatabaseType { return testType }
func (c *fakeConn) Closed() bool            { return c.closed }

type fakeConnector struct {
	connectErr   error
	tables       []string
	schemas      []base.TableSchema
	fetchCalls   int
	disconnected int
	execResult   *base.QueryExecutionResult
}

func (f *fakeConnector) Connect(ctx context.Context, config *base.ConnectionConfig) (base.Connection, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeConn{}, nil
}

func (f *fakeConnector) Disconnect(ctx context.Context, conn base.Connection) error {
	f.disconnected++
	conn.(*fakeConn).closed = true
	return nil
}

func (f *fakeConnector) ListTables(ctx context.Context, conn base.Connection) ([]string, error) {
	return f.tables, nil
}

func (f *fakeConnector) FetchSchema(ctx context.Context, conn base.Connection, tables []string) ([]base.TableSchema, error) {
	f.fetchCalls++
	return f.schemas, nil
}

func (f *fakeConnector) ExecuteQuery(ctx context.Context, conn base.Connection, query string) (*base.QueryExecutionResult, error) {
	return f.execResult, nil
}

func (f *fakeConnector) Type() base.DatabaseType { return testType }

func newTestManager(t *testing.T, fake *fakeConnector) *Manager {
	t.Helper()

	reg := registry.New()
	reg.Register(testType, fake)
	return New(reg, logger.New("manager-test"))
}

func testConfig() *base.ConnectionConfig {
	return &base.ConnectionConfig{
		Type:             testType,
		Method:           base.MethodURL,
		ConnectionString: "fake://localhost/db",
	}
}

func TestEstablishConnection(t *testing.T) {
	fake := &fakeConnector{}
	m := newTestManager(t, fake)

	result := m.EstablishConnection(context.Background(), testConfig())
	require.True(t, result.Success, result.Error)
	require.NotNil(t, result.Connection)
}

func TestEstablishConnectionReportsFailureAsData(t *testing.T) {
	fake := &fakeConnector{connectErr: errors.New("connection refused")}
	m := newTestManager(t, fake)

	result := m.EstablishConnection(context.Background(), testConfig())
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "connection refused")
	assert.Nil(t, result.Connection)
}

func TestEstablishConnectionRejectsInvalidConfig(t *testing.T) {
	m := newTestManager(t, &fakeConnector{})

	result := m.EstablishConnection(context.Background(), &base.ConnectionConfig{
		Type:   testType,
		Method: base.MethodURL,
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "connection string is required")
}

func TestEstablishConnectionUnknownEngine(t *testing.T) {
	m := New(registry.New(), logger.New("manager-test"))

	result := m.EstablishConnection(context.Background(), &base.ConnectionConfig{
		Type:             "oracle",
		Method:           base.MethodURL,
		ConnectionString: "oracle://x/y",
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported database type")
}

func TestSchemaCaching(t *testing.T) {
	schemas := []base.TableSchema{{
		TableName: "users",
		Columns:   []base.TableColumn{{Name: "id", Type: "integer", IsPrimary: true}},
	}}
	fake := &fakeConnector{schemas: schemas}
	m := newTestManager(t, fake)

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	var events []CacheEvent
	m.OnCacheEvent = func(_ base.DatabaseType, e CacheEvent) { events = append(events, e) }

	conn := &fakeConn{}

	// First fetch hits the connector, the second is served from cache.
	_, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.fetchCalls)

	// Table order does not fragment the cache.
	_, err = m.GetTableSchema(context.Background(), conn, []string{"users", "orders"}, true)
	require.NoError(t, err)
	_, err = m.GetTableSchema(context.Background(), conn, []string{"orders", "users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fetchCalls)

	// Past the TTL the entry is stale and refetched.
	now = now.Add(DefaultSchemaTTL + time.Second)
	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.fetchCalls)

	assert.Equal(t, []CacheEvent{CacheMiss, CacheHit, CacheMiss, CacheHit, CacheStale}, events)
}

func TestSchemaCacheReturnsCopies(t *testing.T) {
	fake := &fakeConnector{schemas: []base.TableSchema{{
		TableName: "users",
		Columns:   []base.TableColumn{{Name: "id"}},
	}}}
	m := newTestManager(t, fake)
	conn := &fakeConn{}

	first, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	first[0].Columns[0].Name = "mutated"

	second, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, "id", second[0].Columns[0].Name)
}

func TestNewWithTTL(t *testing.T) {
	fake := &fakeConnector{schemas: []base.TableSchema{{TableName: "users"}}}
	reg := registry.New()
	reg.Register(testType, fake)
	m := NewWithTTL(reg, logger.New("manager-test"), time.Minute)

	now := time.Now()
	m.SetClock(func() time.Time { return now })
	conn := &fakeConn{}

	_, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.fetchCalls)

	// The custom TTL, not the default, governs expiry.
	now = now.Add(2 * time.Minute)
	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fetchCalls)
}

func TestGetTableSchemaBypassesCache(t *testing.T) {
	fake := &fakeConnector{schemas: []base.TableSchema{{TableName: "users"}}}
	m := newTestManager(t, fake)
	conn := &fakeConn{}

	_, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)

	// useCache off forces a fetch even with a fresh entry present.
	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fetchCalls)

	// The forced fetch refreshed the entry, so cached reads still work.
	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fetchCalls)
}

func TestClearCacheAllEngines(t *testing.T) {
	fake := &fakeConnector{schemas: []base.TableSchema{{TableName: "users"}}}
	m := newTestManager(t, fake)
	conn := &fakeConn{}

	_, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)

	m.ClearCache("", nil)

	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fetchCalls)
}

func TestClearCache(t *testing.T) {
	fake := &fakeConnector{schemas: []base.TableSchema{{TableName: "users"}}}
	m := newTestManager(t, fake)
	conn := &fakeConn{}

	_, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)

	m.ClearCache(testType, nil)

	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fetchCalls)
}

func TestClearCacheByTable(t *testing.T) {
	fake := &fakeConnector{schemas: []base.TableSchema{{TableName: "users"}}}
	m := newTestManager(t, fake)
	conn := &fakeConn{}

	_, err := m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	_, err = m.GetTableSchema(context.Background(), conn, []string{"orders"}, true)
	require.NoError(t, err)
	require.Equal(t, 2, fake.fetchCalls)

	m.ClearCache(testType, []string{"users"})

	_, err = m.GetTableSchema(context.Background(), conn, []string{"orders"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, fake.fetchCalls, "orders entry must survive")

	_, err = m.GetTableSchema(context.Background(), conn, []string{"users"}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.fetchCalls, "users entry must be gone")
}

func TestCloseConnection(t *testing.T) {
	fake := &fakeConnector{}
	m := newTestManager(t, fake)

	conn := &fakeConn{}
	m.CloseConnection(context.Background(), conn)
	assert.Equal(t, 1, fake.disconnected)

	// Closing again is a no-op, not a second disconnect.
	m.CloseConnection(context.Background(), conn)
	assert.Equal(t, 1, fake.disconnected)

	m.CloseConnection(context.Background(), nil)
	assert.Equal(t, 1, fake.disconnected)
}

func TestExecuteQuery(t *testing.T) {
	fake := &fakeConnector{execResult: &base.QueryExecutionResult{
		Success: true,
		Data:    []base.Row{{"n": int64(1)}},
	}}
	m := newTestManager(t, fake)

	result, err := m.ExecuteQuery(context.Background(), &fakeConn{}, "SELECT 1")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestListDatabasesUnsupported(t *testing.T) {
	m := newTestManager(t, &fakeConnector{})

	_, err := m.ListDatabases(context.Background(), &fakeConn{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}
