// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlpilot/platform/connectors/base"
)

func TestGetReturnsAllEngines(t *testing.T) {
	r := New()

	for _, dbType := range []base.DatabaseType{
		base.TypePostgreSQL, base.TypeMySQL, base.TypeMongoDB, base.TypeSQLite,
	} {
		connector, err := r.Get(dbType)
		require.NoError(t, err, "type %s", dbType)
		assert.Equal(t, dbType, connector.Type())
	}
}

func TestGetUnknownType(t *testing.T) {
	r := New()

	_, err := r.Get("oracle")
	require.Error(t, err)
	assert.ErrorIs(t, err, base.ErrUnsupportedType)
	assert.Contains(t, err.Error(), "oracle")
}

func TestRegisterOverrides(t *testing.T) {
	r := New()
	stub := stubConnector{dbType: base.TypePostgreSQL}
	r.Register(base.TypePostgreSQL, stub)

	connector, err := r.Get(base.TypePostgreSQL)
	require.NoError(t, err)
	assert.Equal(t, stub, connector)
}

func TestTypes(t *testing.T) {
	assert.Len(t, New().Types(), 4)
}

type stubConnector struct {
	dbType base.DatabaseType
}

func (s stubConnector) Connect(context.Context, *base.ConnectionConfig) (base.Connection, error) {
	return nil, nil
}
func (s stubConnector) Disconnect(context.Context, base.Connection) error { return nil }
func (s stubConnector) ListTables(context.Context, base.Connection) ([]string, error) {
	return nil, nil
}
func (s stubConnector) FetchSchema(context.Context, base.Connection, []string) ([]base.TableSchema, error) {
	return nil, nil
}
func (s stubConnector) ExecuteQuery(context.Context, base.Connection, string) (*base.QueryExecutionResult, error) {
	return nil, nil
}
func (s stubConnector) Type() base.DatabaseType { return s.dbType }
