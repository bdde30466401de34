// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

// Package registry maps database types to their connector implementations.
package registry

import (
	"fmt"
	"sync"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/connectors/mongodb"
	"sqlpilot/platform/connectors/mysql"
	"sqlpilot/platform/connectors/postgres"
	"sqlpilot/platform/connectors/sqlite"
)

// Registry resolves a DatabaseType to a shared Connector instance.
// Connectors are stateless factories, so one instance per engine is enough.
type Registry struct {
	mu         sync.RWMutex
	connectors map[base.DatabaseType]base.Connector
}

// New returns a registry populated with all supported engines.
func New() *Registry {
	return &Registry{
		connectors: map[base.DatabaseType]base.Connector{
			base.TypePostgreSQL: postgres.New(),
			base.TypeMySQL:      mysql.New(),
			base.TypeMongoDB:    mongodb.New(),
			base.TypeSQLite:     sqlite.New(),
		},
	}
}

// Get returns the connector for the given type, or an error wrapping
// base.ErrUnsupportedType when the engine is unknown.
func (r *Registry) Get(dbType base.DatabaseType) (base.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connector, ok := r.connectors[dbType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", base.ErrUnsupportedType, dbType)
	}
	return connector, nil
}

// Register installs or replaces the connector for a type. Used to swap in
// test doubles and to tune engine options at composition time.
func (r *Registry) Register(dbType base.DatabaseType, connector base.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[dbType] = connector
}

// Types returns the registered database types.
func (r *Registry) Types() []base.DatabaseType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]base.DatabaseType, 0, len(r.connectors))
	for t := range r.connectors {
		types = append(types, t)
	}
	return types
}
