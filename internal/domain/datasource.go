// Package domain defines the core interfaces and types for Mediary.
package domain

import (
	"fmt"
	"sync"
)

// Mode selects the storage paradigm a data source speaks.
type Mode string

const (
	// ModeSQL is a relational backend reached through database/sql.
	ModeSQL Mode = "sql"

	// ModeDocument is a document-store backend reached through the thin
	// document driver interface.
	ModeDocument Mode = "document"
)

// DataSource identifies one backend endpoint. Immutable after construction.
type DataSource struct {
	// Name is the registry lookup key.
	Name string

	// Mode selects SQL or document execution for every operation routed here.
	Mode Mode

	// ConnectionRef names the backend connection this source maps to.
	// Several data sources may share one connection.
	ConnectionRef string
}

// DataSourceRegistry is a process-wide, read-mostly map of data sources.
// Populated once at startup, immutable thereafter. Injected rather than
// ambient so tests can construct isolated registries.
type DataSourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]*DataSource
}

// NewDataSourceRegistry creates an empty registry.
func NewDataSourceRegistry() *DataSourceRegistry {
	return &DataSourceRegistry{sources: make(map[string]*DataSource)}
}

// Register adds a data source. Registering a duplicate name is a
// configuration mistake and fails.
func (r *DataSourceRegistry) Register(ds *DataSource) error {
	if ds == nil || ds.Name == "" {
		return fmt.Errorf("%w: data source name is required", ErrDataSourceInvalid)
	}
	if ds.Mode != ModeSQL && ds.Mode != ModeDocument {
		return fmt.Errorf("%w: unsupported mode %q", ErrDataSourceInvalid, ds.Mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[ds.Name]; ok {
		return fmt.Errorf("%w: duplicate data source %q", ErrDataSourceInvalid, ds.Name)
	}
	r.sources[ds.Name] = ds
	return nil
}

// Get returns the data source registered under name, or nil.
func (r *DataSourceRegistry) Get(name string) *DataSource {
	if name == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[name]
}

// Names returns the registered data source names.
func (r *DataSourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}
