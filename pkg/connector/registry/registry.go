package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/finlake/pkg/connector/core"
	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/ajitpratap0/finlake/pkg/logger"
	"go.uber.org/zap"
)

// Registry manages source connector registration and instantiation
type Registry struct {
	sources map[string]SourceFactory
	info    map[string]*ConnectorInfo
	mu      sync.RWMutex
	logger  *zap.Logger
}

// SourceFactory creates a source connector from its per-run dependencies.
type SourceFactory func(deps core.Deps) (core.Source, error)

// ConnectorInfo provides information about a connector
type ConnectorInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Website     string         `json:"website"`
	Credentials []string       `json:"credentials,omitempty"`
	Datasets    []core.Dataset `json:"datasets"`
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		info:    make(map[string]*ConnectorInfo),
		logger:  logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source connector factory
func (r *Registry) RegisterSource(name string, factory SourceFactory, info *ConnectorInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
	}

	r.sources[name] = factory
	if info != nil {
		r.info[name] = info
	}
	r.logger.Debug("source connector registered", zap.String("name", name))
	return nil
}

// CreateSource creates a source connector instance
func (r *Registry) CreateSource(name string, deps core.Deps) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", name))
	}
	if err := deps.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid dependencies for %s", name))
	}

	source, err := factory(deps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source connector %s", name))
	}

	return source, nil
}

// ListSources returns registered source names in sorted order
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.sources))
	for name := range r.sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

// HasSource checks if a source connector is registered
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[name]
	return exists
}

// Info returns connector information
func (r *Registry) Info(name string) (*ConnectorInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.info[name]
	if !exists {
		return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("connector %s not found in catalog", name))
	}
	return info, nil
}

// Clear removes all registered connectors (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = make(map[string]SourceFactory)
	r.info = make(map[string]*ConnectorInfo)
}

// Global registry functions

// RegisterSource registers a source connector in the global registry
func RegisterSource(name string, factory SourceFactory, info *ConnectorInfo) error {
	return globalRegistry.RegisterSource(name, factory, info)
}

// CreateSource creates a source connector from the global registry
func CreateSource(name string, deps core.Deps) (core.Source, error) {
	return globalRegistry.CreateSource(name, deps)
}

// ListSources returns registered sources from the global registry
func ListSources() []string {
	return globalRegistry.ListSources()
}

// HasSource checks if a source is registered in the global registry
func HasSource(name string) bool {
	return globalRegistry.HasSource(name)
}

// GetConnectorInfo retrieves connector information from the global registry
func GetConnectorInfo(name string) (*ConnectorInfo, error) {
	return globalRegistry.Info(name)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
