// Package registry maps configured handler names to constructor functions.
// The mapping is populated explicitly at start-up — adding a handler means
// registering its factory under a name — and is read-only during a run, so
// "which handlers exist" never depends on reflection or import side effects.
package registry

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redgreat/orderhisclean/pkg/batch"
	"github.com/redgreat/orderhisclean/pkg/config"
)

var (
	// ErrDuplicateName is returned when two factories claim the same name.
	ErrDuplicateName = errors.New("registry: handler name already registered")

	// ErrEmptyName is returned when a factory is registered without a name.
	ErrEmptyName = errors.New("registry: handler name is required")
)

// Deps carries the shared resources every handler factory may draw on.
// Target is nil unless a target database is configured.
type Deps struct {
	Source *pgxpool.Pool
	Target *pgxpool.Pool
	Logger *slog.Logger
}

// Entry is a constructed handler together with the cut-off time its factory
// resolved (from config, or the handler's own default).
type Entry struct {
	Handler batch.Handler
	CutOff  batch.CutOff
}

// Factory builds one handler instance from its configuration section.
// Factories validate their config and fail with a configuration error rather
// than producing a handler that cannot run.
type Factory func(deps Deps, cfg config.Handler) (Entry, error)

// Registry is a mutex-guarded name → factory map.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return ErrDuplicateName
	}
	r.factories[name] = f
	return nil
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns all registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
