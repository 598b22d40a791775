package display

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the set of configured displays: a cache over a Repository
// that enforces MAC uniqueness and option ranges before anything is stored.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// the CRUD methods. All public methods are thread-safe.
type Registry struct {
	repo     Repository
	defaults Options

	cache   map[string]*Display // by ID
	cacheMu sync.RWMutex

	logger Logger
}

// NewRegistry creates a display registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		defaults: DefaultOptions(),
		cache:    make(map[string]*Display),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetDefaults sets the options applied to new displays that leave fields zero.
func (r *Registry) SetDefaults(defaults Options) {
	r.defaults = defaults.WithDefaults(DefaultOptions())
}

// RefreshCache reloads all displays from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	displays, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading displays: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Display, len(displays))
	for i := range displays {
		r.cache[displays[i].ID] = displays[i].Clone()
	}

	r.logger.Info("display cache refreshed", "count", len(displays))
	return nil
}

// Create validates and persists a new display.
//
// The MAC address is normalised in place, a missing name is derived from
// the MAC, and zero options take the registry defaults. A MAC that is
// already configured is rejected with ErrDuplicateMAC.
func (r *Registry) Create(ctx context.Context, d *Display) error {
	mac, err := NormalizeMAC(d.MACAddress)
	if err != nil {
		return err
	}
	d.MACAddress = mac

	if strings.TrimSpace(d.Name) == "" {
		d.Name = DefaultName(mac)
	}
	d.Options = d.Options.WithDefaults(r.defaults)
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Source == "" {
		d.Source = SourceAPI
	}

	if err := ValidateDisplay(d); err != nil {
		return err
	}

	if _, err := r.GetByMAC(ctx, mac); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateMAC, mac)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := r.repo.Create(ctx, d); err != nil {
		if errors.Is(err, ErrDuplicateMAC) {
			return fmt.Errorf("%w: %s", ErrDuplicateMAC, mac)
		}
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.Clone()
	r.cacheMu.Unlock()

	r.logger.Info("display created", "id", d.ID, "name", d.Name, "mac_address", d.MACAddress)
	return nil
}

// Update persists a changed name and options. The MAC address cannot change.
func (r *Registry) Update(ctx context.Context, d *Display) error {
	existing, err := r.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	d.MACAddress = existing.MACAddress
	d.Source = existing.Source
	d.CreatedAt = existing.CreatedAt

	if err := ValidateDisplay(d); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.Clone()
	r.cacheMu.Unlock()

	r.logger.Info("display updated", "id", d.ID, "name", d.Name)
	return nil
}

// Delete removes a display and its saved state.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("display deleted", "id", id)
	return nil
}

// Get retrieves a display by ID. The returned value is a copy.
func (r *Registry) Get(ctx context.Context, id string) (*Display, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = d.Clone()
	r.cacheMu.Unlock()

	return d, nil
}

// GetByMAC retrieves a display by MAC address in any accepted notation.
func (r *Registry) GetByMAC(ctx context.Context, mac string) (*Display, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	r.cacheMu.RLock()
	for _, d := range r.cache {
		if d.MACAddress == normalized {
			r.cacheMu.RUnlock()
			return d.Clone(), nil
		}
	}
	r.cacheMu.RUnlock()

	return r.repo.GetByMAC(ctx, normalized)
}

// List returns all displays ordered by name.
func (r *Registry) List(ctx context.Context) ([]Display, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}
	displays := make([]Display, 0, len(r.cache))
	for _, d := range r.cache {
		displays = append(displays, *d.Clone())
	}
	r.cacheMu.RUnlock()

	sort.Slice(displays, func(i, j int) bool {
		if displays[i].Name == displays[j].Name {
			return displays[i].ID < displays[j].ID
		}
		return displays[i].Name < displays[j].Name
	})
	return displays, nil
}

// IsConfigured reports whether a MAC address already belongs to a display.
func (r *Registry) IsConfigured(ctx context.Context, mac string) bool {
	_, err := r.GetByMAC(ctx, mac)
	return err == nil
}

// Count returns the number of cached displays.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// SaveState stores the latest state snapshot for a display.
func (r *Registry) SaveState(ctx context.Context, id string, s StoredState) error {
	if err := r.repo.SaveState(ctx, id, s); err != nil {
		return err
	}
	r.logger.Debug("display state saved", "id", id)
	return nil
}

// LoadState returns the last saved snapshot for a display.
func (r *Registry) LoadState(ctx context.Context, id string) (*StoredState, error) {
	return r.repo.LoadState(ctx, id)
}
