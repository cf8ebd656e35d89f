package config

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Resolver merges platform defaults with per-tenant overrides and caches the
// resolved view in process. A single writer (the admin write path) mutates
// tenant overrides and calls [Resolver.Invalidate]; readers revalidate on the
// next access. Resolution fails closed: on source error the platform
// defaults are returned and the AlertFn hook fires.
type Resolver struct {
	defaults Resolved
	source   Source

	// AlertFn is called when resolution falls back to defaults because the
	// source errored. Optional; used by the pipeline to emit a
	// CONFIG_RESOLVE_FAILED journal event.
	AlertFn func(tenantID string, err error)

	mu    sync.RWMutex
	cache map[string]Resolved

	group singleflight.Group
}

// NewResolver creates a Resolver over the given defaults and tenant source.
// A nil source means every tenant resolves to the defaults.
func NewResolver(defaults Resolved, source Source) *Resolver {
	return &Resolver{
		defaults: defaults,
		source:   source,
		cache:    make(map[string]Resolved),
	}
}

// Resolve returns the resolved configuration for tenantID. The result is a
// cached immutable snapshot; callers must not mutate it. Resolve never
// returns an error — on source failure it returns the platform defaults.
func (r *Resolver) Resolve(tenantID string) Resolved {
	r.mu.RLock()
	if cfg, ok := r.cache[tenantID]; ok {
		r.mu.RUnlock()
		return cfg
	}
	r.mu.RUnlock()

	// Collapse concurrent misses for the same tenant into one source read.
	v, _, _ := r.group.Do(tenantID, func() (any, error) {
		cfg := r.resolveUncached(tenantID)
		r.mu.Lock()
		r.cache[tenantID] = cfg
		r.mu.Unlock()
		return cfg, nil
	})
	return v.(Resolved)
}

func (r *Resolver) resolveUncached(tenantID string) Resolved {
	if r.source == nil {
		return Merge(r.defaults, nil)
	}
	o, err := r.source.Overrides(tenantID)
	if err != nil {
		slog.Warn("config: tenant resolution failed, falling back to platform defaults",
			"tenant_id", tenantID, "err", err)
		if r.AlertFn != nil {
			r.AlertFn(tenantID, err)
		}
		return Merge(r.defaults, nil)
	}
	return Merge(r.defaults, o)
}

// Invalidate drops the cached view for tenantID. The admin write path must
// call this after every override edit.
func (r *Resolver) Invalidate(tenantID string) {
	r.mu.Lock()
	delete(r.cache, tenantID)
	r.mu.Unlock()
	r.group.Forget(tenantID)
}

// InvalidateAll drops every cached tenant view. Used when platform defaults
// themselves are reloaded.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]Resolved)
	r.mu.Unlock()
}
