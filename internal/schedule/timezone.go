package schedule

import (
	"fmt"
	"sync"
	"time"
)

// Resolver validates IANA time-zone identifiers against the host zone
// database and caches loaded locations. The cache is a memoized pure
// lookup: populated lazily, safe for concurrent use, never torn down.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]*time.Location
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*time.Location)}
}

// Load returns the location for an IANA zone id, or an error when the host
// zone database does not know it. Use this for validation at the admin
// surface, where a bad zone must be rejected rather than papered over.
func (r *Resolver) Load(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("empty time zone")
	}

	r.mu.RLock()
	loc, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = loc
	r.mu.Unlock()

	return loc, nil
}

// Resolve returns the effective location for a job, falling back through
// the owning project's zone to UTC when an id is missing or unknown.
func (r *Resolver) Resolve(jobZone, projectZone string) *time.Location {
	if jobZone != "" {
		if loc, err := r.Load(jobZone); err == nil {
			return loc
		}
	}
	if projectZone != "" {
		if loc, err := r.Load(projectZone); err == nil {
			return loc
		}
	}
	return time.UTC
}
