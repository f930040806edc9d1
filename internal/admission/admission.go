package admission

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Rejections emitted before any work touches the store.
var (
	ErrSearchOverloaded  = errors.New("search pool exhausted")
	ErrIngestOverloaded  = errors.New("ingest pool exhausted")
	ErrTenantRateLimited = errors.New("tenant concurrency limit reached")
)

// Config sizes the gates. Zero values mean unlimited.
type Config struct {
	MaxSearches   int
	MaxIngests    int
	SearchTimeout time.Duration
	TenantDefault int
	TenantLimits  map[string]int
}

// Gate is the request-admission layer: bounded search and ingest pools
// plus per-tenant concurrency caps, all built on try-acquire semaphores so
// rejection is immediate rather than queued.
type Gate struct {
	search        *semaphore.Weighted
	ingest        *semaphore.Weighted
	searchTimeout time.Duration

	tenantDefault int
	tenantLimits  map[string]int

	mu      sync.RWMutex
	tenants map[string]*semaphore.Weighted
}

// New builds the gate from config.
func New(cfg Config) *Gate {
	g := &Gate{
		searchTimeout: cfg.SearchTimeout,
		tenantDefault: cfg.TenantDefault,
		tenantLimits:  cfg.TenantLimits,
		tenants:       map[string]*semaphore.Weighted{},
	}
	if cfg.MaxSearches > 0 {
		g.search = semaphore.NewWeighted(int64(cfg.MaxSearches))
	}
	if cfg.MaxIngests > 0 {
		g.ingest = semaphore.NewWeighted(int64(cfg.MaxIngests))
	}
	return g
}

// SearchTimeout returns the per-request search deadline; zero disables it.
func (g *Gate) SearchTimeout() time.Duration { return g.searchTimeout }

func (g *Gate) tenantLimit(tenant string) int {
	if lim, ok := g.tenantLimits[tenant]; ok {
		return lim
	}
	return g.tenantDefault
}

// tenantSem returns the tenant's semaphore, creating it on first request
// with a double-check under the write lock. nil means unlimited.
func (g *Gate) tenantSem(tenant string) *semaphore.Weighted {
	limit := g.tenantLimit(tenant)
	if limit <= 0 {
		return nil
	}

	g.mu.RLock()
	sem, ok := g.tenants[tenant]
	g.mu.RUnlock()
	if ok {
		return sem
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if sem, ok := g.tenants[tenant]; ok {
		return sem
	}
	sem = semaphore.NewWeighted(int64(limit))
	g.tenants[tenant] = sem
	return sem
}

// AcquireSearch admits one search. The per-tenant cap is checked first
// (admin bypasses it), then the global pool. The release function must be
// called exactly once, when the worker resolves, even if the request
// already timed out.
func (g *Gate) AcquireSearch(tenant string, admin bool) (func(), error) {
	return g.acquire(tenant, admin, g.search, ErrSearchOverloaded)
}

// AcquireIngest admits one ingest. Same shape as search, no timeout.
func (g *Gate) AcquireIngest(tenant string, admin bool) (func(), error) {
	return g.acquire(tenant, admin, g.ingest, ErrIngestOverloaded)
}

func (g *Gate) acquire(tenant string, admin bool, pool *semaphore.Weighted, overloaded error) (func(), error) {
	var tenantSem *semaphore.Weighted
	if !admin {
		tenantSem = g.tenantSem(tenant)
		if tenantSem != nil && !tenantSem.TryAcquire(1) {
			return nil, ErrTenantRateLimited
		}
	}

	if pool != nil && !pool.TryAcquire(1) {
		if tenantSem != nil {
			tenantSem.Release(1)
		}
		return nil, overloaded
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if pool != nil {
				pool.Release(1)
			}
			if tenantSem != nil {
				tenantSem.Release(1)
			}
		})
	}
	return release, nil
}
