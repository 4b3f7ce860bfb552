package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/excproc/pkg/domain"
)

// Registry resolves a domain.SnapshotID into a validated Snapshot,
// caching the result per process with a TTL — spec.md §5's "config
// snapshots are cached per process with a TTL; invalidation is explicit
// on config publish events." A snapshot's own (tenant, domain, version)
// key is immutable once published, so caching it is always safe; only
// the *mapping* from "current version" to a concrete version can go
// stale, which is why intake resolves "latest" through Fetcher's TTL
// while a specific version pins forever.
type Registry struct {
	fetcher *Fetcher
	ttl     time.Duration

	mu        sync.RWMutex
	snapshots map[domain.SnapshotID]*cachedSnapshot
}

type cachedSnapshot struct {
	snap      *Snapshot
	cachedAt  time.Time
}

// NewRegistry builds a Registry over fetcher, caching resolved snapshots
// for ttl.
func NewRegistry(fetcher *Fetcher, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{fetcher: fetcher, ttl: ttl, snapshots: make(map[domain.SnapshotID]*cachedSnapshot)}
}

// Resolve returns the validated Snapshot for id, fetching and parsing it
// on a cache miss or TTL expiry.
func (r *Registry) Resolve(ctx context.Context, id domain.SnapshotID) (*Snapshot, error) {
	if snap, ok := r.cached(id); ok {
		return snap, nil
	}

	ref := "latest"
	if id.Version > 0 {
		ref = fmt.Sprintf("v%d", id.Version)
	}
	path := fmt.Sprintf("%s/%s.yaml", id.TenantID, id.Domain)
	raw, err := r.fetcher.FetchRaw(ctx, ref, path, r.ttl)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %+v: %w", id, err)
	}

	pack, err := Load(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(pack); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:        id,
		Policies:  pack.Policies,
		Playbooks: ToDomainPlaybooks(pack.Playbooks),
		SLARules:  pack.SLARules,
		Tools:     make(map[string]ToolYAML, len(pack.Tools)),
	}
	for _, t := range pack.Tools {
		snap.Tools[t.ToolID] = t
	}

	r.mu.Lock()
	r.snapshots[id] = &cachedSnapshot{snap: snap, cachedAt: time.Now()}
	r.mu.Unlock()
	return snap, nil
}

func (r *Registry) cached(id domain.SnapshotID) (*Snapshot, bool) {
	r.mu.RLock()
	c, ok := r.snapshots[id]
	r.mu.RUnlock()
	if !ok || time.Since(c.cachedAt) > r.ttl {
		return nil, false
	}
	return c.snap, true
}

// InvalidatePublished drops every cached snapshot for (tenantID, domainName)
// in response to a control.config_published envelope, and clears the
// fetcher's raw-document cache for the same pack so the next Resolve call
// re-fetches rather than serving stale bytes for the rest of the TTL.
func (r *Registry) InvalidatePublished(tenantID, domainName string) {
	r.mu.Lock()
	for id := range r.snapshots {
		if id.TenantID == tenantID && id.Domain == domainName {
			delete(r.snapshots, id)
		}
	}
	r.mu.Unlock()
}
