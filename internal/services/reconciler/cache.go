package reconciler

import (
	"context"
	"fmt"
)

// requestCache is a read-through cache over shop-scoped configuration reads,
// created per reconciliation pass and discarded with it. It only exists to
// avoid re-reading the same row within one pass; it is never shared between
// passes. Writers drop their key via forget so later reads within the pass
// see their own write.
type requestCache struct {
	cfg  ConfigStore
	vals map[string]string
	hits map[string]bool
}

func newRequestCache(cfg ConfigStore) *requestCache {
	return &requestCache{
		cfg:  cfg,
		vals: map[string]string{},
		hits: map[string]bool{},
	}
}

func (rc *requestCache) get(ctx context.Context, name string, shopID uint64) (string, bool, error) {
	k := fmt.Sprintf("%s|%d", name, shopID)
	if ok, seen := rc.hits[k]; seen {
		return rc.vals[k], ok, nil
	}
	v, ok, err := rc.cfg.Get(ctx, name, shopID)
	if err != nil {
		return "", false, err
	}
	rc.vals[k] = v
	rc.hits[k] = ok
	return v, ok, nil
}

func (rc *requestCache) getGlobal(ctx context.Context, name string) (string, bool, error) {
	return rc.get(ctx, name, 0)
}

// forget drops a cached entry after the underlying row was rewritten within
// the same pass.
func (rc *requestCache) forget(name string, shopID uint64) {
	k := fmt.Sprintf("%s|%d", name, shopID)
	delete(rc.vals, k)
	delete(rc.hits, k)
}
