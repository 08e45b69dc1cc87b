package availability

import (
	"context"
	"testing"
	"time"

	"github.com/packlane/pointsync/internal/models"
	"github.com/packlane/pointsync/internal/services/reconciler"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	script map[uint64]string
	calls  int
}

func (f *fakeConfig) Get(ctx context.Context, name string, shopID uint64) (string, bool, error) {
	f.calls++
	if name != reconciler.KeyScript {
		return "", false, nil
	}
	v, ok := f.script[shopID]
	return v, ok, nil
}

type fakeCarriers struct {
	active     []*models.Carrier
	zoneless   map[uint64]bool
	restricted map[uint64]bool
}

func (f *fakeCarriers) ListActiveForShop(ctx context.Context, shopID uint64) ([]*models.Carrier, error) {
	return f.active, nil
}

func (f *fakeCarriers) HasZones(ctx context.Context, carrierID uint64) (bool, error) {
	return !f.zoneless[carrierID], nil
}

func (f *fakeCarriers) IsPaymentRestricted(ctx context.Context, carrierID, referenceID, shopID uint64) (bool, error) {
	return f.restricted[carrierID], nil
}

type fakeConn struct {
	connected bool
}

func (f *fakeConn) IsConnected(ctx context.Context) (bool, error) {
	return f.connected, nil
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

func TestService_Available(t *testing.T) {
	cfg := &fakeConfig{script: map[uint64]string{1: "<script/>"}}
	cs := &fakeCarriers{
		active: []*models.Carrier{
			{ID: 4, ReferenceID: 4, OwnerTag: "other_module"},
			{ID: 7, ReferenceID: 7, OwnerTag: "pointsync"},
		},
		restricted: map[uint64]bool{},
	}
	s := New(cfg, cs, &fakeConn{connected: true}, "pointsync", nil, 0)

	ok, err := s.Available(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestService_Available_negativeConditions(t *testing.T) {
	owned := []*models.Carrier{{ID: 7, ReferenceID: 7, OwnerTag: "pointsync"}}

	cases := []struct {
		name string
		svc  *Service
	}{
		{
			name: "not connected",
			svc: New(&fakeConfig{script: map[uint64]string{1: "<script/>"}},
				&fakeCarriers{active: owned, restricted: map[uint64]bool{}},
				&fakeConn{connected: false}, "pointsync", nil, 0),
		},
		{
			name: "no script",
			svc: New(&fakeConfig{script: map[uint64]string{}},
				&fakeCarriers{active: owned, restricted: map[uint64]bool{}},
				&fakeConn{connected: true}, "pointsync", nil, 0),
		},
		{
			name: "no owned carrier",
			svc: New(&fakeConfig{script: map[uint64]string{1: "<script/>"}},
				&fakeCarriers{active: []*models.Carrier{{ID: 4, OwnerTag: "other_module"}}, restricted: map[uint64]bool{}},
				&fakeConn{connected: true}, "pointsync", nil, 0),
		},
		{
			name: "no zone coverage",
			svc: New(&fakeConfig{script: map[uint64]string{1: "<script/>"}},
				&fakeCarriers{active: owned, zoneless: map[uint64]bool{7: true}, restricted: map[uint64]bool{}},
				&fakeConn{connected: true}, "pointsync", nil, 0),
		},
		{
			name: "payment restricted",
			svc: New(&fakeConfig{script: map[uint64]string{1: "<script/>"}},
				&fakeCarriers{active: owned, restricted: map[uint64]bool{7: true}},
				&fakeConn{connected: true}, "pointsync", nil, 0),
		},
	}

	for _, tc := range cases {
		ok, err := tc.svc.Available(context.Background(), 1)
		require.NoError(t, err, tc.name)
		require.False(t, ok, tc.name)
	}
}

func TestService_Available_cached(t *testing.T) {
	cfg := &fakeConfig{script: map[uint64]string{1: "<script/>"}}
	cs := &fakeCarriers{
		active:     []*models.Carrier{{ID: 7, ReferenceID: 7, OwnerTag: "pointsync"}},
		restricted: map[uint64]bool{},
	}
	cache := &fakeCache{m: map[string][]byte{}}
	s := New(cfg, cs, &fakeConn{connected: true}, "pointsync", cache, 5*time.Minute)

	ok, err := s.Available(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), cache.m["availability:1"])

	// Second call is answered from cache, the store is not consulted.
	reads := cfg.calls
	ok, err = s.Available(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, reads, cfg.calls)

	require.NoError(t, s.Invalidate(context.Background(), 1))
	require.NotContains(t, cache.m, "availability:1")
}
