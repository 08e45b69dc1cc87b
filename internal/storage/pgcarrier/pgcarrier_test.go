package pgcarrier

import (
	"context"
	"testing"
	"time"

	"github.com/packlane/pointsync/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "pointsync_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/pointsync_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func spec(name string) models.CarrierSpec {
	return models.CarrierSpec{
		Name:        name,
		OwnerTag:    "pointsync",
		TrackingURL: "https://track.example.com/@",
		Active:      true,
		Grade:       4,
		MaxWidth:    150,
		MaxHeight:   150,
		MaxDepth:    150,
		MaxWeight:   50,
		Delay:       map[string]string{"en": "Service Point Delivery"},
	}
}

func TestPGCarrier_LineageFlow(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	c, err := st.Create(ctx, spec("Service Point Delivery (DPD)"))
	require.NoError(t, err)
	require.NotZero(t, c.ID)
	// A fresh lineage references itself.
	require.Equal(t, c.ID, c.ReferenceID)
	require.True(t, c.Active)
	require.False(t, c.Deleted)

	got, err := st.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, "Service Point Delivery (DPD)", got.Name)
	require.Equal(t, "Service Point Delivery", got.Delay["en"])

	missing, err := st.Get(ctx, 9999)
	require.NoError(t, err)
	require.Nil(t, missing)

	found, err := st.FindActive(ctx, "pointsync", c.ReferenceID)
	require.NoError(t, err)
	require.Equal(t, c.ID, found.ID)

	// Legacy installs look up without a reference.
	found, err = st.FindActive(ctx, "pointsync", 0)
	require.NoError(t, err)
	require.Equal(t, c.ID, found.ID)

	foreign, err := st.FindActive(ctx, "other_module", c.ReferenceID)
	require.NoError(t, err)
	require.Nil(t, foreign)

	// A host platform edit: new id under the same reference, old row gone.
	newID, err := st.Reversion(ctx, c.ID, "Service Point Delivery (DPD edited)")
	require.NoError(t, err)
	require.NotEqual(t, c.ID, newID)

	old, err := st.Get(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, old.Deleted)

	found, err = st.FindActive(ctx, "pointsync", c.ReferenceID)
	require.NoError(t, err)
	require.Equal(t, newID, found.ID)
	require.Equal(t, c.ReferenceID, found.ReferenceID)

	removed, err := st.Delete(ctx, newID)
	require.NoError(t, err)
	require.True(t, removed)
	removed, err = st.Delete(ctx, newID)
	require.NoError(t, err)
	require.False(t, removed)

	n, err := st.CountOwnedActive(ctx, "pointsync")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPGCarrier_Relations(t *testing.T) {
	st := startPostgres(t)
	ctx := context.Background()

	_, err := st.db.Exec(ctx, `INSERT INTO customer_groups (name, active) VALUES ('visitors', TRUE), ('customers', TRUE), ('staff', FALSE)`)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `INSERT INTO payment_modules (name, active) VALUES ('card', TRUE), ('cod', TRUE)`)
	require.NoError(t, err)
	_, err = st.db.Exec(ctx, `INSERT INTO zones (name, active) VALUES ('domestic', TRUE), ('europe', TRUE), ('overseas', FALSE)`)
	require.NoError(t, err)

	c, err := st.Create(ctx, spec("Service Point Delivery (UPS)"))
	require.NoError(t, err)

	hasZones, err := st.HasZones(ctx, c.ID)
	require.NoError(t, err)
	require.False(t, hasZones)

	// All relation setters are insert-if-absent; running them twice changes
	// nothing.
	for i := 0; i < 2; i++ {
		require.NoError(t, st.EnsureGroups(ctx, c.ID))
		require.NoError(t, st.EnsureZones(ctx, c.ID))
		require.NoError(t, st.EnsureDefaultRanges(ctx, c.ID, 0, 10000, 0, 50))
		require.NoError(t, st.EnsureShopAssociation(ctx, c.ID, 1))
	}

	var groups int64
	require.NoError(t, st.db.QueryRow(ctx, `SELECT COUNT(1) FROM carrier_groups WHERE carrier_id = $1`, c.ID).Scan(&groups))
	require.Equal(t, int64(2), groups) // inactive group excluded

	var zones int64
	require.NoError(t, st.db.QueryRow(ctx, `SELECT COUNT(1) FROM carrier_zones WHERE carrier_id = $1`, c.ID).Scan(&zones))
	require.Equal(t, int64(2), zones) // inactive zone excluded

	hasZones, err = st.HasZones(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, hasZones)

	var ranges int64
	require.NoError(t, st.db.QueryRow(ctx, `SELECT COUNT(1) FROM carrier_price_ranges WHERE carrier_id = $1`, c.ID).Scan(&ranges))
	require.Equal(t, int64(1), ranges)

	shops, err := st.AssociatedShops(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, shops)

	restricted, err := st.IsPaymentRestricted(ctx, c.ID, c.ReferenceID, 1)
	require.NoError(t, err)
	require.True(t, restricted)

	require.NoError(t, st.BackfillPayments(ctx, c.ReferenceID, 1))
	restricted, err = st.IsPaymentRestricted(ctx, c.ID, c.ReferenceID, 1)
	require.NoError(t, err)
	require.False(t, restricted)

	// Payment relations follow the lineage across a re-versioning.
	newID, err := st.Reversion(ctx, c.ID, "Service Point Delivery (UPS v2)")
	require.NoError(t, err)
	restricted, err = st.IsPaymentRestricted(ctx, newID, c.ReferenceID, 1)
	require.NoError(t, err)
	require.False(t, restricted)

	def, err := st.DefaultCarrier(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, def)

	require.NoError(t, st.SetDefaultCarrier(ctx, 1, newID))
	def, err = st.DefaultCarrier(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, newID, def)

	require.NoError(t, st.EnsureShopAssociation(ctx, newID, 1))
	active, err := st.ListActiveForShop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, newID, active[0].ID)
}
