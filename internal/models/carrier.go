package models

import "time"

// Locales the default carrier label is translated to. "en" is the fallback
// when a shop locale has no translation.
const DefaultLocale = "en"

// DelayLabels holds the default per-locale delivery label of a service point
// carrier, keyed by ISO language code.
var DelayLabels = map[string]string{
	"be": "Afhaalpuntlevering",
	"de": "Paketshop Zustellung",
	"en": "Service Point Delivery",
	"fr": "Livraison en point service",
	"nl": "Afhaalpuntlevering",
}

// Carrier is one version of a carrier lineage as the host platform stores it.
// Edits never mutate a row: the platform inserts a new version with a fresh ID
// under the same ReferenceID and marks the old version deleted.
type Carrier struct {
	ID          uint64
	ReferenceID uint64
	Name        string
	OwnerTag    string
	TrackingURL string
	Active      bool
	Deleted     bool
	Grade       int32
	MaxWidth    float64
	MaxHeight   float64
	MaxDepth    float64
	MaxWeight   float64
	Delay       map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CarrierSpec is the input for creating a new carrier version.
type CarrierSpec struct {
	Name        string
	OwnerTag    string
	TrackingURL string
	Active      bool
	Grade       int32
	MaxWidth    float64
	MaxHeight   float64
	MaxDepth    float64
	MaxWeight   float64
	Delay       map[string]string
}

// TrackedCarrier is the engine's own durable pointer into a carrier lineage.
// The host platform cannot carry plugin metadata on its versioned rows, so
// this pair is the only stable link between a panel carrier code and the
// record currently active for it. Both fields are always set together.
type TrackedCarrier struct {
	LastKnownID uint64 `json:"id"`
	ReferenceID uint64 `json:"reference"`
}

// SelectedCarriers maps a panel carrier code to its display name, for one
// shop. An empty map is never a valid persisted value.
type SelectedCarriers map[string]string

// ConfigEntry is one row of the configuration store. The store allows several
// rows per (name, shop); readers take the newest and treat the rest as
// orphans.
type ConfigEntry struct {
	ID     uint64
	Name   string
	ShopID uint64
	Value  string
}
