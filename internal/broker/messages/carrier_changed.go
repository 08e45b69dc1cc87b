package messages

import "time"

// CarrierChanged is published by the host platform bridge whenever a carrier
// record transitions, including manual edits unrelated to this integration.
// Deleted marks a soft-deletion instead of a re-versioning.
type CarrierChanged struct {
	CarrierID  uint64    `json:"carrier_id"`
	ShopID     uint64    `json:"shop_id,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
