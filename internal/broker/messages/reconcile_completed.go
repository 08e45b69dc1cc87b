package messages

import "time"

// ReconcileCompleted is emitted after a reconciliation pass so the panel side
// can observe when a selection actually took effect.
type ReconcileCompleted struct {
	ShopID     uint64    `json:"shop_id"`
	Codes      []string  `json:"codes"`
	OccurredAt time.Time `json:"occurred_at"`
}
