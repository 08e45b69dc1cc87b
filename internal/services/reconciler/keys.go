package reconciler

import "strings"

// Configuration key names owned by the integration. The selected-carriers and
// script keys are written by the panel (shop-scoped); the rest are written by
// the engine itself.
const (
	KeyPrefix   = "POINTSYNC_"
	KeyConnect  = "POINTSYNC_CONNECT"
	KeyScript   = "POINTSYNC_SCRIPT"
	KeySelected = "POINTSYNC_SELECTED_CARRIERS"

	// Per-code tracking keys: POINTSYNC_CARRIER_DPD, POINTSYNC_CARRIER_UPS...
	carrierKeyPrefix = "POINTSYNC_CARRIER_"

	// Single-carrier installs predating per-code tracking used this bare key.
	legacyCarrierKey = "POINTSYNC_CARRIER"
)

func carrierKey(code string) string {
	return carrierKeyPrefix + strings.ToUpper(code)
}

func codeFromKey(name string) (string, bool) {
	if !strings.HasPrefix(name, carrierKeyPrefix) {
		return "", false
	}
	code := strings.ToLower(strings.TrimPrefix(name, carrierKeyPrefix))
	return code, code != ""
}
