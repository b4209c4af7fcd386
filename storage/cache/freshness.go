package cache

import (
	"time"

	"github.com/kylycht/valutatrade/model"
)

// StaleWarning is attached to quotes served from an expired snapshot.
const StaleWarning = "rates are stale, run update-rates to refresh them"

// IsFresh reports whether the snapshot was refreshed less than ttl before now.
func IsFresh(snap model.RateSnapshot, ttl time.Duration, now time.Time) bool {
	if snap.LastRefresh.IsZero() {
		return false
	}
	return now.Sub(snap.LastRefresh.Time) < ttl
}
