package cache

import (
	"github.com/kylycht/valutatrade/model"
)

// resolution is a resolved rate plus the provenance of its oldest leg.
type resolution struct {
	rate      float64
	updatedAt model.Timestamp
	source    string
	stale     bool // some leg was carried over from an earlier cycle
}

// Resolve returns the rate from->to using the snapshot contents:
// identity, direct, inverse, then single-hop triangulation through pivot.
func Resolve(snap model.RateSnapshot, from, to, pivot string) (float64, bool) {
	res, ok := resolve(snap, from, to, pivot)
	return res.rate, ok
}

func resolve(snap model.RateSnapshot, from, to, pivot string) (resolution, bool) {
	if from == to {
		return resolution{rate: 1.0}, true
	}

	if res, ok := lookup(snap, from, to); ok {
		return res, true
	}

	// triangulate only between two non-pivot currencies
	if from == pivot || to == pivot {
		return resolution{}, false
	}

	fromPivot, ok := lookup(snap, from, pivot)
	if !ok {
		return resolution{}, false
	}
	toPivot, ok := lookup(snap, to, pivot)
	if !ok || toPivot.rate <= 0 {
		return resolution{}, false
	}

	res := resolution{
		rate:      fromPivot.rate / toPivot.rate,
		updatedAt: fromPivot.updatedAt,
		source:    fromPivot.source,
		stale:     fromPivot.stale || toPivot.stale,
	}
	if toPivot.updatedAt.Before(res.updatedAt.Time) {
		res.updatedAt = toPivot.updatedAt
	}
	if toPivot.source != fromPivot.source {
		res.source = fromPivot.source + "+" + toPivot.source
	}

	return res, true
}

// lookup tries the direct key and then derives from the inverse key.
func lookup(snap model.RateSnapshot, from, to string) (resolution, bool) {
	if p, ok := snap.Pairs[model.PairKey(from, to)]; ok && p.Rate > 0 {
		return resolution{rate: p.Rate, updatedAt: p.UpdatedAt, source: p.Source, stale: p.Stale}, true
	}
	// fallback to the opposite direction and attempt to derive rate
	if p, ok := snap.Pairs[model.PairKey(to, from)]; ok && p.Rate > 0 {
		return resolution{rate: 1.0 / p.Rate, updatedAt: p.UpdatedAt, source: p.Source, stale: p.Stale}, true
	}
	return resolution{}, false
}
