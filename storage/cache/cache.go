package cache

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/storage"
	"github.com/rs/zerolog/log"
)

// RateCache answers rate queries from the rate store. It keeps no state
// between calls: every read loads the current snapshot.
type RateCache struct {
	store storage.RateStore // persisted snapshot
	pivot string            // currency used for triangulation
	ttl   time.Duration     // advisory freshness window
	now   func() time.Time
}

func New(store storage.RateStore, pivot string, ttl time.Duration) storage.Cache {
	return &RateCache{
		store: store,
		pivot: strings.ToUpper(pivot),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get implements storage.Cache.
func (m *RateCache) Get(from string, to string) (model.ExchangeRate, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)

	snap := m.store.Load()

	res, ok := resolve(snap, from, to, m.pivot)
	if !ok {
		return model.ExchangeRate{}, fmt.Errorf("%w for pair: %s/%s", model.ErrRateUnavailable, from, to)
	}

	rate := model.ExchangeRate{
		From:        from,
		To:          to,
		Rate:        res.rate,
		ReverseRate: 1.0 / res.rate,
		UpdatedAt:   res.updatedAt,
		Source:      res.source,
	}

	if !IsFresh(snap, m.ttl, m.now()) || m.isStale(res) {
		log.Debug().Str("pair", from+"/"+to).Str("last_refresh", snap.LastRefresh.String()).Str("updated_at", res.updatedAt.String()).Msg("serving stale rate")
		rate.Warning = StaleWarning
	}

	return rate, nil
}

// isStale reports a resolved rate that is older than the TTL on its own,
// or that was retained from a provider that failed to refresh it.
func (m *RateCache) isStale(res resolution) bool {
	if res.stale {
		return true
	}
	if res.updatedAt.IsZero() {
		return false
	}
	return m.now().Sub(res.updatedAt.Time) >= m.ttl
}

// List implements storage.Cache.
func (m *RateCache) List(q model.ListQuery) ([]model.RatePair, model.Timestamp, error) {
	snap := m.store.Load()
	currency := strings.ToUpper(q.Currency)
	base := strings.ToUpper(q.Base)

	byKey := make(map[string]model.RatePair, len(snap.Pairs))
	for key, p := range snap.Pairs {
		from, to, ok := model.SplitPairKey(key)
		if !ok {
			continue
		}
		if currency != "" && from != currency && to != currency {
			continue
		}

		p.Pair = key
		if base != "" && to != base {
			asset := from
			if from == base {
				asset = to
			}
			res, ok := resolve(snap, asset, base, m.pivot)
			if !ok {
				log.Debug().Str("pair", key).Str("base", base).Msg("pair cannot be expressed in base")
				continue
			}
			p = model.RatePair{
				Pair:      model.PairKey(asset, base),
				Rate:      res.rate,
				UpdatedAt: res.updatedAt,
				Source:    res.source,
				Stale:     res.stale,
			}
		}
		byKey[p.Pair] = p
	}

	out := make([]model.RatePair, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}

	if q.Top > 0 {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Rate != out[j].Rate {
				return out[i].Rate > out[j].Rate
			}
			return out[i].Pair < out[j].Pair
		})
		if len(out) > q.Top {
			out = out[:q.Top]
		}
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	}

	return out, snap.LastRefresh, nil
}
