package cache

import (
	"testing"
	"time"

	"github.com/kylycht/valutatrade/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pivot = "USD"

func snap(rates map[string]float64) model.RateSnapshot {
	ts := model.NewTimestamp(time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC))
	s := model.RateSnapshot{Pairs: map[string]model.RatePair{}, LastRefresh: ts}
	for k, r := range rates {
		s.Pairs[k] = model.RatePair{Pair: k, Rate: r, UpdatedAt: ts, Source: "test"}
	}
	return s
}

func TestResolveScenarios(t *testing.T) {
	tests := []struct {
		name     string
		rates    map[string]float64
		from, to string
		want     float64
		ok       bool
	}{
		{"inverse of stored crypto", map[string]float64{"BTC_USD": 50000}, "USD", "BTC", 0.00002, true},
		{"direct", map[string]float64{"BTC_USD": 50000}, "BTC", "USD", 50000, true},
		{"empty store", nil, "EUR", "GBP", 0, false},
		{"cross through pivot", map[string]float64{"EUR_USD": 1.1, "GBP_USD": 1.3}, "EUR", "GBP", 1.1 / 1.3, true},
		{"cross with inverse legs", map[string]float64{"USD_EUR": 1 / 1.1, "USD_GBP": 1 / 1.3}, "EUR", "GBP", 1.1 / 1.3, true},
		{"direct wins over cross", map[string]float64{"EUR_GBP": 0.9, "EUR_USD": 1.1, "GBP_USD": 1.3}, "EUR", "GBP", 0.9, true},
		{"no triangulation to pivot", map[string]float64{"EUR_GBP": 0.9}, "EUR", "USD", 0, false},
		{"single hop only", map[string]float64{"EUR_GBP": 0.9, "GBP_USD": 1.3}, "EUR", "JPY", 0, false},
		{"zero rate is absent", map[string]float64{"BTC_USD": 0}, "BTC", "USD", 0, false},
		{"negative rate is absent", map[string]float64{"BTC_USD": -5}, "USD", "BTC", 0, false},
		{"one missing leg", map[string]float64{"EUR_USD": 1.1}, "EUR", "GBP", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(snap(tt.rates), tt.from, tt.to, pivot)
			require.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestResolveIdentityIgnoresStore(t *testing.T) {
	for _, s := range []model.RateSnapshot{model.EmptySnapshot(), snap(map[string]float64{"BTC_BTC": 7})} {
		for _, code := range []string{"USD", "BTC", "EUR", "ZZZ"} {
			got, ok := Resolve(s, code, code, pivot)
			require.True(t, ok)
			assert.Equal(t, 1.0, got)
		}
	}
}

func TestResolveInverseConsistency(t *testing.T) {
	s := snap(map[string]float64{
		"BTC_USD": 59337.21,
		"ETH_USD": 2450.5,
		"EUR_USD": 1.0932,
		"GBP_USD": 1.27,
		"JPY_USD": 0.0067,
	})
	codes := []string{"BTC", "ETH", "EUR", "GBP", "JPY", "USD"}
	for _, a := range codes {
		for _, b := range codes {
			ab, ok := Resolve(s, a, b, pivot)
			require.True(t, ok, "%s->%s", a, b)
			ba, ok := Resolve(s, b, a, pivot)
			require.True(t, ok, "%s->%s", b, a)
			assert.InEpsilon(t, 1/ab, ba, 1e-9, "%s<->%s", a, b)
		}
	}
}

func TestResolveCrossUsesOldestLeg(t *testing.T) {
	s := snap(map[string]float64{"EUR_USD": 1.1, "BTC_USD": 50000})
	older := model.NewTimestamp(time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC))
	p := s.Pairs["BTC_USD"]
	p.UpdatedAt = older
	p.Source = "CoinGecko"
	s.Pairs["BTC_USD"] = p

	res, ok := resolve(s, "EUR", "BTC", pivot)
	require.True(t, ok)
	assert.True(t, res.updatedAt.Equal(older.Time))
	assert.Equal(t, "test+CoinGecko", res.source)
}
