package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Timestamp is an ISO-8601 UTC instant. Null or unparsable values decode
// to the zero Timestamp instead of failing the surrounding document.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // naive, assumed UTC
}

// NewTimestamp truncates to microseconds and converts to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}

// ParseTimestamp parses any accepted layout.
func ParseTimestamp(s string) (Timestamp, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t.UTC()}, true
		}
	}
	return Timestamp{}, false
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if ts, ok := ParseTimestamp(s); ok {
		*t = ts
	}
	return nil
}

// String renders the instant or "unknown".
func (t Timestamp) String() string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}

// PairKey builds the directional key "FROM_TO".
func PairKey(from, to string) string {
	return from + "_" + to
}

// SplitPairKey splits "FROM_TO" into its two codes.
func SplitPairKey(key string) (string, string, bool) {
	from, to, ok := strings.Cut(key, "_")
	if !ok || from == "" || to == "" || strings.Contains(to, "_") {
		return "", "", false
	}
	return from, to, true
}

// RatePair is a single cached directional rate.
type RatePair struct {
	Pair      string    `json:"-"`
	Rate      float64   `json:"rate"`
	UpdatedAt Timestamp `json:"updated_at"`
	Source    string    `json:"source"`
	// Stale is set on pairs carried over from a previous cycle.
	Stale bool `json:"stale,omitempty"`
}

// RateSnapshot is the persisted root of the rate store.
type RateSnapshot struct {
	Pairs       map[string]RatePair `json:"pairs"`
	LastRefresh Timestamp           `json:"last_refresh"`
}

// EmptySnapshot returns a snapshot with no pairs and no refresh time.
func EmptySnapshot() RateSnapshot {
	return RateSnapshot{Pairs: map[string]RatePair{}}
}

// HistoryRecord is one append-only entry of the rate history log.
type HistoryRecord struct {
	ID           string    `json:"id"`
	FromCurrency string    `json:"from_currency"`
	ToCurrency   string    `json:"to_currency"`
	Rate         float64   `json:"rate"`
	Timestamp    Timestamp `json:"timestamp"`
	Source       string    `json:"source"`
}

// ProviderResult is what one provider returned during one update cycle.
type ProviderResult struct {
	Source string
	Rates  map[string]float64
}

// ExchangeRate holds information
// for given exchange rate
type ExchangeRate struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Rate        float64   `json:"rate"`
	ReverseRate float64   `json:"reverse_rate"`
	UpdatedAt   Timestamp `json:"updated_at"`
	Source      string    `json:"source,omitempty"`
	Warning     string    `json:"warning,omitempty"`
}

// UpdateResult summarises one update run.
type UpdateResult struct {
	Success           bool      `json:"success"`
	TotalRates        int       `json:"total_rates"`
	SuccessfulSources []string  `json:"successful_sources"`
	Errors            []string  `json:"errors"`
	Timestamp         Timestamp `json:"timestamp"`
}

// ListQuery filters the cached rate listing.
type ListQuery struct {
	Currency string // keep pairs where either side matches
	Top      int    // keep the N highest rates, 0 keeps all
	Base     string // re-express rates against this currency
}
