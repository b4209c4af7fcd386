package storage

import (
	"context"

	"github.com/kylycht/valutatrade/model"
)

// Storage interface describes the source
// of supported currencies
type Storage interface {
	// Load loads all available currencies
	// from the storage
	// First slice contains all fiat currencies
	// followed by crypto
	Load(ctx context.Context) ([]model.Currency, []model.Currency, error)
}

// RateStore persists the rate snapshot
// and the append-only rate history
type RateStore interface {
	// Load returns the persisted snapshot, or an empty
	// one when nothing readable is stored
	Load() model.RateSnapshot

	// Save atomically replaces the persisted snapshot
	Save(snapshot model.RateSnapshot) error

	// AppendHistory appends records to the history log
	AppendHistory(records []model.HistoryRecord) error
}

// Cache interface describes the read side
// of the exchange rates
type Cache interface {
	// Get retrives latest exchange rate
	// for given pair
	Get(from, to string) (model.ExchangeRate, error)

	// List returns cached pairs filtered by query
	List(q model.ListQuery) ([]model.RatePair, model.Timestamp, error)
}
