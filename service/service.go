package service

import (
	"context"

	"github.com/kylycht/valutatrade/model"
)

// Provider interface describes a single
// external source of exchange rates
type Provider interface {
	// Key is the short identifier used by source filters
	Key() string

	// Name is the source recorded next to each stored pair
	Name() string

	// FetchRates returns rates keyed by "FROM_TO".
	// Failures are reported as *model.ProviderError
	FetchRates(ctx context.Context) (model.ProviderResult, error)
}

// Updater refreshes the rate store from all
// configured providers
type Updater interface {
	// Run executes one update cycle, optionally
	// restricted to a single source
	Run(ctx context.Context, source string) model.UpdateResult
}

// Publisher announces rates committed by an
// update cycle to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, records []model.HistoryRecord) error
}
