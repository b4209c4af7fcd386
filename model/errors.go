package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a required setting is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrRateUnavailable means no direct, inverse or cross rate exists for a pair.
	ErrRateUnavailable = errors.New("rate unavailable")

	// ErrStoreCorrupt means a persisted file could not be decoded.
	ErrStoreCorrupt = errors.New("store corrupt")

	// ErrCurrencyNotFound is returned for codes missing from the registry.
	ErrCurrencyNotFound = errors.New("currency not found")
)

// ProviderError is a fetch failure of a single provider after retries.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
