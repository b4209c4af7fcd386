package updater

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kylycht/valutatrade/metrics"
	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service"
	"github.com/kylycht/valutatrade/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// FailurePolicy decides what happens to pairs of providers that were not
// refreshed in a cycle.
type FailurePolicy string

const (
	// Replace writes only the pairs fetched in this cycle.
	Replace FailurePolicy = "replace"
	// Retain carries the previous pairs of failed or filtered-out
	// providers over, keeping their timestamps and marking them stale.
	Retain FailurePolicy = "retain"
)

// ParsePolicy maps a config value to a FailurePolicy.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Replace:
		return Replace, nil
	case Retain:
		return Retain, nil
	default:
		return "", fmt.Errorf("%w: unknown provider failure policy %q", model.ErrConfiguration, s)
	}
}

type Config struct {
	Parallelism       int               // concurrent provider fetches, <= 1 is sequential
	OnProviderFailure FailurePolicy     // defaults to Replace
	Publisher         service.Publisher // optional, told about committed rates
}

// RatesUpdater drives the configured providers in order, merges their
// results and commits them to the rate store.
type RatesUpdater struct {
	providers []service.Provider // fixed configuration order
	store     storage.RateStore  // snapshot and history
	cfg       Config
	now       func() time.Time
}

func New(providers []service.Provider, store storage.RateStore, cfg Config) *RatesUpdater {
	if cfg.OnProviderFailure == "" {
		cfg.OnProviderFailure = Replace
	}
	return &RatesUpdater{
		providers: providers,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
	}
}

type fetchOutcome struct {
	provider service.Provider
	result   model.ProviderResult
	err      error
}

// Run implements service.Updater.
func (u *RatesUpdater) Run(ctx context.Context, source string) model.UpdateResult {
	log.Info().Str("source", source).Int("providers", len(u.providers)).Msg("starting rates update")

	result := model.UpdateResult{
		SuccessfulSources: []string{},
		Errors:            []string{},
	}

	selected, skipped := u.selectProviders(source)
	if len(selected) == 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("unknown source: %q", source))
		result.Timestamp = model.NewTimestamp(u.now())
		metrics.UpdateRunsTotal.WithLabelValues("failure").Inc()
		return result
	}

	// names of providers whose pairs were not refreshed this cycle
	notRefreshed := make(map[string]bool, len(skipped))
	for _, p := range skipped {
		notRefreshed[p.Name()] = true
	}

	merged := make(map[string]model.RatePair)
	for _, o := range u.fetchAll(ctx, selected) {
		if o.err != nil {
			notRefreshed[o.provider.Name()] = true
			result.Errors = append(result.Errors, describe(o))
			continue
		}

		src := o.result.Source
		if src == "" {
			src = o.provider.Name()
		}
		// last writer wins, in configuration order
		for key, rate := range o.result.Rates {
			if rate <= 0 {
				continue
			}
			merged[key] = model.RatePair{Pair: key, Rate: rate, Source: src}
		}
		result.SuccessfulSources = append(result.SuccessfulSources, o.provider.Name())
	}

	now := model.NewTimestamp(u.now())
	result.Timestamp = now
	result.TotalRates = len(merged)
	result.Success = len(merged) > 0

	if err := ctx.Err(); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("update cancelled, nothing saved: %v", err))
		metrics.UpdateRunsTotal.WithLabelValues("cancelled").Inc()
		log.Warn().Err(err).Msg("rates update cancelled")
		return result
	}

	if len(merged) > 0 {
		if err := u.commit(ctx, merged, notRefreshed, now); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to save to storage: %v", err))
		}
	}

	switch {
	case !result.Success:
		metrics.UpdateRunsTotal.WithLabelValues("failure").Inc()
		log.Error().Strs("errors", result.Errors).Msg("rates update failed")
	case len(result.Errors) > 0:
		metrics.UpdateRunsTotal.WithLabelValues("partial").Inc()
		log.Warn().Int("rates", result.TotalRates).Strs("errors", result.Errors).Msg("rates update completed with errors")
	default:
		metrics.UpdateRunsTotal.WithLabelValues("success").Inc()
		log.Info().Int("rates", result.TotalRates).Strs("sources", result.SuccessfulSources).Msg("rates update completed")
	}

	return result
}

func (u *RatesUpdater) selectProviders(source string) ([]service.Provider, []service.Provider) {
	source = strings.TrimSpace(source)
	if source == "" {
		return u.providers, nil
	}

	var selected, skipped []service.Provider
	for _, p := range u.providers {
		if strings.EqualFold(source, p.Key()) || strings.EqualFold(source, p.Name()) {
			selected = append(selected, p)
			continue
		}
		skipped = append(skipped, p)
	}
	return selected, skipped
}

// fetchAll returns outcomes in provider order regardless of completion order.
func (u *RatesUpdater) fetchAll(ctx context.Context, providers []service.Provider) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(providers))

	if u.cfg.Parallelism <= 1 {
		for i, p := range providers {
			if err := ctx.Err(); err != nil {
				outcomes[i] = fetchOutcome{provider: p, err: err}
				continue
			}
			outcomes[i] = u.fetch(ctx, p)
		}
		return outcomes
	}

	var (
		sem = semaphore.NewWeighted(int64(u.cfg.Parallelism))
		wg  = sync.WaitGroup{}
	)

	for i, p := range providers {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = fetchOutcome{provider: p, err: err}
			continue
		}

		wg.Add(1)
		go func(i int, p service.Provider) {
			defer wg.Done()
			defer sem.Release(1)

			outcomes[i] = u.fetch(ctx, p)
		}(i, p)
	}

	wg.Wait()
	return outcomes
}

func (u *RatesUpdater) fetch(ctx context.Context, p service.Provider) fetchOutcome {
	log.Debug().Str("provider", p.Name()).Msg("fetching rates")

	started := time.Now()
	res, err := p.FetchRates(ctx)
	metrics.ObserveFetch(p.Name(), started, err)

	if err != nil {
		log.Error().Err(err).Str("provider", p.Name()).Msg("provider fetch failed")
		return fetchOutcome{provider: p, err: err}
	}

	log.Info().Str("provider", p.Name()).Int("rates", len(res.Rates)).Dur("took", time.Since(started)).Msg("provider fetch ok")
	return fetchOutcome{provider: p, result: res}
}

// commit replaces the snapshot and appends the fresh pairs to the history.
func (u *RatesUpdater) commit(ctx context.Context, fresh map[string]model.RatePair, notRefreshed map[string]bool, now model.Timestamp) error {
	snap := model.RateSnapshot{
		Pairs:       make(map[string]model.RatePair, len(fresh)),
		LastRefresh: now,
	}
	for key, p := range fresh {
		p.UpdatedAt = now
		snap.Pairs[key] = p
	}

	if u.cfg.OnProviderFailure == Retain && len(notRefreshed) > 0 {
		carried := 0
		for key, p := range u.store.Load().Pairs {
			if _, ok := snap.Pairs[key]; ok || !notRefreshed[p.Source] {
				continue
			}
			p.Stale = true
			snap.Pairs[key] = p
			carried++
		}
		log.Info().Int("pairs", carried).Msg("retained pairs of providers not refreshed this cycle")
	}

	log.Info().Int("pairs", len(snap.Pairs)).Msg("writing rates to storage")
	if err := u.store.Save(snap); err != nil {
		return err
	}
	metrics.CachedPairs.Set(float64(len(snap.Pairs)))

	records := historyRecords(fresh, now)
	if err := u.store.AppendHistory(records); err != nil {
		return err
	}

	if u.cfg.Publisher != nil {
		if err := u.cfg.Publisher.Publish(ctx, records); err != nil {
			log.Warn().Err(err).Msg("unable to publish rate updates")
		}
	}
	return nil
}

func historyRecords(fresh map[string]model.RatePair, now model.Timestamp) []model.HistoryRecord {
	keys := make([]string, 0, len(fresh))
	for key := range fresh {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	stamp := now.UTC().Format(time.RFC3339Nano)
	records := make([]model.HistoryRecord, 0, len(keys))
	for _, key := range keys {
		from, to, ok := model.SplitPairKey(key)
		if !ok {
			log.Warn().Str("pair", key).Msg("malformed pair key, not recorded in history")
			continue
		}
		p := fresh[key]
		records = append(records, model.HistoryRecord{
			ID:           key + "_" + stamp,
			FromCurrency: from,
			ToCurrency:   to,
			Rate:         p.Rate,
			Timestamp:    now,
			Source:       p.Source,
		})
	}
	return records
}

func describe(o fetchOutcome) string {
	var provErr *model.ProviderError
	if errors.As(o.err, &provErr) {
		return provErr.Error()
	}
	return fmt.Sprintf("%s: unexpected error: %v", o.provider.Name(), o.err)
}
