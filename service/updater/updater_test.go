package updater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service"
	"github.com/kylycht/valutatrade/storage/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	key, name string
	rates     map[string]float64
	err       error
	delay     time.Duration
	onFetch   func()
	calls     int
}

func (f *fakeProvider) Key() string  { return f.key }
func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) FetchRates(ctx context.Context) (model.ProviderResult, error) {
	f.calls++
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return model.ProviderResult{}, f.err
	}
	return model.ProviderResult{Source: f.name, Rates: f.rates}, nil
}

type memStore struct {
	mu       sync.Mutex
	snap     model.RateSnapshot
	history  []model.HistoryRecord
	saves    int
	saveErr  error
	appendEr error
}

func (m *memStore) Load() model.RateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Pairs == nil {
		return model.EmptySnapshot()
	}
	return m.snap
}

func (m *memStore) Save(s model.RateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snap = s
	return nil
}

func (m *memStore) AppendHistory(records []model.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendEr != nil {
		return m.appendEr
	}
	m.history = append(m.history, records...)
	return nil
}

var fixedNow = time.Date(2025, 10, 10, 12, 0, 0, 0, time.UTC)

func newUpdater(store *memStore, cfg Config, providers ...*fakeProvider) *RatesUpdater {
	list := make([]service.Provider, 0, len(providers))
	for _, p := range providers {
		list = append(list, p)
	}
	u := New(list, store, cfg)
	u.now = func() time.Time { return fixedNow }
	return u
}

func crypto() *fakeProvider {
	return &fakeProvider{key: "coingecko", name: "CoinGecko", rates: map[string]float64{"BTC_USD": 59337.21, "ETH_USD": 2450.5}}
}

func fiat() *fakeProvider {
	return &fakeProvider{key: "exchangerate", name: "ExchangeRate-API", rates: map[string]float64{"EUR_USD": 1.0932}}
}

func failing(p *fakeProvider) *fakeProvider {
	p.err = &model.ProviderError{Provider: p.name, Err: errors.New("connection refused")}
	return p
}

func TestRunAllProvidersSucceed(t *testing.T) {
	store := &memStore{}
	res := newUpdater(store, Config{}, crypto(), fiat()).Run(context.Background(), "")

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.TotalRates)
	assert.Equal(t, []string{"CoinGecko", "ExchangeRate-API"}, res.SuccessfulSources)
	assert.Empty(t, res.Errors)
	assert.True(t, res.Timestamp.Equal(fixedNow))

	require.Len(t, store.snap.Pairs, 3)
	assert.Equal(t, "ExchangeRate-API", store.snap.Pairs["EUR_USD"].Source)
	assert.True(t, store.snap.Pairs["BTC_USD"].UpdatedAt.Equal(fixedNow))
	assert.True(t, store.snap.LastRefresh.Equal(fixedNow))

	require.Len(t, store.history, 3)
	assert.Equal(t, "BTC_USD_2025-10-10T12:00:00Z", store.history[0].ID)
	assert.Equal(t, "BTC", store.history[0].FromCurrency)
	assert.Equal(t, "USD", store.history[0].ToCurrency)
}

func TestRunPartialFailure(t *testing.T) {
	store := &memStore{}
	res := newUpdater(store, Config{}, failing(crypto()), fiat()).Run(context.Background(), "")

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.TotalRates)
	assert.Equal(t, []string{"ExchangeRate-API"}, res.SuccessfulSources)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "CoinGecko")
	assert.Len(t, store.snap.Pairs, 1)
}

func TestRunTotalFailureSavesNothing(t *testing.T) {
	store := &memStore{}
	res := newUpdater(store, Config{}, failing(crypto()), failing(fiat())).Run(context.Background(), "")

	assert.False(t, res.Success)
	assert.Zero(t, res.TotalRates)
	assert.Empty(t, res.SuccessfulSources)
	assert.Len(t, res.Errors, 2)
	assert.Zero(t, store.saves)
	assert.Empty(t, store.history)
}

func TestRunUnexpectedErrorIsRecorded(t *testing.T) {
	p := crypto()
	p.err = errors.New("boom")
	res := newUpdater(&memStore{}, Config{}, p, fiat()).Run(context.Background(), "")

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "CoinGecko: unexpected error: boom", res.Errors[0])
}

func TestRunReplaceDropsPairsOfFailedProvider(t *testing.T) {
	store := &memStore{}
	u := newUpdater(store, Config{}, crypto(), fiat())
	require.True(t, u.Run(context.Background(), "").Success)

	failing(u.providers[0].(*fakeProvider))
	res := u.Run(context.Background(), "")
	require.True(t, res.Success)

	assert.Len(t, store.snap.Pairs, 1)
	assert.NotContains(t, store.snap.Pairs, "BTC_USD")
}

func TestRunRetainKeepsPairsOfFailedProvider(t *testing.T) {
	store := &memStore{}
	u := newUpdater(store, Config{OnProviderFailure: Retain}, crypto(), fiat())
	require.True(t, u.Run(context.Background(), "").Success)

	failing(u.providers[0].(*fakeProvider))
	u.now = func() time.Time { return fixedNow.Add(time.Hour) }
	res := u.Run(context.Background(), "")

	require.True(t, res.Success)
	assert.Equal(t, 1, res.TotalRates)
	require.Len(t, store.snap.Pairs, 3)

	btc := store.snap.Pairs["BTC_USD"]
	assert.True(t, btc.Stale)
	assert.True(t, btc.UpdatedAt.Equal(fixedNow))

	eur := store.snap.Pairs["EUR_USD"]
	assert.False(t, eur.Stale)
	assert.True(t, eur.UpdatedAt.Equal(fixedNow.Add(time.Hour)))

	assert.Len(t, store.history, 4, "carried pairs are not re-recorded")
}

func TestRunRetainedPairsAreServedWithWarning(t *testing.T) {
	store := &memStore{}
	u := newUpdater(store, Config{OnProviderFailure: Retain}, crypto(), fiat())
	u.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	require.True(t, u.Run(context.Background(), "").Success)

	failing(u.providers[0].(*fakeProvider))
	u.now = time.Now
	require.True(t, u.Run(context.Background(), "").Success)

	rates := cache.New(store, "USD", 300*time.Second)

	btc, err := rates.Get("BTC", "USD")
	require.NoError(t, err)
	assert.Equal(t, 59337.21, btc.Rate)
	assert.Equal(t, cache.StaleWarning, btc.Warning)

	eur, err := rates.Get("EUR", "USD")
	require.NoError(t, err)
	assert.Empty(t, eur.Warning)
}

func TestRunSourceFilter(t *testing.T) {
	store := &memStore{}
	c, f := crypto(), fiat()
	res := newUpdater(store, Config{}, c, f).Run(context.Background(), "CoinGecko")

	assert.True(t, res.Success)
	assert.Equal(t, []string{"CoinGecko"}, res.SuccessfulSources)
	assert.Equal(t, 1, c.calls)
	assert.Zero(t, f.calls)

	res = newUpdater(store, Config{}, c, f).Run(context.Background(), "exchangerate")
	assert.Equal(t, []string{"ExchangeRate-API"}, res.SuccessfulSources)
}

func TestRunUnknownSource(t *testing.T) {
	store := &memStore{}
	res := newUpdater(store, Config{}, crypto()).Run(context.Background(), "binance")

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Zero(t, store.saves)
}

func TestRunCollisionLastWriterWins(t *testing.T) {
	store := &memStore{}
	a := &fakeProvider{key: "a", name: "A", rates: map[string]float64{"USDT_USD": 1.001}, delay: 20 * time.Millisecond}
	b := &fakeProvider{key: "b", name: "B", rates: map[string]float64{"USDT_USD": 0.999}}

	for _, parallelism := range []int{1, 4} {
		res := newUpdater(store, Config{Parallelism: parallelism}, a, b).Run(context.Background(), "")
		require.True(t, res.Success)
		assert.Equal(t, []string{"A", "B"}, res.SuccessfulSources)
		assert.Equal(t, 0.999, store.snap.Pairs["USDT_USD"].Rate)
		assert.Equal(t, "B", store.snap.Pairs["USDT_USD"].Source)
	}
}

func TestRunCancelledNeverSaves(t *testing.T) {
	store := &memStore{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := crypto()
	c.onFetch = cancel
	res := newUpdater(store, Config{}, c, fiat()).Run(ctx, "")

	assert.False(t, res.Success)
	assert.Zero(t, store.saves)
	assert.Empty(t, store.history)
	assert.NotEmpty(t, res.Errors)
}

func TestRunSaveFailureKeepsProviderSuccess(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	res := newUpdater(store, Config{}, crypto(), fiat()).Run(context.Background(), "")

	assert.True(t, res.Success)
	assert.Len(t, res.SuccessfulSources, 2)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "disk full")
	assert.Empty(t, store.history)
}

func TestRunHistoryFailureIsReported(t *testing.T) {
	store := &memStore{appendEr: model.ErrStoreCorrupt}
	res := newUpdater(store, Config{}, fiat()).Run(context.Background(), "")

	assert.True(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, store.saves)
}

type recordingPublisher struct {
	records []model.HistoryRecord
	err     error
}

func (r *recordingPublisher) Publish(_ context.Context, records []model.HistoryRecord) error {
	r.records = append(r.records, records...)
	return r.err
}

func TestRunPublishesCommittedRates(t *testing.T) {
	pub := &recordingPublisher{}
	store := &memStore{}
	res := newUpdater(store, Config{Publisher: pub}, crypto(), fiat()).Run(context.Background(), "")

	require.True(t, res.Success)
	assert.Equal(t, store.history, pub.records)
}

func TestRunPublishFailureIsNotAnUpdateError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	res := newUpdater(&memStore{}, Config{Publisher: pub}, fiat()).Run(context.Background(), "")

	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
}

func TestRunNothingPublishedWhenSaveFails(t *testing.T) {
	pub := &recordingPublisher{}
	newUpdater(&memStore{saveErr: errors.New("disk full")}, Config{Publisher: pub}, fiat()).Run(context.Background(), "")
	assert.Empty(t, pub.records)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Replace, p)

	p, err = ParsePolicy(" RETAIN ")
	require.NoError(t, err)
	assert.Equal(t, Retain, p)

	_, err = ParsePolicy("merge")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
