package forex

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service/apiclient"
	"github.com/rs/zerolog/log"
)

const (
	baseURL string = "https://v6.exchangerate-api.com/v6" // base URL of ExchangeRate-API

	Key  = "exchangerate"
	Name = "ExchangeRate-API"
)

type Response struct {
	Result          string             `json:"result"`
	ErrorType       string             `json:"error-type"`
	BaseCode        string             `json:"base_code"`
	ConversionRates map[string]float64 `json:"conversion_rates"`
}

// Config selects the endpoint and the tracked fiat currencies.
type Config struct {
	BaseURL    string   // defaults to the public endpoint
	APIKey     string   // required
	Pivot      string   // anchor currency of the request
	Currencies []string // fiat codes to keep
}

// Client fetches fiat rates anchored at the pivot currency and
// stores them as CODE_PIVOT.
type Client struct {
	baseURL    string
	apiKey     string
	pivot      string
	currencies []string
	api        *apiclient.Client
}

func New(cfg Config, api *apiclient.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = baseURL
	}

	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		pivot:      strings.ToUpper(cfg.Pivot),
		currencies: cfg.Currencies,
		api:        api,
	}
}

// Key implements service.Provider.
func (f *Client) Key() string { return Key }

// Name implements service.Provider.
func (f *Client) Name() string { return Name }

// FetchRates implements service.Provider.
// GET /<api_key>/latest/<pivot>
func (f *Client) FetchRates(ctx context.Context) (model.ProviderResult, error) {
	if f.apiKey == "" {
		return model.ProviderResult{}, f.fail(fmt.Errorf("%w: exchangerate api key is not set", model.ErrConfiguration))
	}

	u := fmt.Sprintf("%s/%s/latest/%s", f.baseURL, url.PathEscape(f.apiKey), url.PathEscape(f.pivot))

	r := &Response{}
	if err := f.api.Get(ctx, u, r); err != nil {
		return model.ProviderResult{}, f.fail(err)
	}

	if r.Result != "success" {
		errType := r.ErrorType
		if errType == "" {
			errType = "unknown"
		}
		return model.ProviderResult{}, f.fail(fmt.Errorf("api returned error: %s", errType))
	}

	result := model.ProviderResult{Source: Name, Rates: make(map[string]float64, len(f.currencies))}

	for _, code := range f.currencies {
		code = strings.ToUpper(code)
		if code == f.pivot {
			continue
		}
		pivotToCode, ok := r.ConversionRates[code]
		if !ok || pivotToCode <= 0 {
			log.Debug().Str("currency", code).Msg("rate missing in response")
			continue
		}
		// the api quotes PIVOT->CODE, rates are stored as CODE->PIVOT
		result.Rates[model.PairKey(code, f.pivot)] = 1.0 / pivotToCode
	}

	log.Info().Int("rates", len(result.Rates)).Msg("fetched fiat rates")
	return result, nil
}

func (f *Client) fail(err error) error {
	return &model.ProviderError{Provider: Name, Err: err}
}
