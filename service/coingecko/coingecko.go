package coingecko

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service/apiclient"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	baseURL string = "https://api.coingecko.com/api/v3/simple/price"

	Key  = "coingecko"
	Name = "CoinGecko"
)

// DefaultIDs maps internal crypto codes to CoinGecko asset ids.
var DefaultIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"USDT": "tether",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
}

type Config struct {
	BaseURL    string            // defaults to the public endpoint
	Pivot      string            // vs_currency
	Currencies []string          // crypto codes to request
	IDs        map[string]string // code -> asset id, defaults to DefaultIDs
}

// Client fetches crypto prices against the pivot currency.
type Client struct {
	baseURL string
	pivot   string
	ids     map[string]string // only the requested codes
	api     *apiclient.Client
}

func New(cfg Config, api *apiclient.Client) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = baseURL
	}
	idMap := cfg.IDs
	if len(idMap) == 0 {
		idMap = DefaultIDs
	}

	ids := make(map[string]string, len(cfg.Currencies))
	for _, code := range cfg.Currencies {
		code = strings.ToUpper(code)
		if id, ok := idMap[code]; ok {
			ids[code] = id
			continue
		}
		log.Warn().Str("currency", code).Msg("no coingecko id configured, skipping")
	}

	return &Client{
		baseURL: base,
		pivot:   strings.ToUpper(cfg.Pivot),
		ids:     ids,
		api:     api,
	}
}

// Key implements service.Provider.
func (c *Client) Key() string { return Key }

// Name implements service.Provider.
func (c *Client) Name() string { return Name }

// FetchRates implements service.Provider.
// GET /simple/price?ids=bitcoin,ethereum&vs_currencies=usd
func (c *Client) FetchRates(ctx context.Context) (model.ProviderResult, error) {
	result := model.ProviderResult{Source: Name, Rates: make(map[string]float64, len(c.ids))}
	if len(c.ids) == 0 {
		return result, nil
	}

	assetIDs := make([]string, 0, len(c.ids))
	for _, id := range c.ids {
		assetIDs = append(assetIDs, id)
	}
	sort.Strings(assetIDs)

	vs := strings.ToLower(c.pivot)
	query := url.Values{}
	query.Set("ids", strings.Join(assetIDs, ","))
	query.Set("vs_currencies", vs)

	var body bytes.Buffer
	if err := c.api.Get(ctx, c.baseURL+"?"+query.Encode(), &body); err != nil {
		return model.ProviderResult{}, &model.ProviderError{Provider: Name, Err: err}
	}

	if !gjson.ValidBytes(body.Bytes()) {
		return model.ProviderResult{}, &model.ProviderError{Provider: Name, Err: errors.New("invalid json in response")}
	}

	prices := gjson.ParseBytes(body.Bytes()).Map()
	for code, id := range c.ids {
		price := prices[id].Map()[vs]
		if !price.Exists() || price.Float() <= 0 {
			log.Debug().Str("currency", code).Str("id", id).Msg("price missing in response")
			continue
		}
		result.Rates[model.PairKey(code, c.pivot)] = price.Float()
	}

	log.Info().Int("rates", len(result.Rates)).Msg("fetched crypto rates")
	return result, nil
}
