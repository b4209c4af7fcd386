package converter

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kylycht/valutatrade/logging"
	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service"
	"github.com/kylycht/valutatrade/storage"
	"github.com/rs/zerolog/log"
)

func New(cache storage.Cache, registry *model.Registry, updater service.Updater) *Converter {
	return &Converter{cache: cache, registry: registry, updater: updater}
}

type Converter struct {
	cache    storage.Cache   // read side of the rate store
	registry *model.Registry // supported currencies
	updater  service.Updater // operator triggered refresh
}

type ConvertResponse struct {
	model.ExchangeRate
	Amount float64 `json:"amount"`
	Result float64 `json:"result"`
}

type RatesResponse struct {
	LastRefresh model.Timestamp `json:"last_refresh"`
	Rates       []RateEntry     `json:"rates"`
}

type RateEntry struct {
	Pair      string          `json:"pair"`
	Rate      float64         `json:"rate"`
	UpdatedAt model.Timestamp `json:"updated_at"`
	Source    string          `json:"source"`
	Stale     bool            `json:"stale,omitempty"`
}

type CurrencyEntry struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
	Info string `json:"info"`
}

// Convert godoc
//
//	@Summary		Convert an amount between two supported currencies
//	@Tags			converter
//	@Param			from	query	string	true	"From Currency" example(BTC)
//	@Param			to		query	string	true	"To Currency"   example(USD)
//	@Param			amount	query	number	false	"Amount"        example(3.1)
//	@Success		200	{object}	ConvertResponse
//	@Failure		400	{string}	string "currency not found"
//	@Failure		404	{string}	string "rate unavailable for pair: EUR/XRP"
//	@Router			/convert [get]
func (c *Converter) Convert(ctx *fiber.Ctx) error {
	from := ctx.Query("from")
	to := ctx.Query("to")
	amount := ctx.QueryFloat("amount", 1)

	if amount <= 0 {
		return fiber.NewError(http.StatusBadRequest, "amount must be positive")
	}

	var resp ConvertResponse
	err := logging.Action("convert", map[string]interface{}{"from": from, "to": to, "amount": amount}, func() error {
		rate, err := c.quote(from, to)
		if err != nil {
			return err
		}
		resp = ConvertResponse{ExchangeRate: rate, Amount: amount, Result: amount * rate.Rate}
		return nil
	})
	if err != nil {
		return httpError(err)
	}

	return ctx.JSON(resp)
}

// GetRate godoc
//
//	@Summary		Current rate between two currencies
//	@Tags			rates
//	@Param			from	path	string	true	"From Currency" example(EUR)
//	@Param			to		path	string	true	"To Currency"   example(BTC)
//	@Success		200	{object}	model.ExchangeRate
//	@Router			/rates/{from}/{to} [get]
func (c *Converter) GetRate(ctx *fiber.Ctx) error {
	from := ctx.Params("from")
	to := ctx.Params("to")

	var rate model.ExchangeRate
	err := logging.Action("get_rate", map[string]interface{}{"from": from, "to": to}, func() error {
		var err error
		rate, err = c.quote(from, to)
		return err
	})
	if err != nil {
		return httpError(err)
	}

	return ctx.JSON(rate)
}

// ListRates godoc
//
//	@Summary		Cached rates
//	@Tags			rates
//	@Param			currency	query	string	false	"Only pairs containing this currency"
//	@Param			top			query	int		false	"Highest N rates"
//	@Param			base		query	string	false	"Express rates against this currency"
//	@Success		200	{object}	RatesResponse
//	@Router			/rates [get]
func (c *Converter) ListRates(ctx *fiber.Ctx) error {
	q := model.ListQuery{
		Currency: ctx.Query("currency"),
		Top:      ctx.QueryInt("top", 0),
		Base:     ctx.Query("base"),
	}
	if q.Top < 0 {
		return fiber.NewError(http.StatusBadRequest, "top must not be negative")
	}
	for _, code := range []*string{&q.Currency, &q.Base} {
		if *code == "" {
			continue
		}
		cur, err := c.registry.Lookup(*code)
		if err != nil {
			return httpError(err)
		}
		*code = cur.Symbol
	}

	pairs, refreshed, err := c.cache.List(q)
	if err != nil {
		return httpError(err)
	}

	resp := RatesResponse{LastRefresh: refreshed, Rates: make([]RateEntry, 0, len(pairs))}
	for _, p := range pairs {
		resp.Rates = append(resp.Rates, RateEntry{
			Pair:      p.Pair,
			Rate:      p.Rate,
			UpdatedAt: p.UpdatedAt,
			Source:    p.Source,
			Stale:     p.Stale,
		})
	}

	return ctx.JSON(resp)
}

// UpdateRates godoc
//
//	@Summary		Refresh the rate cache from the providers
//	@Tags			rates
//	@Param			source	query	string	false	"coingecko or exchangerate"
//	@Success		200	{object}	model.UpdateResult
//	@Failure		502	{object}	model.UpdateResult
//	@Router			/rates/update [post]
func (c *Converter) UpdateRates(ctx *fiber.Ctx) error {
	source := ctx.Query("source")

	result := c.updater.Run(ctx.UserContext(), source)
	log.Debug().Str("source", source).Bool("success", result.Success).Msg("update triggered over http")

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}

	return ctx.Status(status).JSON(result)
}

// ListCurrencies godoc
//
//	@Summary		Supported currencies
//	@Tags			currencies
//	@Success		200	{array}	CurrencyEntry
//	@Router			/currencies [get]
func (c *Converter) ListCurrencies(ctx *fiber.Ctx) error {
	all := c.registry.All()
	out := make([]CurrencyEntry, 0, len(all))
	for _, cur := range all {
		out = append(out, CurrencyEntry{
			Code: cur.Symbol,
			Name: cur.Name,
			Type: strings.ToLower(string(cur.CurrencyType)),
			Info: cur.DisplayInfo(),
		})
	}
	return ctx.JSON(out)
}

func (c *Converter) quote(from, to string) (model.ExchangeRate, error) {
	fromCur, err := c.registry.Lookup(from)
	if err != nil {
		return model.ExchangeRate{}, err
	}
	toCur, err := c.registry.Lookup(to)
	if err != nil {
		return model.ExchangeRate{}, err
	}
	return c.cache.Get(fromCur.Symbol, toCur.Symbol)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, model.ErrCurrencyNotFound):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrRateUnavailable):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("error occurred while serving rates")
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
