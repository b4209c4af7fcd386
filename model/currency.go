package model

import (
	"fmt"
	"strings"
)

// unexported type to disable any new types
type currency string

const (
	Fiat   currency = currency("FIAT")   // Fiat represents physical currency
	Crypto currency = currency("CRYPTO") // Crypto represents crypto currency
)

// Currency holds information
// on the operating currency
type Currency struct {
	Name         string   // Name of the currency
	Symbol       string   // Symbol of the currency
	CurrencyType currency // Currency type
	Issuer       string   // Issuing country for fiat, consensus algorithm for crypto
}

// DisplayInfo returns a one line human readable description.
func (c Currency) DisplayInfo() string {
	if c.CurrencyType == Crypto {
		return fmt.Sprintf("[CRYPTO] %s - %s (Algo: %s)", c.Symbol, c.Name, c.Issuer)
	}
	return fmt.Sprintf("[FIAT] %s - %s (Issuing: %s)", c.Symbol, c.Name, c.Issuer)
}

// NormalizeCode trims and upper-cases a currency code and checks its shape.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < 2 || len(code) > 5 || strings.ContainsAny(code, " \t") {
		return "", fmt.Errorf("%w: %q", ErrCurrencyNotFound, code)
	}
	return code, nil
}

// DefaultCurrencies returns the built-in fiat and crypto currencies.
func DefaultCurrencies() ([]Currency, []Currency) {
	fiats := []Currency{
		{Name: "US Dollar", Symbol: "USD", CurrencyType: Fiat, Issuer: "United States"},
		{Name: "Euro", Symbol: "EUR", CurrencyType: Fiat, Issuer: "Eurozone"},
		{Name: "British Pound", Symbol: "GBP", CurrencyType: Fiat, Issuer: "United Kingdom"},
		{Name: "Russian Ruble", Symbol: "RUB", CurrencyType: Fiat, Issuer: "Russia"},
		{Name: "Japanese Yen", Symbol: "JPY", CurrencyType: Fiat, Issuer: "Japan"},
		{Name: "Chinese Yuan", Symbol: "CNY", CurrencyType: Fiat, Issuer: "China"},
	}
	cryptos := []Currency{
		{Name: "Bitcoin", Symbol: "BTC", CurrencyType: Crypto, Issuer: "SHA-256"},
		{Name: "Ethereum", Symbol: "ETH", CurrencyType: Crypto, Issuer: "Ethash"},
		{Name: "Tether", Symbol: "USDT", CurrencyType: Crypto, Issuer: "Omni"},
		{Name: "Binance Coin", Symbol: "BNB", CurrencyType: Crypto, Issuer: "BFT"},
		{Name: "Solana", Symbol: "SOL", CurrencyType: Crypto, Issuer: "PoH"},
		{Name: "Ripple", Symbol: "XRP", CurrencyType: Crypto, Issuer: "RPCA"},
	}
	return fiats, cryptos
}

// Registry is an immutable lookup of supported currencies.
type Registry struct {
	order  []string
	byCode map[string]Currency
}

// NewRegistry indexes fiats followed by cryptos. Later duplicates are ignored.
func NewRegistry(fiats, cryptos []Currency) *Registry {
	r := &Registry{byCode: make(map[string]Currency, len(fiats)+len(cryptos))}
	for _, list := range [][]Currency{fiats, cryptos} {
		for _, c := range list {
			code := strings.ToUpper(strings.TrimSpace(c.Symbol))
			if _, ok := r.byCode[code]; ok {
				continue
			}
			c.Symbol = code
			r.byCode[code] = c
			r.order = append(r.order, code)
		}
	}
	return r
}

// Lookup validates and resolves a currency code.
func (r *Registry) Lookup(code string) (Currency, error) {
	norm, err := NormalizeCode(code)
	if err != nil {
		return Currency{}, err
	}
	c, ok := r.byCode[norm]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %q", ErrCurrencyNotFound, norm)
	}
	return c, nil
}

// All returns every registered currency in registration order.
func (r *Registry) All() []Currency {
	out := make([]Currency, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.byCode[code])
	}
	return out
}

// Codes returns the registered codes of the given type, or all when kind is empty.
func (r *Registry) Codes(kind currency) []string {
	var out []string
	for _, code := range r.order {
		if kind == "" || r.byCode[code].CurrencyType == kind {
			out = append(out, code)
		}
	}
	return out
}
