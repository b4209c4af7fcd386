package persistence

import (
	"context"
	"database/sql"

	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/storage"
)

// Persistence loads the currency registry from the `currency` table.
type Persistence struct {
	dbConn *sql.DB
}

// New returns a registry that reads the currency table through dbConn.
func New(dbConn *sql.DB) storage.Storage {
	return &Persistence{
		dbConn: dbConn,
	}
}

// Load implements storage.Storage.
func (p *Persistence) Load(ctx context.Context) ([]model.Currency, []model.Currency, error) {
	loadQuery := `SELECT name, symbol, currency_type, issuer
				 FROM currency 
				 WHERE is_available=true
				 ORDER BY id`

	var fiats []model.Currency
	var cryptos []model.Currency

	rows, err := p.dbConn.QueryContext(ctx, loadQuery)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c := model.Currency{}

		if err := rows.Scan(&c.Name, &c.Symbol, &c.CurrencyType, &c.Issuer); err != nil {
			return fiats, cryptos, err
		}

		if c.CurrencyType == model.Fiat {
			fiats = append(fiats, c)
			continue
		}

		cryptos = append(cryptos, c)
	}

	return fiats, cryptos, rows.Err()
}

// Static serves the built-in currency list.
type Static struct{}

// NewStatic returns the built-in registry used when no database is configured.
func NewStatic() storage.Storage {
	return Static{}
}

// Load implements storage.Storage.
func (Static) Load(context.Context) ([]model.Currency, []model.Currency, error) {
	fiats, cryptos := model.DefaultCurrencies()
	return fiats, cryptos, nil
}
