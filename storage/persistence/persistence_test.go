package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kylycht/valutatrade/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSplitsFiatAndCrypto(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "symbol", "currency_type", "issuer"}).
		AddRow("US Dollar", "USD", "FIAT", "United States").
		AddRow("Bitcoin", "BTC", "CRYPTO", "SHA-256").
		AddRow("Euro", "EUR", "FIAT", "Eurozone")
	mock.ExpectQuery("SELECT name, symbol, currency_type, issuer").WillReturnRows(rows)

	fiats, cryptos, err := New(db).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, fiats, 2)
	assert.Equal(t, "USD", fiats[0].Symbol)
	assert.Equal(t, model.Fiat, fiats[0].CurrencyType)
	assert.Equal(t, "EUR", fiats[1].Symbol)

	require.Len(t, cryptos, 1)
	assert.Equal(t, "BTC", cryptos[0].Symbol)
	assert.Equal(t, "SHA-256", cryptos[0].Issuer)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name").WillReturnError(errors.New("connection reset"))

	_, _, err = New(db).Load(context.Background())
	assert.EqualError(t, err, "connection reset")
}

func TestStaticLoad(t *testing.T) {
	fiats, cryptos, err := NewStatic().Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, fiats, 6)
	assert.Len(t, cryptos, 6)
}
