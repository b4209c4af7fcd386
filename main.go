package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kylycht/valutatrade/controller/converter"
	"github.com/kylycht/valutatrade/logging"
	"github.com/kylycht/valutatrade/model"
	"github.com/kylycht/valutatrade/service"
	"github.com/kylycht/valutatrade/service/apiclient"
	"github.com/kylycht/valutatrade/service/coingecko"
	"github.com/kylycht/valutatrade/service/events"
	"github.com/kylycht/valutatrade/service/forex"
	"github.com/kylycht/valutatrade/service/scheduler"
	"github.com/kylycht/valutatrade/service/updater"
	"github.com/kylycht/valutatrade/storage"
	"github.com/kylycht/valutatrade/storage/cache"
	"github.com/kylycht/valutatrade/storage/filestore"
	"github.com/kylycht/valutatrade/storage/persistence"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

//	@title			ValutaTrade rates
//	@version		1.0
//	@description	Crypto and fiat exchange rates with a persistent cache

// @host		localhost:3000
func main() {
	a := &Application{}
	if err := newCLI(a).Run(os.Args); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

type Application struct {
	cfg      Config                 // application configuration
	fiberApp *fiber.App             // underlying fiber application
	db       storage.Storage        // currency registry source
	dbConn   *sql.DB                // underlying persistence connection, nil without a database
	registry *model.Registry        // supported currencies
	store    storage.RateStore      // rate snapshot and history files
	cache    storage.Cache          // read side of the rates
	updater  service.Updater        // refreshes the store from the providers
	events   *events.KafkaPublisher // nil unless kafka brokers are configured
}

func newCLI(a *Application) *cli.App {
	return &cli.App{
		Name:  "valutatrade",
		Usage: "crypto and fiat exchange rates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				EnvVars: []string{"VALUTATRADE_CONFIG"},
				Usage:   "path to the yaml configuration",
			},
		},
		Before: func(c *cli.Context) error {
			return a.init(c.Context, c.String("config"))
		},
		After: func(c *cli.Context) error {
			a.close()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve rates over http and refresh them on schedule",
				Action: a.serve,
			},
			{
				Name:  "update-rates",
				Usage: "fetch fresh rates from the providers",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Usage: "coingecko or exchangerate, all when empty"},
				},
				Action: a.updateRates,
			},
			{
				Name:  "show-rates",
				Usage: "print cached rates",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "currency", Usage: "only pairs containing this currency"},
					&cli.IntFlag{Name: "top", Usage: "highest N rates"},
					&cli.StringFlag{Name: "base", Usage: "express rates against this currency"},
				},
				Action: a.showRates,
			},
			{
				Name:  "get-rate",
				Usage: "print the rate between two currencies",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
				},
				Action: a.getRate,
			},
			{
				Name:   "list-currencies",
				Usage:  "print supported currencies",
				Action: a.listCurrencies,
			},
		},
	}
}

func (a *Application) init(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	if cfg.Database.Host != "" {
		log.Debug().Str("host", cfg.Database.Host).Msg("initialize db connection")

		dbConn, err := sql.Open("postgres", cfg.Database.ConnString())
		if err != nil {
			log.Error().Err(err).Msg("unable to connect to db")
			return err
		}
		a.dbConn = dbConn
		a.db = persistence.New(dbConn)
	} else {
		a.db = persistence.NewStatic()
	}

	fiats, cryptos, err := a.db.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("unable to load currencies")
		return err
	}
	a.registry = model.NewRegistry(fiats, cryptos)

	policy, err := updater.ParsePolicy(cfg.Update.OnProviderFailure)
	if err != nil {
		return err
	}

	var publisher service.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		a.events = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = a.events
	}

	a.store = filestore.New(cfg.RatesFilePath, cfg.HistoryFilePath)
	a.cache = cache.New(a.store, cfg.PivotCurrency, cfg.RatesTTL())
	a.updater = updater.New(a.providers(), a.store, updater.Config{
		Parallelism:       cfg.Update.Parallelism,
		OnProviderFailure: policy,
		Publisher:         publisher,
	})

	return nil
}

// providers builds the rate providers in the configured merge order.
func (a *Application) providers() []service.Provider {
	var headers map[string]string
	if a.cfg.Update.UserAgent != "" {
		headers = map[string]string{"User-Agent": a.cfg.Update.UserAgent}
	}

	api := apiclient.New(apiclient.Config{
		Timeout:           a.cfg.RequestTimeout(),
		MaxAttempts:       a.cfg.Update.MaxAttempts,
		InitialBackoff:    a.cfg.InitialBackoff(),
		RequestsPerSecond: a.cfg.Update.RequestsPerSecond,
		Burst:             a.cfg.Update.Burst,
		Headers:           headers,
	})

	out := make([]service.Provider, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		switch src {
		case coingecko.Key:
			out = append(out, coingecko.New(coingecko.Config{
				BaseURL:    a.cfg.CoinGeckoURL,
				Pivot:      a.cfg.PivotCurrency,
				Currencies: a.registry.Codes(model.Crypto),
				IDs:        a.cfg.CryptoIDs,
			}, api))
		case forex.Key:
			out = append(out, forex.New(forex.Config{
				BaseURL:    a.cfg.ExchangeURL,
				APIKey:     a.cfg.ExchangeAPIKey,
				Pivot:      a.cfg.PivotCurrency,
				Currencies: a.registry.Codes(model.Fiat),
			}, api))
		}
	}
	return out
}

func (a *Application) serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.fiberApp = fiber.New()
	a.buildRoutes()

	var sched *scheduler.Scheduler
	if a.cfg.Update.Schedule != "" {
		var err error
		sched, err = scheduler.New(a.cfg.Update.Schedule, a.updater, 5*time.Minute)
		if err != nil {
			return err
		}
		sched.Start()
	}

	errC := make(chan error, 1)
	go func() {
		log.Debug().Str("port", a.cfg.HTTPPort).Msg("preparing fiber http server")
		errC <- a.fiberApp.Listen(a.cfg.HTTPPort)
	}()

	var err error
	select {
	case err = <-errC:
		log.Error().Err(err).Msg("unable to start http server")
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if shutdownErr := a.fiberApp.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("unable to stop http server")
	}

	return err
}

func (a *Application) buildRoutes() {
	conv := converter.New(a.cache, a.registry, a.updater)

	a.fiberApp.Get("/convert", conv.Convert)
	a.fiberApp.Get("/currencies", conv.ListCurrencies)
	a.fiberApp.Get("/rates", conv.ListRates)
	a.fiberApp.Get("/rates/:from/:to", conv.GetRate)
	a.fiberApp.Post("/rates/update", conv.UpdateRates)
	a.fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (a *Application) updateRates(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := c.String("source")
	var res model.UpdateResult
	err := logging.Action("update_rates", map[string]interface{}{"source": source}, func() error {
		res = a.updater.Run(ctx, source)
		if !res.Success {
			return fmt.Errorf("update failed: %d errors", len(res.Errors))
		}
		return nil
	})

	w := c.App.Writer
	fmt.Fprintf(w, "Update finished at %s: %d rates from %v\n", res.Timestamp, res.TotalRates, res.SuccessfulSources)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}

	return err
}

func (a *Application) showRates(c *cli.Context) error {
	q := model.ListQuery{Top: c.Int("top")}
	if q.Top < 0 {
		return fmt.Errorf("top must not be negative, got %d", q.Top)
	}
	for flag, dst := range map[string]*string{"currency": &q.Currency, "base": &q.Base} {
		if c.String(flag) == "" {
			continue
		}
		cur, err := a.registry.Lookup(c.String(flag))
		if err != nil {
			return err
		}
		*dst = cur.Symbol
	}

	pairs, refreshed, err := a.cache.List(q)
	if err != nil {
		return err
	}

	w := c.App.Writer
	if len(pairs) == 0 {
		if q.Currency != "" {
			fmt.Fprintf(w, "No rates cached for %s\n", q.Currency)
			return nil
		}
		fmt.Fprintln(w, "Rate cache is empty, run update-rates first")
		return nil
	}

	fmt.Fprintf(w, "Rates from cache (updated at %s):\n", refreshed)
	for _, p := range pairs {
		stale := ""
		if p.Stale {
			stale = " (stale)"
		}
		fmt.Fprintf(w, "  %s: %.8g [%s]%s\n", p.Pair, p.Rate, p.Source, stale)
	}
	return nil
}

func (a *Application) getRate(c *cli.Context) error {
	from, err := a.registry.Lookup(c.String("from"))
	if err != nil {
		return err
	}
	to, err := a.registry.Lookup(c.String("to"))
	if err != nil {
		return err
	}

	rate, err := a.cache.Get(from.Symbol, to.Symbol)
	if errors.Is(err, model.ErrRateUnavailable) {
		return fmt.Errorf("%w, run update-rates to refresh the cache", err)
	}
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Rate %s→%s: %.8g (updated at %s)\n", rate.From, rate.To, rate.Rate, rate.UpdatedAt)
	fmt.Fprintf(w, "Reverse rate %s→%s: %.8g\n", rate.To, rate.From, rate.ReverseRate)
	if rate.Warning != "" {
		fmt.Fprintf(w, "Warning: %s\n", rate.Warning)
	}
	return nil
}

func (a *Application) listCurrencies(c *cli.Context) error {
	for _, cur := range a.registry.All() {
		fmt.Fprintln(c.App.Writer, cur.DisplayInfo())
	}
	return nil
}

func (a *Application) close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close kafka publisher")
		}
	}
	if a.dbConn != nil {
		if err := a.dbConn.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close db connection")
		}
	}
}
