package main

import (
	"LendLedger/internal/clock"
	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/custody"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/lending"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/server"
	"LendLedger/internal/store"
	"context"
	"database/sql"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := observability.NewLogger("lendingd")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	log = log.Level(observability.ParseLogLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("lendingd exited")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	health := observability.NewHealthChecker()
	clk := clock.System{}

	// --- Local state ---
	for _, p := range []string{cfg.StorePath, cfg.JournalPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return errors.Wrapf(err, "create data dir for %s", p)
		}
	}
	st, err := store.OpenBolt(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()

	journal, err := custody.OpenBoltJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	ledger := custody.NewLedger(journal, clk)
	replayed, err := ledger.Restore()
	if err != nil {
		return errors.Wrap(err, "restore custody ledger")
	}
	if err := ledger.ValidateGlobalBalance(); err != nil {
		return errors.Wrap(err, "custody ledger out of balance after restore")
	}
	log.Info().Int("transfers", replayed).Msg("custody ledger restored")

	feed := oracle.NewFeed(clk)

	// --- Optional Postgres ---
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		if db, err = openPostgres(ctx, cfg, log); err != nil {
			return err
		}
		defer db.Close()
		health.AddCheck("postgres", db.PingContext)
	} else {
		log.Warn().Msg("LENDING_POSTGRES_DSN empty, event log and history disabled")
	}

	// --- Engine ---
	persistCh := make(chan core.CoreOutput, cfg.PersistChanSize)
	var projectionCh, publishCh chan core.CoreOutput
	outputs := core.Outputs{}
	if db != nil {
		outputs.Persist = persistCh
		projectionCh = make(chan core.CoreOutput, cfg.ProjectionChanSize)
		outputs.Projection = projectionCh
	}
	if cfg.NATSURL != "" {
		publishCh = make(chan core.CoreOutput, cfg.PublishChanSize)
		outputs.Publish = publishCh
	}

	opts := []core.Option{
		core.WithMetrics(metrics),
		core.WithLogger(observability.NewLogger("engine")),
		core.WithOutputs(outputs),
	}
	if db != nil {
		opts = append(opts, core.WithDBChecker(persistence.NewPostgresIdempotencyChecker(db)))
	}
	engine, err := core.NewEngine(ctx, core.Config{
		Assets:              cfg.Assets(),
		MaxPriceAge:         cfg.MaxPriceAge,
		IdempotencyCapacity: cfg.IdempotencyCapacity,
	}, st, feed, ledger, clk, opts...)
	if err != nil {
		return errors.Wrap(err, "create engine")
	}

	if db != nil {
		checker := persistence.NewPostgresIdempotencyChecker(db)
		keys, err := checker.RecentKeys(ctx, cfg.IdempotencyCapacity)
		if err != nil {
			log.Warn().Err(err).Msg("idempotency warm-up skipped")
		} else {
			engine.WarmIdempotency(keys)
			log.Info().Int("keys", len(keys)).Msg("idempotency cache warmed")
		}
		if last, err := checker.LastSequence(ctx); err == nil && last != engine.Sequence() {
			log.Warn().Int64("event_log", last).Int64("store", engine.Sequence()).
				Msg("event log and record store disagree on the chain tip")
		}
	}

	// The workers must be running before any action commits, since the
	// persist send blocks.
	g, gctx := errgroup.WithContext(ctx)

	queryOpts := []query.Option{query.WithMetrics(metrics)}
	if db != nil {
		queryOpts = append(queryOpts, query.WithHistory(db))

		persistWorker := persistence.NewPersistenceWorker(
			persistence.NewPostgresBatchWriter(db, metrics),
			persistCh, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
			observability.NewLogger("persistence"),
		)
		g.Go(func() error { return persistWorker.Run(gctx) })

		if err := projection.Rebuild(ctx, db, st); err != nil {
			log.Warn().Err(err).Msg("projection rebuild failed, serving stale projections")
		}
		projWorker := projection.NewProjectionWorker(projection.NewPostgresWriter(db), projectionCh, metrics,
			observability.NewLogger("projection"))
		g.Go(func() error { return projWorker.Run(gctx) })
	}

	if err := initializeBanks(ctx, engine, st, cfg.Banks, log); err != nil {
		return err
	}

	// --- Optional NATS ---
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
			return err
		}

		raw := make(chan ingestion.RawEvent, 4096)
		sub := ingestion.NewNATSSubscriber(js, raw, observability.NewLogger("ingestion"))
		if err := sub.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
			return err
		}
		defer sub.Stop()

		router := ingestion.NewRouter(engine, feed, metrics, observability.NewLogger("router"))
		g.Go(func() error { return router.Run(gctx, raw) })

		publisher := ingestion.NewOutboundPublisher(js, publishCh, metrics, observability.NewLogger("publisher"))
		g.Go(func() error { return publisher.Run(gctx) })
	} else {
		log.Warn().Msg("LENDING_NATS_URL empty, NATS ingestion disabled")
	}

	// --- API ---
	queries := query.NewQueryService(st, feed, ledger, clk, cfg.MaxPriceAge, queryOpts...)
	svc := server.NewLendingService(engine, queries, ledger, feed, clk)
	srv, err := server.New(server.Config{GRPCAddr: cfg.GRPCAddr, HTTPAddr: cfg.HTTPAddr}, svc, health,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}), observability.NewLogger("server"))
	if err != nil {
		return err
	}
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTP(gctx) })

	health.SetReady(true)
	log.Info().
		Int64("sequence", engine.Sequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Bool("postgres", db != nil).
		Bool("nats", cfg.NATSURL != "").
		Msg("lendingd ready")

	err = g.Wait()
	health.SetReady(false)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openPostgres(ctx context.Context, cfg config.Config, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, log).Up(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Msg("postgres connected, migrations applied")
	return db, nil
}

// initializeBanks creates configured banks that the store does not hold
// yet. Request IDs derive from the asset so a crash between commit and
// this check does not initialize twice.
func initializeBanks(ctx context.Context, engine *core.Engine, st store.Store, banks []config.BankConfig, log zerolog.Logger) error {
	for _, b := range banks {
		err := st.View(ctx, func(tx store.Tx) error {
			_, err := tx.Bank(b.Asset)
			return err
		})
		if err == nil {
			continue
		}
		if !errors.Is(err, lending.ErrBankNotFound) {
			return errors.Wrapf(err, "read bank %s", b.Asset)
		}

		_, err = engine.InitializeBank(ctx, &event.InitializeBank{
			RequestID: uuid.NewSHA1(uuid.NameSpaceOID, []byte("bank:"+string(b.Asset))),
			Authority: b.Authority,
			Asset:     b.Asset,
			Params:    b.Params,
		})
		if err != nil && !errors.Is(err, core.ErrDuplicateRequest) {
			return errors.Wrapf(err, "initialize bank %s", b.Asset)
		}
		log.Info().Str("asset", string(b.Asset)).Msg("bank initialized")
	}
	return nil
}
