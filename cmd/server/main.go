package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/ride-marketplace/internal/bids"
	"github.com/example/ride-marketplace/internal/citymatch"
	"github.com/example/ride-marketplace/internal/config"
	"github.com/example/ride-marketplace/internal/dispatch"
	"github.com/example/ride-marketplace/internal/eligibility"
	"github.com/example/ride-marketplace/internal/geo"
	httpapi "github.com/example/ride-marketplace/internal/http"
	"github.com/example/ride-marketplace/internal/ingest"
	"github.com/example/ride-marketplace/internal/logging"
	"github.com/example/ride-marketplace/internal/requests"
	"github.com/example/ride-marketplace/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			if err := runMigrations(cfg.PGDSN); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = ps
		logger.Info("storage: postgres")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("storage: in-memory, data is not durable")
	}

	var index geo.Index
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("geo index: redis", "addr", cfg.RedisAddr)
	} else {
		index = geo.NewMemoryIndex()
		logger.Warn("geo index: in-memory")
	}

	var events *ingest.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		events = ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer events.Close()
		logger.Info("events: kafka", "topic", cfg.KafkaTopic)
	} else {
		logger.Warn("events: disabled, no brokers configured")
	}

	wsreg := dispatch.NewWSRegistry()
	notifiers := []dispatch.Notifier{wsreg}
	if cfg.PushEndpoint != "" {
		notifiers = append(notifiers, dispatch.NewPushDispatcher(cfg.PushEndpoint, cfg.PushKey))
	} else {
		notifiers = append(notifiers, &dispatch.LogNotifier{Logger: logger})
	}
	notifier := &dispatch.Fanout{Notifiers: notifiers, Logger: logger}

	checker := eligibility.NewChecker(index)
	checker.RadiusKm = cfg.RadiusKm

	reqSvc := requests.NewService(requests.Config{
		Store:    store,
		Checker:  checker,
		Index:    index,
		Notifier: notifier,
		Events:   events,
		Logger:   logger,
		SpeedMps: cfg.DefaultSpeedMps,
	})
	bidSvc := bids.NewService(store, checker, notifier, events, logger)
	citySvc := citymatch.NewService(store, notifier, events, logger)

	srv := httpapi.NewServer(httpapi.Deps{
		Requests:  reqSvc,
		Bids:      bidSvc,
		City:      citySvc,
		Store:     store,
		Index:     index,
		Events:    events,
		WSReg:     wsreg,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// runMigrations applies every migrations/*.sql in lexical order.
func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}
