package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"vowsuite/internal/config"
	"vowsuite/internal/repository"
	"vowsuite/internal/service"
	transportHTTP "vowsuite/internal/transport/http"
	transportNATS "vowsuite/internal/transport/nats"
	"vowsuite/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	// ── Stores and services ────────────────────────────────────────────────────
	log := slog.Default()
	bus := transportNATS.NewBus(nc)

	creditRepo := repository.NewCreditRepo(db)
	weddingRepo := repository.NewWeddingRepo(db)
	pricingRepo := repository.NewPricingRepo(db, rdb, time.Duration(cfg.PricingTTLSec)*time.Second)
	balanceCache := repository.NewRedisBalanceCache(rdb)

	creditSvc := service.NewCreditService(creditRepo, balanceCache, bus, log)
	lifecycleSvc := service.NewLifecycleService(weddingRepo, pricingRepo, creditRepo, balanceCache, bus, log)

	// ── Servers ────────────────────────────────────────────────────────────────
	var servers []Server

	// Credit grants arrive over NATS from the payment webhook service.
	servers = append(servers, transportNATS.NewHandler(creditSvc, nc))

	if cfg.WorkerEnabled == "true" {
		notificationRepo := repository.NewNotificationRepo(db)
		servers = append(servers, worker.NewLedgerNotifier(notificationRepo, nc))
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, creditSvc, lifecycleSvc))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
