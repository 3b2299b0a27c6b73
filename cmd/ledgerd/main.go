// Package main runs the pinceladas ledger server: a points ledger with an
// audit log, P2P transfers, voucher redemption and a small store.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/Atelier-Network/pinceladas_ledger/internal/app"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/httpapi"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage/postgres"
	"github.com/Atelier-Network/pinceladas_ledger/internal/config"
	"github.com/Atelier-Network/pinceladas_ledger/internal/platform/migrations"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address (overrides configuration)")
	flag.Parse()

	// Optional .env for local development; ignore when absent.
	_ = godotenv.Load()

	log := logger.NewDefault("ledgerd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	stores := app.Stores{}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Error("open database")
			os.Exit(1)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrations.Apply(ctx, db); err != nil {
			cancel()
			log.WithError(err).Error("apply migrations")
			os.Exit(1)
		}
		cancel()

		store := postgres.New(db)
		stores = app.Stores{
			Accounts: store,
			Ledger:   store,
			Vouchers: store,
			Catalog:  store,
			Atomic:   store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	application, err := app.New(stores, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	credentials := make(map[string]httpapi.Credential, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		credentials[tok.Token] = httpapi.Credential{
			AccountID:  tok.AccountID,
			Name:       tok.Name,
			Privileged: tok.Privileged,
		}
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		Credentials:   credentials,
		AuditMax:      cfg.AuditMax,
		AuditPath:     cfg.AuditPath,
		RatePerSecond: cfg.RatePerSec,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		log.WithError(err).Error("build http handler")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("http server")
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("stopped")
}
