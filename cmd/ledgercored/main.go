package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openedc/ledgercore/pkg/api"
	"github.com/openedc/ledgercore/pkg/compliance"
	"github.com/openedc/ledgercore/pkg/config"
	"github.com/openedc/ledgercore/pkg/observability"
	"github.com/openedc/ledgercore/pkg/session"
	"github.com/openedc/ledgercore/pkg/store"

	_ "github.com/lib/pq"       // Postgres driver
	_ "modernc.org/sqlite"      // SQLite driver
)

const shutdownGrace = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to optional YAML config file")
	flag.Parse()

	cfg, errs := config.Load(configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		return 2
	}

	logger := observability.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "ledgercore",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		Insecure:       !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	driver := cfg.DatabaseDriver
	dialect := store.DialectPostgres
	if driver == "sqlite" {
		dialect = store.DialectSQLite
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		return 1
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		return 1
	}

	st := store.New(db, dialect)
	if err := st.Init(ctx); err != nil {
		logger.Error("schema init failed", "error", err)
		return 1
	}

	profile := compliance.Profile{}
	if cfg.ComplianceProfilePath != "" {
		data, err := os.ReadFile(cfg.ComplianceProfilePath)
		if err != nil {
			logger.Error("compliance profile read failed", "error", err)
			return 1
		}
		profile, err = compliance.LoadProfile(data)
		if err != nil {
			logger.Error("compliance profile invalid", "error", err)
			return 1
		}
	}
	reporter, err := compliance.NewReporter(profile)
	if err != nil {
		logger.Error("compliance reporter init failed", "error", err)
		return 1
	}

	server := api.NewServer(
		st,
		reporter,
		api.NewAuthenticator(session.NewVerifier(cfg.JWTSecret)),
		api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		db.PingContext,
	)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.Env, "driver", driver)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return 1
	}
	return 0
}
