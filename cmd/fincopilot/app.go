package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/config"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/db"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/harness"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/adapters"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/tools"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/learning"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/usercontext"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/validation"
)

// app holds the wired components for one CLI invocation.
type app struct {
	cfg          *config.Config
	logger       zerolog.Logger
	conn         *sql.DB
	store        *store.Store
	users        *usercontext.Service
	orchestrator *harness.Orchestrator
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

// openStore loads config, connects to the database and applies migrations.
func openStore(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.App.LogLevel)

	conn, err := db.ConnectToDB(cfg.App.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, conn: conn, store: store.New(conn)}, nil
}

// openApp wires the full assistant on top of openStore.
func openApp(ctx context.Context) (*app, error) {
	a, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	validator := validation.NewValidator(validation.Limits{
		MaxAmount:          cfg.Validation.MaxAmount,
		SuspiciousAmount:   cfg.Validation.SuspiciousAmount,
		MaxFutureDays:      cfg.Validation.MaxFutureDays,
		PastWarningDays:    cfg.Validation.PastWarningDays,
		MinConceptLength:   cfg.Validation.MinConceptLength,
		DuplicateWindow:    cfg.Validation.DuplicateWindow,
		NearDuplicateRatio: cfg.Validation.NearDuplicateRatio,
	}, a.store, a.logger.With().Str("component", "validation").Logger())

	engine := learning.NewEngine(a.store, nil, learning.Options{
		MinGlobalVotes:  cfg.Learning.MinGlobalVotes,
		AcceptThreshold: cfg.Learning.AcceptThreshold,
	}, a.logger.With().Str("component", "learning").Logger())

	a.users = usercontext.NewService(a.store,
		adapters.NewLRUCache[usercontext.UserContext](cfg.Context.Capacity),
		cfg.Context.TTL,
		a.logger.With().Str("component", "usercontext").Logger())

	registry, err := harness.NewRegistry(tools.All(tools.Deps{
		Store:     a.store,
		Validator: validator,
		Learning:  engine,
		Logger:    a.logger.With().Str("component", "tools").Logger(),
	})...)
	if err != nil {
		a.Close()
		return nil, err
	}

	factory := harness.NewFactory(&cfg.Harness, &cfg.LLM, a.logger)
	provider, err := factory.CreateProvider()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orchestrator = factory.CreateOrchestrator(provider, registry, a.users)
	return a, nil
}

func (a *app) Close() {
	if err := a.conn.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("closing database")
	}
}
