package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"media_syncer/internal/config"
	"media_syncer/internal/logger"
	"media_syncer/internal/publisher"
	"media_syncer/internal/service"
	"media_syncer/internal/source/hydrus"
	"media_syncer/internal/storage/postgres"
	"media_syncer/migrations"
)

// app bundles the wired dependencies shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sqlx.DB
	syncState *postgres.SyncStateStore
	service   *service.SyncService

	closers []io.Closer
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logCloser := logger.New(cfg.Log)
	a := &app{cfg: cfg, logger: log, closers: []io.Closer{logCloser}}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	a.db = db
	a.closers = append(a.closers, db)

	if err := db.PingContext(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)

	a.syncState = postgres.NewSyncStateStore(db)
	return a, nil
}

// wireService builds the sync service. It applies pending migrations first
// and dials RabbitMQ when publishing is enabled.
func (a *app) wireService() error {
	if err := migrations.Up(a.db.DB); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	var pub service.Publisher
	if a.cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        a.cfg.RabbitMQ.URL,
			Exchange:   a.cfg.RabbitMQ.Exchange,
			RoutingKey: a.cfg.RabbitMQ.RoutingKey,
			QueueName:  a.cfg.RabbitMQ.QueueName,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		a.closers = append(a.closers, rabbitMQ)
		pub = rabbitMQ
	}

	hc := a.cfg.Hydrus
	source := hydrus.New(hydrus.Config{
		BaseURL:        hc.BaseURL,
		AccessKey:      hc.AccessKey,
		Timeout:        hc.Timeout,
		RateLimit:      hc.RateLimit,
		RateBurst:      hc.RateBurst,
		MaxAttempts:    hc.Retry.MaxAttempts,
		InitialBackoff: hc.Retry.InitialBackoff,
		MaxBackoff:     hc.Retry.MaxBackoff,
	}, a.logger)

	a.service = service.NewSyncService(
		source,
		postgres.NewPostStore(a.db),
		postgres.NewTagStore(a.db),
		postgres.NewGroupStore(a.db),
		postgres.NewNoteStore(a.db),
		a.syncState,
		postgres.NewTransactionManager(a.db),
		pub,
		a.logger,
		a.cfg.Sync,
	)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
