package cli

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/config"
	"github.com/tbourn/go-catalog-ingest/internal/fetch"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
	"github.com/tbourn/go-catalog-ingest/internal/scheduler"
	"github.com/tbourn/go-catalog-ingest/internal/services"
	"github.com/tbourn/go-catalog-ingest/internal/snapshot"
	"github.com/tbourn/go-catalog-ingest/internal/worker"
)

// app is the wired service graph shared by the commands.
type app struct {
	cfg     config.Config
	db      *gorm.DB
	store   snapshot.Store
	queue   *services.QueueService
	catalog *services.CatalogService
	ingest  *services.IngestService
	audits  *services.AuditService
}

// openApp connects the database, migrates it and opens the snapshot store.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := repo.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{cfg: cfg, db: db}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), a.Close())
	}
	store, err := snapshot.New(ctx, cfg.Snapshot)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open snapshot store: %w", err), a.Close())
	}
	a.store = store
	a.queue = services.NewQueueService(db, cfg.Queue, cfg.Recovery)
	a.catalog = services.NewCatalogService(db)
	a.ingest = services.NewIngestService(db)
	a.audits = services.NewAuditService(db, store)
	a.audits.HoldBaseline = cfg.Audit.HoldRegressionBaseline
	return a, nil
}

func (a *app) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (a *app) pool() *worker.Pool {
	return &worker.Pool{
		Queue: a.queue,
		Executors: worker.Executors(worker.Deps{
			Queue:     a.queue,
			Catalog:   a.catalog,
			Ingest:    a.ingest,
			Audit:     a.audits,
			Fetch:     fetch.New(a.cfg.Fetch),
			BulkLimit: a.cfg.Worker.BulkLimit,
		}),
		ID:           a.cfg.Worker.ID,
		Workers:      a.cfg.Worker.Concurrency,
		PollInterval: a.cfg.Worker.PollInterval,
		IdleBackoff:  a.cfg.Worker.IdleBackoff,
	}
}

func (a *app) scheduler() *scheduler.Scheduler {
	return &scheduler.Scheduler{
		Queue:     a.queue,
		Catalog:   a.catalog,
		Schedule:  a.cfg.Schedule,
		BulkLimit: a.cfg.Worker.BulkLimit,
	}
}
