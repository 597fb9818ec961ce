package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/docrec/internal/ocr"
	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/service"
	"github.com/MeKo-Tech/docrec/internal/store"
)

// openService assembles the recognition service shared by serve and
// worker: templates, an async pipeline and the result store. Without a
// DSN results are kept in memory.
func (a *app) openService(ctx context.Context) (*service.Service, func(), error) {
	reg, err := a.registry()
	if err != nil {
		return nil, nil, err
	}
	backend, closeOCR, err := ocr.Open(ctx, a.cfg.OCR)
	if err != nil {
		return nil, nil, fmt.Errorf("open ocr engine: %w", err)
	}
	runner, err := pipeline.NewBuilder().WithConfig(a.cfg.Pipeline).WithOCR(backend).BuildAsync()
	if err != nil {
		_ = closeOCR()
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	closers := []func() error{runner.Close, closeOCR}

	svc := &service.Service{
		Runner:    runner,
		Templates: reg,
		CacheTTL:  a.cfg.Store.CacheTTL,
	}
	if a.cfg.Store.Enabled() {
		db, err := store.Open(ctx, a.cfg.Store)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		if err := store.Migrate(ctx, db); err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		svc.Store = store.NewRepository(db)
	} else {
		svc.Store = store.NewMemory()
	}

	slog.Info("Recognition service ready",
		"templates", reg.Names(),
		"ocr", a.cfg.OCR.Engine,
		"workers", runner.Workers(),
		"postgres", a.cfg.Store.Enabled())
	return svc, func() { closeAll(closers) }, nil
}

func closeAll(closers []func() error) {
	for _, c := range closers {
		if err := c(); err != nil {
			slog.Warn("Cleanup failed", "error", err)
		}
	}
}
