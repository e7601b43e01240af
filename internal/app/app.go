package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/gridscout/gridscout/internal/common"
	"github.com/gridscout/gridscout/internal/handlers"
	"github.com/gridscout/gridscout/internal/interfaces"
	"github.com/gridscout/gridscout/internal/services/events"
	"github.com/gridscout/gridscout/internal/services/llm"
	"github.com/gridscout/gridscout/internal/services/picklist"
	"github.com/gridscout/gridscout/internal/services/progress"
	"github.com/gridscout/gridscout/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	LLMService     interfaces.CompletionService

	ProgressService *progress.Service
	PicklistService *picklist.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	PicklistHandler *handlers.PicklistHandler
	TeamHandler     *handlers.TeamHandler
	WSHandler       *handlers.WebSocketHandler

	sweeper *cron.Cron
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := storage.NewStorageManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager

	app.EventService = events.NewService(logger)
	app.LLMService = llm.NewProviderFactory(&cfg.Gemini, &cfg.Claude, &cfg.LLM, logger)

	app.ProgressService = progress.NewService(&cfg.Picklist, app.EventService, logger)
	app.PicklistService = picklist.NewService(
		&cfg.Picklist,
		app.LLMService,
		app.ProgressService,
		storageManager.TeamStorage(),
		storageManager.PicklistStorage(),
		logger,
	)

	app.APIHandler = handlers.NewAPIHandler()
	app.PicklistHandler = handlers.NewPicklistHandler(
		app.PicklistService,
		storageManager.PicklistStorage(),
		storageManager.TeamStorage(),
		logger,
	)
	app.TeamHandler = handlers.NewTeamHandler(storageManager.TeamStorage(), logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, logger, &cfg.WebSocket)

	if err := app.startSweeper(); err != nil {
		app.Close()
		return nil, err
	}

	logger.Info().Msg("Application initialized")
	return app, nil
}

// startSweeper schedules the periodic staleness sweep over the progress
// ledger. Stalled operations get force-failed so clients never poll a dead
// operation forever.
func (a *App) startSweeper() error {
	schedule := a.Config.Picklist.SweepSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}

	a.sweeper = cron.New()
	_, err := a.sweeper.AddFunc(schedule, func() {
		stalled, evicted := a.ProgressService.Sweep()
		if stalled > 0 || evicted > 0 {
			a.Logger.Info().
				Int("stalled", stalled).
				Int("evicted", evicted).
				Msg("Progress ledger sweep")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule ledger sweep %q: %w", schedule, err)
	}

	a.sweeper.Start()
	a.Logger.Debug().Str("schedule", schedule).Msg("Ledger sweeper started")
	return nil
}

// Close shuts down all application components
func (a *App) Close() error {
	var firstErr error

	if a.sweeper != nil {
		ctx := a.sweeper.Stop()
		<-ctx.Done()
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return firstErr
}

// Shutdown is an alias for Close with context support
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
