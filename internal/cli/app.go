package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/watzon/ruletick/internal/config"
	"github.com/watzon/ruletick/internal/database"
	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/lease"
	"github.com/watzon/ruletick/internal/schedule"
	"github.com/watzon/ruletick/internal/scheduler"
)

// app holds the stores shared by commands.
type app struct {
	cfg      *config.Config
	db       *database.DB
	store    *scheduler.Store
	trackers *scheduler.TrackerStore
	history  *history.Store
	service  *scheduler.Service
	claimer  *lease.RedisClaimer
}

func openApp(cfg *config.Config) (*app, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		store:    scheduler.NewStore(db),
		trackers: scheduler.NewTrackerStore(db),
		history:  history.NewStore(db).WithPageSize(cfg.History.PageSize),
	}
	a.service = scheduler.NewService(a.store, a.trackers, a.history)

	return a, nil
}

func (a *app) close() {
	if a.claimer != nil {
		if err := a.claimer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}

// newScheduler builds a scheduler using the configured claim backend.
func (a *app) newScheduler(ctx context.Context, executor scheduler.RuleExecutor) (*scheduler.Scheduler, error) {
	var opts []scheduler.Option

	if a.cfg.Scheduler.ClaimBackend == config.ClaimBackendRedis {
		claimer, err := lease.Open(ctx, &a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.claimer = claimer
		opts = append(opts, scheduler.WithClaimer(claimer))
		log.Info().Str("addr", a.cfg.Redis.Addr).Msg("Holding schedule claims in redis")
	}

	return scheduler.New(scheduler.Config{
		NodeName:           a.cfg.Node.Name,
		Holder:             a.cfg.Node.Holder(),
		MaxCatchUpPerCycle: a.cfg.Scheduler.MaxCatchUpPerCycle,
		ClaimTTL:           a.cfg.Scheduler.ClaimTTL,
		ExecutionTimeout:   a.cfg.Scheduler.ExecutionTimeout,
	}, a.store, a.trackers, a.history, executor, opts...), nil
}

// operator is the identity manifest schedules are saved as.
func operator(cfg *config.ManifestConfig) scheduler.Actor {
	return scheduler.Actor{
		User:           schedule.UserRef{UUID: cfg.OperatorUUID, Name: cfg.OperatorName},
		CanManageUsers: cfg.OperatorManageUsers,
	}
}
