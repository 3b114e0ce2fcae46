package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/watzon/ruletick/internal/database"
	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/runas"
	"github.com/watzon/ruletick/internal/schedule"
)

// Actor is the user creating or changing schedules.
type Actor struct {
	User           schedule.UserRef
	CanManageUsers bool
}

// Status is a schedule together with its tracker and current claim.
type Status struct {
	Schedule *schedule.Schedule
	Tracker  *schedule.Tracker // nil until the schedule is first evaluated
	Claim    *Claim            // nil when unclaimed
}

// Service manages schedules on behalf of users.
type Service struct {
	store    *Store
	trackers *TrackerStore
	history  *history.Store
}

// NewService creates a new schedule service.
func NewService(store *Store, trackers *TrackerStore, hist *history.Store) *Service {
	return &Service{
		store:    store,
		trackers: trackers,
		history:  hist,
	}
}

// Create validates and stores a new schedule. The run-as user is resolved
// against actor before anything is persisted.
func (s *Service) Create(ctx context.Context, actor Actor, sched *schedule.Schedule) (*schedule.Schedule, error) {
	if err := s.prepare(actor, sched); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, sched); err != nil {
		return nil, err
	}

	log.Info().
		Str("schedule_id", sched.ID).
		Str("schedule_name", sched.Name).
		Str("run_as", sched.RunAsUser.String()).
		Msg("Schedule created")

	return sched, nil
}

// Update validates and stores changes to an existing schedule. The tracker
// is kept, so a changed expression continues from the current watermark.
func (s *Service) Update(ctx context.Context, actor Actor, sched *schedule.Schedule) (*schedule.Schedule, error) {
	existing, err := s.store.Get(ctx, sched.ID)
	if err != nil {
		return nil, err
	}

	if err := s.prepare(actor, sched); err != nil {
		return nil, err
	}
	sched.CreatedAt = existing.CreatedAt

	if err := s.store.Update(ctx, sched); err != nil {
		return nil, err
	}

	log.Info().
		Str("schedule_id", sched.ID).
		Str("schedule_name", sched.Name).
		Bool("enabled", sched.Enabled).
		Msg("Schedule updated")

	return sched, nil
}

// Delete removes a schedule with its tracker, claim and history.
func (s *Service) Delete(ctx context.Context, scheduleID string) error {
	if err := s.store.Delete(ctx, scheduleID); err != nil {
		return err
	}

	log.Info().Str("schedule_id", scheduleID).Msg("Schedule deleted")
	return nil
}

// Get retrieves a schedule by ID.
func (s *Service) Get(ctx context.Context, scheduleID string) (*schedule.Schedule, error) {
	return s.store.Get(ctx, scheduleID)
}

// GetByName retrieves a schedule by name.
func (s *Service) GetByName(ctx context.Context, name string) (*schedule.Schedule, error) {
	return s.store.GetByName(ctx, name)
}

// Lookup finds a schedule by ID, falling back to its name.
func (s *Service) Lookup(ctx context.Context, idOrName string) (*schedule.Schedule, error) {
	sched, err := s.store.Get(ctx, idOrName)
	if err == nil {
		return sched, nil
	}
	return s.store.GetByName(ctx, idOrName)
}

// List retrieves all schedules.
func (s *Service) List(ctx context.Context) ([]*schedule.Schedule, error) {
	return s.store.List(ctx)
}

// Status returns a schedule with its tracker and claim.
func (s *Service) Status(ctx context.Context, scheduleID string) (*Status, error) {
	sched, err := s.store.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	tracker, err := s.trackers.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	claim, err := s.trackers.GetClaim(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	return &Status{Schedule: sched, Tracker: tracker, Claim: claim}, nil
}

// Tracker returns the tracker of a schedule, or nil if it has none yet.
func (s *Service) Tracker(ctx context.Context, scheduleID string) (*schedule.Tracker, error) {
	if _, err := s.store.Get(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.trackers.Get(ctx, scheduleID)
}

// History returns a page of execution history, newest first.
func (s *Service) History(ctx context.Context, scheduleID string, req history.PageRequest) (*history.Page, error) {
	if _, err := s.store.Get(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, scheduleID, req)
}

func (s *Service) prepare(actor Actor, sched *schedule.Schedule) error {
	sched.Name = strings.TrimSpace(sched.Name)
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	if err := sched.Validate(); err != nil {
		return err
	}
	if err := ValidateAffinity(sched.NodeName); err != nil {
		return fmt.Errorf("%w: node affinity %q: %v", schedule.ErrInvalidSchedule, sched.NodeName, err)
	}

	runAs, err := runas.Resolve(runas.Request{
		Requested:      sched.RunAsUser,
		Acting:         actor.User,
		CanManageUsers: actor.CanManageUsers,
	})
	if err != nil {
		return err
	}
	sched.RunAsUser = runAs

	sched.UpdatedAt = database.Now()
	return nil
}
