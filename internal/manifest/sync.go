package manifest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/watzon/ruletick/internal/schedule"
	"github.com/watzon/ruletick/internal/scheduler"
)

// Service is the subset of the schedule service a Syncer needs.
type Service interface {
	Create(ctx context.Context, actor scheduler.Actor, sched *schedule.Schedule) (*schedule.Schedule, error)
	Update(ctx context.Context, actor scheduler.Actor, sched *schedule.Schedule) (*schedule.Schedule, error)
	Delete(ctx context.Context, scheduleID string) error
	GetByName(ctx context.Context, name string) (*schedule.Schedule, error)
	List(ctx context.Context) ([]*schedule.Schedule, error)
	Tracker(ctx context.Context, scheduleID string) (*schedule.Tracker, error)
}

// SyncResult lists schedule names by what a sync did to them.
type SyncResult struct {
	Created   []string
	Updated   []string
	Unchanged []string
	Deleted   []string
}

// Changed reports whether the sync modified anything.
func (r *SyncResult) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Deleted) > 0
}

// Syncer applies manifests to the schedule store by name.
type Syncer struct {
	service Service
	actor   scheduler.Actor
	prune   bool
}

// NewSyncer creates a syncer saving schedules as actor. With prune set,
// stored schedules missing from the manifest are deleted.
func NewSyncer(service Service, actor scheduler.Actor, prune bool) *Syncer {
	return &Syncer{service: service, actor: actor, prune: prune}
}

// Sync creates or updates every manifest schedule. It keeps going after a
// failed entry and returns the joined errors.
func (s *Syncer) Sync(ctx context.Context, m *Manifest) (*SyncResult, error) {
	result := &SyncResult{}
	var errs []error
	listed := make(map[string]bool, len(m.Schedules))

	for i := range m.Schedules {
		desired, err := m.Schedules[i].Schedule()
		if err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w", i, err))
			continue
		}
		listed[desired.Name] = true

		if err := s.apply(ctx, desired, result); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", desired.Name, err))
		}
	}

	if s.prune && len(errs) == 0 {
		if err := s.pruneMissing(ctx, listed, result); err != nil {
			errs = append(errs, err)
		}
	}

	log.Info().
		Int("created", len(result.Created)).
		Int("updated", len(result.Updated)).
		Int("unchanged", len(result.Unchanged)).
		Int("deleted", len(result.Deleted)).
		Msg("Schedule manifest synced")

	return result, errors.Join(errs...)
}

func (s *Syncer) apply(ctx context.Context, desired *schedule.Schedule, result *SyncResult) error {
	existing, err := s.service.GetByName(ctx, desired.Name)
	if err != nil {
		if !errors.Is(err, scheduler.ErrScheduleNotFound) {
			return err
		}
		if _, err := s.service.Create(ctx, s.actor, desired); err != nil {
			return err
		}
		result.Created = append(result.Created, desired.Name)
		return nil
	}

	if desired.RunAsUser.IsZero() {
		desired.RunAsUser = s.actor.User
	}
	exhausted, err := s.exhausted(ctx, existing, desired)
	if err != nil {
		return err
	}
	if exhausted {
		log.Debug().Str("schedule_name", desired.Name).Msg("Schedule bounds elapsed; leaving disabled")
		desired.Enabled = false
	}
	if sameSchedule(existing, desired) {
		result.Unchanged = append(result.Unchanged, desired.Name)
		return nil
	}

	desired.ID = existing.ID
	if _, err := s.service.Update(ctx, s.actor, desired); err != nil {
		return err
	}
	result.Updated = append(result.Updated, desired.Name)
	return nil
}

// exhausted reports whether existing was disabled because its watermark
// reached the end of the bounds desired still asks for.
func (s *Syncer) exhausted(ctx context.Context, existing, desired *schedule.Schedule) (bool, error) {
	if existing.Enabled || !desired.Enabled || desired.Bounds.EndMs == nil {
		return false, nil
	}
	tracker, err := s.service.Tracker(ctx, existing.ID)
	if err != nil {
		return false, fmt.Errorf("loading tracker: %w", err)
	}
	return tracker != nil && tracker.LastEffectiveExecutionTimeMs >= *desired.Bounds.EndMs, nil
}

func (s *Syncer) pruneMissing(ctx context.Context, listed map[string]bool, result *SyncResult) error {
	stored, err := s.service.List(ctx)
	if err != nil {
		return fmt.Errorf("listing schedules: %w", err)
	}

	for _, sched := range stored {
		if listed[sched.Name] {
			continue
		}
		if err := s.service.Delete(ctx, sched.ID); err != nil {
			return fmt.Errorf("deleting schedule %s: %w", sched.Name, err)
		}
		result.Deleted = append(result.Deleted, sched.Name)
	}

	sort.Strings(result.Deleted)
	return nil
}

func sameSchedule(a, b *schedule.Schedule) bool {
	return a.Name == b.Name &&
		a.RuleRef == b.RuleRef &&
		a.NodeName == b.NodeName &&
		a.Enabled == b.Enabled &&
		a.Type == b.Type &&
		a.Expression == b.Expression &&
		a.Timezone == b.Timezone &&
		a.Contiguous == b.Contiguous &&
		equalMs(a.Bounds.StartMs, b.Bounds.StartMs) &&
		equalMs(a.Bounds.EndMs, b.Bounds.EndMs) &&
		a.RunAsUser.UUID == b.RunAsUser.UUID
}

func equalMs(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
