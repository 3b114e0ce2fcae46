package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/ruletick/internal/history"
	"github.com/watzon/ruletick/internal/schedule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTrackerStore(t *testing.T) (*Store, *TrackerStore, *fakeClock) {
	t.Helper()
	db := testDB(t)
	clock := &fakeClock{now: time.UnixMilli(t0).UTC()}
	trackers := NewTrackerStore(db)
	trackers.now = clock.Now
	return NewStore(db), trackers, clock
}

func TestTrackerStore_GetMissing(t *testing.T) {
	store, trackers, _ := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")

	tracker, err := trackers.Get(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Nil(t, tracker)
}

func TestTrackerStore_SeedFirstWriterWins(t *testing.T) {
	store, trackers, _ := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")
	ctx := context.Background()

	next := t0 + hour
	first, err := trackers.Seed(ctx, sched.ID, &schedule.Tracker{
		LastEffectiveExecutionTimeMs: t0,
		NextEffectiveExecutionTimeMs: &next,
	})
	require.NoError(t, err)
	assert.Equal(t, t0, first.LastEffectiveExecutionTimeMs)
	require.NotNil(t, first.NextEffectiveExecutionTimeMs)
	assert.Equal(t, next, *first.NextEffectiveExecutionTimeMs)

	second, err := trackers.Seed(ctx, sched.ID, &schedule.Tracker{LastEffectiveExecutionTimeMs: t0 + 5*hour})
	require.NoError(t, err)
	assert.Equal(t, t0, second.LastEffectiveExecutionTimeMs)
}

func TestTrackerStore_ClaimLifecycle(t *testing.T) {
	store, trackers, clock := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")
	ctx := context.Background()

	ok, err := trackers.TryClaim(ctx, sched.ID, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = trackers.TryClaim(ctx, sched.ID, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "unexpired claim held by another holder")

	clock.Advance(30 * time.Second)
	ok, err = trackers.TryClaim(ctx, sched.ID, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "holder renews its own claim")

	claim, err := trackers.GetClaim(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, "a", claim.Holder)
	assert.Equal(t, t0, claim.AcquiredAtMs)
	assert.Equal(t, t0+90*time.Second.Milliseconds(), claim.ExpiresAtMs)

	clock.Advance(61 * time.Second)
	assert.True(t, claim.Expired(clock.Now().UnixMilli()))
	ok, err = trackers.TryClaim(ctx, sched.ID, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired claim can be taken over")

	require.NoError(t, trackers.Release(ctx, sched.ID, "a"))
	claim, err = trackers.GetClaim(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, claim, "release by a former holder is ignored")
	assert.Equal(t, "b", claim.Holder)

	require.NoError(t, trackers.Release(ctx, sched.ID, "b"))
	claim, err = trackers.GetClaim(ctx, sched.ID)
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestTrackerStore_ConcurrentClaims(t *testing.T) {
	store, trackers, _ := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")
	ctx := context.Background()

	const contenders = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := trackers.TryClaim(ctx, sched.ID, string(rune('a'+i)), time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestTrackerStore_CommitFenced(t *testing.T) {
	store, trackers, _ := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")
	hist := history.NewStore(trackers.db)
	ctx := context.Background()

	ok, err := trackers.TryClaim(ctx, sched.ID, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	from := t0
	next := t0 + 2*hour
	commit := Commit{
		ScheduleID: sched.ID,
		Holder:     "a",
		Tracker: &schedule.Tracker{
			ActualExecutionTimeMs:        t0 + hour + 5,
			LastEffectiveExecutionTimeMs: t0 + hour,
			NextEffectiveExecutionTimeMs: &next,
		},
		Entry: &history.Entry{
			ScheduleID:               sched.ID,
			ScheduleName:             sched.Name,
			ExecutionTimeMs:          t0 + hour + 5,
			WindowFromMs:             &from,
			EffectiveExecutionTimeMs: t0 + hour,
			Status:                   history.StatusSuccess,
		},
		ReleaseClaim: true,
	}
	require.NoError(t, trackers.Commit(ctx, commit))

	tracker, err := trackers.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, t0+hour, tracker.LastEffectiveExecutionTimeMs)
	assert.True(t, tracker.Fired())

	claim, err := trackers.GetClaim(ctx, sched.ID)
	require.NoError(t, err)
	assert.Nil(t, claim)

	page, err := hist.List(ctx, sched.ID, history.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestTrackerStore_CommitClaimLost(t *testing.T) {
	store, trackers, clock := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")
	hist := history.NewStore(trackers.db)
	ctx := context.Background()

	ok, err := trackers.TryClaim(ctx, sched.ID, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(2 * time.Minute)
	ok, err = trackers.TryClaim(ctx, sched.ID, "b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = trackers.Commit(ctx, Commit{
		ScheduleID: sched.ID,
		Holder:     "a",
		Tracker:    &schedule.Tracker{ActualExecutionTimeMs: t0, LastEffectiveExecutionTimeMs: t0 + hour},
		Entry: &history.Entry{
			ScheduleID: sched.ID, ExecutionTimeMs: t0, EffectiveExecutionTimeMs: t0 + hour, Status: history.StatusSuccess,
		},
	})
	assert.ErrorIs(t, err, ErrClaimLost)

	tracker, err := trackers.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Nil(t, tracker, "a lost claim commits nothing")

	page, err := hist.List(ctx, sched.ID, history.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestTrackerStore_CommitRejectsRegression(t *testing.T) {
	store, trackers, _ := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")
	ctx := context.Background()

	require.NoError(t, trackers.Commit(ctx, Commit{
		ScheduleID: sched.ID,
		Tracker:    &schedule.Tracker{ActualExecutionTimeMs: t0, LastEffectiveExecutionTimeMs: t0 + 2*hour},
	}))

	err := trackers.Commit(ctx, Commit{
		ScheduleID: sched.ID,
		Tracker:    &schedule.Tracker{ActualExecutionTimeMs: t0, LastEffectiveExecutionTimeMs: t0 + hour},
	})
	assert.ErrorIs(t, err, ErrWatermarkRegression)

	tracker, err := trackers.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, t0+2*hour, tracker.LastEffectiveExecutionTimeMs)
}

func TestTrackerStore_CommitDuplicateSuccessRollsBack(t *testing.T) {
	store, trackers, _ := newTestTrackerStore(t)
	sched := createSchedule(t, store, "s")
	ctx := context.Background()

	entry := func() *history.Entry {
		return &history.Entry{
			ScheduleID: sched.ID, ExecutionTimeMs: t0, EffectiveExecutionTimeMs: t0 + hour, Status: history.StatusSuccess,
		}
	}

	require.NoError(t, trackers.Commit(ctx, Commit{
		ScheduleID: sched.ID,
		Tracker:    &schedule.Tracker{ActualExecutionTimeMs: t0, LastEffectiveExecutionTimeMs: t0 + hour},
		Entry:      entry(),
	}))

	err := trackers.Commit(ctx, Commit{
		ScheduleID: sched.ID,
		Tracker:    &schedule.Tracker{ActualExecutionTimeMs: t0, LastEffectiveExecutionTimeMs: t0 + 3*hour},
		Entry:      entry(),
	})
	assert.ErrorIs(t, err, history.ErrDuplicateSuccess)

	tracker, err := trackers.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, t0+hour, tracker.LastEffectiveExecutionTimeMs, "tracker update rolled back with the history insert")
}

func TestScheduler_WithSQLiteRepositories(t *testing.T) {
	store, trackers, clock := newTestTrackerStore(t)
	hist := history.NewStore(trackers.db)
	ctx := context.Background()

	start := time.UnixMilli(t0).UTC()
	sched := &schedule.Schedule{
		Name:       "hourly",
		RuleRef:    "rule:hourly",
		Enabled:    true,
		Type:       schedule.TypeFrequency,
		Expression: "1h",
		Contiguous: true,
		Bounds:     schedule.NewBounds(&start, nil),
	}
	require.NoError(t, store.Create(ctx, sched))

	exec := &recordingExecutor{}
	s := New(Config{NodeName: "node-a"}, store, trackers, hist, exec)

	now := t0 + 3*hour
	clock.Advance(3 * time.Hour)
	report := s.RunOnce(ctx, now)

	res, ok := report.Result(sched.ID)
	require.True(t, ok)
	assert.Equal(t, OutcomeExecuted, res.Outcome)
	assert.Len(t, res.Windows, 3)

	tracker, err := trackers.Get(ctx, sched.ID)
	require.NoError(t, err)
	assert.Equal(t, t0+3*hour, tracker.LastEffectiveExecutionTimeMs)

	claim, err := trackers.GetClaim(ctx, sched.ID)
	require.NoError(t, err)
	assert.Nil(t, claim)

	page, err := hist.List(ctx, sched.ID, history.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	assert.Equal(t, t0+3*hour, page.Entries[0].EffectiveExecutionTimeMs)
}
