package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_RunsCycles(t *testing.T) {
	repos := newMemRepos()
	repos.add(hourly("s1", true, ms(t0), nil))
	exec := &recordingExecutor{}
	s := newTestScheduler(repos, exec, Config{})

	hb := NewHeartbeat(s, 10*time.Millisecond)
	hb.now = func() time.Time { return time.UnixMilli(t0 + 2*hour) }

	reports := make(chan *Report, 16)
	hb.OnCycle(func(r *Report) {
		select {
		case reports <- r:
		default:
		}
	})

	hb.Start(context.Background())
	defer hb.Stop()

	var first *Report
	select {
	case first = <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle ran")
	}
	assert.Equal(t, t0+2*hour, first.NowMs)
	assert.Equal(t, 2, first.Windows())

	select {
	case second := <-reports:
		assert.Equal(t, 0, second.Windows())
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not tick again")
	}

	assert.Len(t, exec.windows(), 2)
}

func TestHeartbeat_StopIsIdempotent(t *testing.T) {
	s := newTestScheduler(newMemRepos(), &recordingExecutor{}, Config{})
	hb := NewHeartbeat(s, 0)
	assert.Equal(t, DefaultPollInterval, hb.interval)

	hb.Stop()
	hb.Start(context.Background())
	hb.Start(context.Background())
	hb.Stop()
	hb.Stop()
}

func TestHeartbeat_StopsWithContext(t *testing.T) {
	s := newTestScheduler(newMemRepos(), &recordingExecutor{}, Config{})
	hb := NewHeartbeat(s, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	hb.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		hb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "poll loop did not exit on context cancellation")
	}
	hb.Stop()
}
