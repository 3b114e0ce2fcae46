package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/ruletick/internal/config"
	"github.com/watzon/ruletick/internal/schedule"
	"github.com/watzon/ruletick/internal/scheduler"
)

var testExecution = scheduler.Execution{
	ScheduleID:   "sched-1",
	ScheduleName: "hourly-errors",
	RuleRef:      "analytic:42",
	WindowFromMs: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
	WindowToMs:   time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC).UnixMilli(),
	RunAs:        schedule.UserRef{UUID: "user-1", Name: "alice"},
}

func TestHTTP_PostsExecution(t *testing.T) {
	var got Request
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	exec := NewHTTP(srv.URL, map[string]string{"Authorization": "Bearer token"}, time.Second)
	require.NoError(t, exec.Execute(context.Background(), testExecution))

	assert.Equal(t, "analytic:42", got.RuleRef)
	assert.Equal(t, "sched-1", got.ScheduleID)
	assert.True(t, got.WindowFrom.Equal(testExecution.WindowFrom()))
	assert.True(t, got.WindowTo.Equal(testExecution.WindowTo()))
	assert.Equal(t, RunAs{UUID: "user-1", Name: "alice"}, got.RunAs)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "Bearer token", gotHeaders.Get("Authorization"))
	assert.Equal(t, "sched-1", gotHeaders.Get("X-Ruletick-Schedule"))
}

func TestHTTP_NonSuccessIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL, nil, time.Second).Execute(context.Background(), testExecution)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestHTTP_HonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewHTTP(srv.URL, nil, 0).Execute(ctx, testExecution)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLog_Succeeds(t *testing.T) {
	assert.NoError(t, Log{}.Execute(context.Background(), testExecution))
}

func TestNew(t *testing.T) {
	exec, err := New(&config.ExecutorConfig{Kind: config.ExecutorLog})
	require.NoError(t, err)
	assert.IsType(t, Log{}, exec)

	exec, err = New(&config.ExecutorConfig{Kind: config.ExecutorHTTP, URL: "http://runner/run", Timeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, exec)

	_, err = New(&config.ExecutorConfig{Kind: config.ExecutorHTTP})
	assert.Error(t, err)

	_, err = New(&config.ExecutorConfig{Kind: "grpc"})
	assert.Error(t, err)
}
