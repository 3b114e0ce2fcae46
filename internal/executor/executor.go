// Package executor provides the rule executors the ruletick host can run
// scheduled windows with.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/ruletick/internal/config"
	"github.com/watzon/ruletick/internal/scheduler"
)

const maxErrorBody = 4 << 10

// Request is the JSON body posted for every window.
type Request struct {
	ScheduleID   string    `json:"schedule_id"`
	ScheduleName string    `json:"schedule_name"`
	RuleRef      string    `json:"rule_ref"`
	WindowFrom   time.Time `json:"window_from"`
	WindowTo     time.Time `json:"window_to"`
	RunAs        RunAs     `json:"run_as"`
}

// RunAs is the identity the rule must execute under.
type RunAs struct {
	UUID string `json:"uuid"`
	Name string `json:"name,omitempty"`
}

// NewRequest builds the request body for an execution.
func NewRequest(exec scheduler.Execution) Request {
	return Request{
		ScheduleID:   exec.ScheduleID,
		ScheduleName: exec.ScheduleName,
		RuleRef:      exec.RuleRef,
		WindowFrom:   exec.WindowFrom(),
		WindowTo:     exec.WindowTo(),
		RunAs:        RunAs{UUID: exec.RunAs.UUID, Name: exec.RunAs.Name},
	}
}

// HTTP posts executions to a rule runner endpoint. Any non-2xx response is
// an execution failure.
type HTTP struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewHTTP creates an HTTP executor.
func NewHTTP(url string, headers map[string]string, timeout time.Duration) *HTTP {
	return &HTTP{
		url:     url,
		headers: headers,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Execute posts the execution and waits for the runner to finish.
func (h *HTTP) Execute(ctx context.Context, exec scheduler.Execution) error {
	body, err := json.Marshal(NewRequest(exec))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ruletick-Schedule", exec.ScheduleID)
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to invoke rule runner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		reason := strings.TrimSpace(string(respBody))
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("rule runner returned %d: %s", resp.StatusCode, reason)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Log only logs executions. It is used for dry runs.
type Log struct{}

// Execute logs the execution and succeeds.
func (Log) Execute(ctx context.Context, exec scheduler.Execution) error {
	log.Info().
		Str("schedule_id", exec.ScheduleID).
		Str("schedule_name", exec.ScheduleName).
		Str("rule_ref", exec.RuleRef).
		Str("run_as", exec.RunAs.String()).
		Time("window_from", exec.WindowFrom()).
		Time("window_to", exec.WindowTo()).
		Msg("Rule execution (dry run)")
	return nil
}

// New builds the executor selected by cfg.
func New(cfg *config.ExecutorConfig) (scheduler.RuleExecutor, error) {
	switch cfg.Kind {
	case config.ExecutorHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("executor url is required for kind %q", cfg.Kind)
		}
		return NewHTTP(cfg.URL, cfg.Headers, cfg.Timeout), nil
	case config.ExecutorLog, "":
		return Log{}, nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}
