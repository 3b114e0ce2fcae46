// Package manifest loads schedules from a YAML file and keeps the store in
// sync with it.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/watzon/ruletick/internal/schedule"
	"github.com/watzon/ruletick/internal/scheduler"
)

// Manifest is a list of schedules managed from a file.
type Manifest struct {
	Schedules []Entry `yaml:"schedules"`
}

// Entry is one schedule in a manifest.
type Entry struct {
	Name       string           `yaml:"name"`
	Rule       string           `yaml:"rule"`
	Node       string           `yaml:"node"`
	Enabled    *bool            `yaml:"enabled"`
	Type       string           `yaml:"type"`
	Expression string           `yaml:"expression"`
	Timezone   string           `yaml:"timezone"`
	Contiguous bool             `yaml:"contiguous"`
	Start      *time.Time       `yaml:"start"`
	End        *time.Time       `yaml:"end"`
	RunAs      schedule.UserRef `yaml:"run_as"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every entry and reports all problems at once.
func (m *Manifest) Validate() error {
	var errs []error
	seen := make(map[string]int, len(m.Schedules))

	for i, e := range m.Schedules {
		name := strings.TrimSpace(e.Name)
		if prev, ok := seen[name]; ok && name != "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: %w: name %q already used by schedules[%d]",
				i, schedule.ErrInvalidSchedule, name, prev))
			continue
		}
		seen[name] = i

		if _, err := e.Schedule(); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d] (%s): %w", i, name, err))
		}
	}

	return errors.Join(errs...)
}

// Schedule converts the entry to a validated schedule without an ID.
func (e *Entry) Schedule() (*schedule.Schedule, error) {
	t, err := schedule.ParseType(e.Type)
	if err != nil {
		return nil, err
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}

	timezone := e.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	sched := &schedule.Schedule{
		Name:       strings.TrimSpace(e.Name),
		RuleRef:    e.Rule,
		NodeName:   e.Node,
		Enabled:    enabled,
		Type:       t,
		Expression: e.Expression,
		Timezone:   timezone,
		Contiguous: e.Contiguous,
		Bounds:     schedule.NewBounds(e.Start, e.End),
		RunAsUser:  e.RunAs,
	}

	if err := sched.Validate(); err != nil {
		return nil, err
	}
	if err := scheduler.ValidateAffinity(sched.NodeName); err != nil {
		return nil, fmt.Errorf("%w: node %q: %v", schedule.ErrInvalidSchedule, sched.NodeName, err)
	}

	return sched, nil
}
