package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/ruletick/internal/schedule"
)

const sampleManifest = `
schedules:
  - name: hourly-errors
    rule: analytic:1234
    type: frequency
    expression: PT1H
    contiguous: true
    start: 2024-01-01T00:00:00Z
  - name: nightly-report
    rule: analytic:5678
    node: worker-*
    type: cron
    expression: "0 2 * * *"
    timezone: Europe/London
    enabled: false
    run_as:
      uuid: 22222222-2222-2222-2222-222222222222
      name: bob
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m.Schedules, 2)

	hourly, err := m.Schedules[0].Schedule()
	require.NoError(t, err)
	assert.Equal(t, "hourly-errors", hourly.Name)
	assert.Equal(t, schedule.TypeFrequency, hourly.Type)
	assert.True(t, hourly.Enabled)
	assert.True(t, hourly.Contiguous)
	assert.Equal(t, "UTC", hourly.Timezone)
	require.NotNil(t, hourly.Bounds.StartMs)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), *hourly.Bounds.StartMs)
	assert.Nil(t, hourly.Bounds.EndMs)

	nightly, err := m.Schedules[1].Schedule()
	require.NoError(t, err)
	assert.Equal(t, schedule.TypeCron, nightly.Type)
	assert.False(t, nightly.Enabled)
	assert.Equal(t, "worker-*", nightly.NodeName)
	assert.Equal(t, "bob", nightly.RunAsUser.Name)
}

func TestParse_Empty(t *testing.T) {
	m, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, m.Schedules)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("schedules:\n  - name: a\n    frequency: 1h\n"))
	assert.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	data := `
schedules:
  - name: a
    rule: r
    type: cron
    expression: "not cron"
  - name: b
    rule: r
    type: weekly
    expression: x
  - name: a
    rule: r
    type: frequency
    expression: 1h
  - name: c
    rule: r
    type: frequency
    expression: 1h
    start: 2024-02-01T00:00:00Z
    end: 2024-01-01T00:00:00Z
`
	_, err := Parse([]byte(data))
	require.Error(t, err)
	assert.True(t, schedule.IsConfigurationError(err))

	msg := err.Error()
	assert.Contains(t, msg, "schedules[0]")
	assert.Contains(t, msg, "schedules[1]")
	assert.Contains(t, msg, "already used")
	assert.Contains(t, msg, "schedules[3]")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, m.Schedules, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
