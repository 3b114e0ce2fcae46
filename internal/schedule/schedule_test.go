package schedule

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Cron(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{name: "every minute", expression: "* * * * *"},
		{name: "every hour", expression: "0 * * * *"},
		{name: "with seconds", expression: "30 0 * * * *"},
		{name: "ranges", expression: "0 9-17 * * 1-5"},
		{name: "descriptor", expression: "@hourly"},
		{name: "every descriptor", expression: "@every 5m"},
		{name: "too few fields", expression: "* * *", wantErr: true},
		{name: "invalid value", expression: "60 * * * *", wantErr: true},
		{name: "empty", expression: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(TypeCron, tt.expression, "")
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidExpression)
				var pe *ParseError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCronTrigger_NextFireAfter(t *testing.T) {
	trigger, err := Parse(TypeCron, "0 * * * *", "UTC")
	require.NoError(t, err)

	base := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	next := trigger.NextFireAfter(base.UnixMilli())
	assert.Equal(t, time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC).UnixMilli(), next)

	// A fire time is never returned for the anchor itself.
	onBoundary := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, time.Date(2024, 3, 10, 16, 0, 0, 0, time.UTC).UnixMilli(), trigger.NextFireAfter(onBoundary))
}

func TestCronTrigger_Timezone(t *testing.T) {
	trigger, err := Parse(TypeCron, "0 9 * * *", "America/New_York")
	require.NoError(t, err)

	base := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := time.UnixMilli(trigger.NextFireAfter(base.UnixMilli())).UTC()

	// 09:00 EST is 14:00 UTC
	assert.Equal(t, time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC), next)
}

func TestParse_InvalidTimezone(t *testing.T) {
	_, err := Parse(TypeCron, "0 * * * *", "Not/AZone")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestParse_UnknownType(t *testing.T) {
	_, err := Parse(Type("WEEKLY"), "1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "PT1H", want: time.Hour},
		{input: "PT30M", want: 30 * time.Minute},
		{input: "PT1H30M", want: 90 * time.Minute},
		{input: "P1D", want: 24 * time.Hour},
		{input: "P1W", want: 7 * 24 * time.Hour},
		{input: "P1DT12H", want: 36 * time.Hour},
		{input: "PT1.5S", want: 1500 * time.Millisecond},
		{input: "pt10m", want: 10 * time.Minute},
		{input: "90m", want: 90 * time.Minute},
		{input: "1d", want: 24 * time.Hour},
		{input: "2d12h", want: 60 * time.Hour},
		{input: "500ms", wantErr: true},
		{input: "PT0S", wantErr: true},
		{input: "P", wantErr: true},
		{input: "PT", wantErr: true},
		{input: "P1DT", wantErr: true},
		{input: "hourly", wantErr: true},
		{input: "", wantErr: true},
		{input: "1.5d", wantErr: true},
		{input: "0.5d", wantErr: true},
		{input: "1h2d", wantErr: true},
		{input: "1d-1h", wantErr: true},
		{input: "999999999999d", wantErr: true},
		{input: "P200000D", wantErr: true},
		{input: "P9999999999999W", wantErr: true},
		{input: "PT99999999999999999999S", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFrequency(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_FractionalDaysIsConfigurationError(t *testing.T) {
	_, err := Parse(TypeFrequency, "1.5d", "")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestFrequencyTrigger_NextFireAfter(t *testing.T) {
	trigger, err := Parse(TypeFrequency, "PT1H", "")
	require.NoError(t, err)

	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, anchor+time.Hour.Milliseconds(), trigger.NextFireAfter(anchor))
	assert.Equal(t, Never, trigger.NextFireAfter(Never-1))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("cron")
	require.NoError(t, err)
	assert.Equal(t, TypeCron, typ)

	typ, err = ParseType(" Frequency ")
	require.NoError(t, err)
	assert.Equal(t, TypeFrequency, typ)

	_, err = ParseType("hourly")
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestBounds_Validate(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, Bounds{}.Validate())
	assert.NoError(t, NewBounds(&end, &start).Validate())
	assert.NoError(t, NewBounds(&start, nil).Validate())

	err := NewBounds(&start, &end).Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidBounds))
}

func TestSchedule_Validate(t *testing.T) {
	valid := Schedule{
		Name:       "hourly-detections",
		RuleRef:    "AnalyticRule:6b2f",
		Type:       TypeFrequency,
		Expression: "PT1H",
	}
	require.NoError(t, valid.Validate())

	noName := valid
	noName.Name = " "
	assert.ErrorIs(t, noName.Validate(), ErrInvalidSchedule)

	noRule := valid
	noRule.RuleRef = ""
	assert.ErrorIs(t, noRule.Validate(), ErrInvalidSchedule)

	badExpr := valid
	badExpr.Type = TypeCron
	assert.ErrorIs(t, badExpr.Validate(), ErrInvalidExpression)

	assert.True(t, valid.AnyNode())
	valid.NodeName = "node-1"
	assert.False(t, valid.AnyNode())
}

func TestTracker_Fired(t *testing.T) {
	var nilTracker *Tracker
	assert.False(t, nilTracker.Fired())
	assert.False(t, (&Tracker{LastEffectiveExecutionTimeMs: 10}).Fired())
	assert.True(t, (&Tracker{ActualExecutionTimeMs: 10}).Fired())
}
