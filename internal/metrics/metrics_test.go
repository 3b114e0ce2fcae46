package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExecution(t *testing.T) {
	before := testutil.ToFloat64(executionsTotal.WithLabelValues("SUCCESS"))

	RecordExecution("SUCCESS", 10*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(executionsTotal.WithLabelValues("SUCCESS")))
}

func TestRecordCatchUpWindows(t *testing.T) {
	before := testutil.ToFloat64(catchUpWindowsTotal)

	RecordCatchUpWindows(0)
	RecordCatchUpWindows(3)

	assert.Equal(t, before+3, testutil.ToFloat64(catchUpWindowsTotal))
}

func TestWatermarkLag(t *testing.T) {
	SetWatermarkLag("hourly", 90*time.Second)
	assert.Equal(t, 90.0, testutil.ToFloat64(watermarkLag.WithLabelValues("hourly")))

	SetWatermarkLag("hourly", -time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(watermarkLag.WithLabelValues("hourly")))

	ForgetSchedule("hourly")
	assert.Equal(t, 0, testutil.CollectAndCount(watermarkLag))
}

func TestHandler(t *testing.T) {
	RecordCycle(time.Millisecond)
	RecordClaimConflict()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "ruletick_cycles_total"))
	assert.True(t, strings.Contains(body, "ruletick_claim_conflicts_total"))
}
