package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/wordquiz/gameerr"
)

func TestMonitor_Counters(t *testing.T) {
	m := NewMonitor("wordquiz_test")

	m.RoomOp("join", nil)
	m.RoomOp("join", gameerr.ErrRoomFull)
	m.RoomOp("join", gameerr.ErrRoomFull)
	m.Answer(true)
	m.RoundClosed("complete")
	m.StoreRetry(nil, time.Millisecond)
	m.SetActiveRooms(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.RoomOps.WithLabelValues("join", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.RoomOps.WithLabelValues("join", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.Answers.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.StoreRetries))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.metrics.ActiveRooms))
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("wordquiz_http")
	m.IncOnlinePlayers()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "wordquiz_http_online_players 1"))
}

func TestMonitor_NilIsNoop(t *testing.T) {
	var m *Monitor
	m.RoomOp("start", nil)
	m.Answer(false)
	m.ObserveAdvanceLatency(time.Second)
	assert.NotNil(t, m.Handler())
}
