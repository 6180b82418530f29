package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelayMetrics_RegistersOnRegistry(t *testing.T) {
	reg := NewRegistry()
	m := NewRelayMetrics(reg)

	m.ActiveConnections.Set(3)
	m.DeliveryFailures.WithLabelValues(ReasonBufferFull).Inc()
	m.ExchangeCommands.WithLabelValues(OutcomeSuccess).Add(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures.WithLabelValues(ReasonBufferFull)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExchangeCommands.WithLabelValues(OutcomeSuccess)))

	count, err := testutil.GatherAndCount(reg, "ratechat_websocket_active_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewRelayMetrics_NilRegistererIsUsable(t *testing.T) {
	m := NewRelayMetrics(nil)
	m.Broadcasts.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Broadcasts))
}

func TestHandler_ServesExposition(t *testing.T) {
	reg := NewRegistry()
	NewRelayMetrics(reg).Broadcasts.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ratechat_broadcast_messages_total 1")
}
