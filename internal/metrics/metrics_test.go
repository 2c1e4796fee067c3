package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ConnectionRejected("capacity")
	m.MessageHandled("tools/call", "ok")
	m.ObserveTool("get_status", 5*time.Millisecond)
	m.DocumentWrite("client", "ok")
	m.AuditDecision("denied")
	m.AuditDecision("denied")

	body := scrape(t, m)
	assert.Contains(t, body, "memorybank_connections_active 1\n")
	assert.Contains(t, body, `memorybank_connections_rejected_total{reason="capacity"} 1`)
	assert.Contains(t, body, `memorybank_audit_decisions_total{outcome="denied"} 2`)
	assert.Contains(t, body, `memorybank_document_writes_total{outcome="ok",source="client"} 1`)
	assert.Contains(t, body, `memorybank_tool_duration_seconds_count{tool="get_status"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.MessageHandled("resources/list", "ok")

	assert.Contains(t, scrape(t, m), `memorybank_messages_total{method="resources/list",outcome="ok"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.ConnectionRejected("origin")
		m.MessageHandled("x", "y")
		m.ObserveTool("x", time.Second)
		m.DocumentWrite("client", "ok")
		m.AuditDecision("allowed")
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
