/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer/peertest"
)

func TestMetrics_givenSessionLifecycle_thenGaugesFollow(t *testing.T) {
	m := New()

	devices := media.NewSyntheticDevices(media.DefaultSyntheticConfig())
	sub := peertest.NewSubstrate()
	registry := call.NewRegistry(devices, sub, sub, call.DefaultOptions())
	registry.SetObserver(m)
	defer registry.CloseAll()

	s := registry.Create()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("idle")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions.WithLabelValues("idle")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.starts))

	s.ToggleMute()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toggles.WithLabelValues("mute", "true")))

	s.End()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions.WithLabelValues("active")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.negotiation))
}

func TestMetrics_StartFailed(t *testing.T) {
	m := New()
	m.StartFailed("permission_denied")
	m.StartFailed("permission_denied")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.startFailures.WithLabelValues("permission_denied")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncrementWebSocketConnections()
	m.UpdateSystemMetrics()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "callcore_websocket_connections 1")
	assert.Contains(t, string(body), "callcore_memory_usage_bytes")

	m.StartSystemMetrics(time.Millisecond)
	m.Stop()
	m.Stop()
}
