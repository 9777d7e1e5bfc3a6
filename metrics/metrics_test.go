package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPair = interfaces.KeyPairID{Space: 3, Tier: interfaces.TierUser}

func TestRotationCollector_RecordsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewRotationCollector("test", reg)
	require.NoError(t, err)

	c.UsageRefreshed(testPair, interfaces.PairUsage{D2H: interfaces.UsageStats{TotalEncryptOps: 42}})
	assert.Equal(t, 42.0, testutil.ToFloat64(c.workUnits.WithLabelValues("ks3/user")))

	c.StateChanged(testPair, interfaces.StateIdle, interfaces.StatePending)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.state.WithLabelValues("ks3/user")))

	c.RotationCompleted(testPair, true, 3*time.Millisecond)
	c.RotationCompleted(testPair, false, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rotations.WithLabelValues("ks3/user", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rotations.WithLabelValues("ks3/user", "false")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.workUnits.WithLabelValues("ks3/user")))

	c.RotationFailed(testPair)
	c.ConsumerReadFailed(testPair)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("ks3/user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.readErrors.WithLabelValues("ks3/user")))

	// a second collector under the same namespace collides
	_, err = NewRotationCollector("test", reg)
	assert.Error(t, err)
}

func TestMetricsServer_ServesRegistry(t *testing.T) {
	m, err := New("test", "127.0.0.1:0")
	require.NoError(t, err)

	dropped := uint64(7)
	require.NoError(t, m.Rotation.RegisterDroppedNotifications("test", m.Registry(), func() uint64 { return dropped }))
	m.Rotation.RotationFailed(testPair)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	resp := rr.Result()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `test_key_rotation_failures_total{pair="ks3/user"} 1`)
	assert.Contains(t, string(body), "test_consumer_notifications_dropped 7")
	assert.Contains(t, string(body), "go_goroutines")
}
