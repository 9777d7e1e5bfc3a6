package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/rotation"
)

const pairLabel = "pair"

// RotationCollector records rotation lifecycle events per key pair.
type RotationCollector struct {
	state         *prometheus.GaugeVec
	workUnits     *prometheus.GaugeVec
	rotations     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	readErrors    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	notifications prometheus.GaugeFunc
}

var _ rotation.Observer = (*RotationCollector)(nil)

// NewRotationCollector creates the collectors and registers them on reg.
func NewRotationCollector(namespace string, reg prometheus.Registerer) (*RotationCollector, error) {
	c := &RotationCollector{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "key_rotation_state",
			Help:      "Current rotation state per key pair (0 idle, 1 pending, 2 in progress, 3 failed threshold, 4 failed timeout, 5 failed rotation).",
		}, []string{pairLabel}),
		workUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "key_pair_work_units",
			Help:      "Work units consumed by the current key generation, larger of the two directions.",
		}, []string{pairLabel}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Completed key rotations.",
		}, []string{pairLabel, "forced"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotation_failures_total",
			Help:      "Key rotations that left the pair in the failed state.",
		}, []string{pairLabel}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_usage_read_errors_total",
			Help:      "Ticks during which at least one consumer counter could not be read.",
		}, []string{pairLabel}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "key_rotation_duration_seconds",
			Help:      "Time from queuing a rotation to committing the new keys.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{pairLabel}),
	}

	for _, col := range []prometheus.Collector{c.state, c.workUnits, c.rotations, c.failures, c.readErrors, c.latency} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RegisterDroppedNotifications exports a counter owned elsewhere, such as the
// dropped-event count of a consumer transport.
func (c *RotationCollector) RegisterDroppedNotifications(namespace string, reg prometheus.Registerer, dropped func() uint64) error {
	c.notifications = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "consumer_notifications_dropped",
		Help:      "Consumer events dropped because the mailbox was full.",
	}, func() float64 { return float64(dropped()) })
	return reg.Register(c.notifications)
}

func (c *RotationCollector) StateChanged(pair interfaces.KeyPairID, _, to interfaces.RotationState) {
	c.state.WithLabelValues(pair.String()).Set(float64(to))
}

func (c *RotationCollector) UsageRefreshed(pair interfaces.KeyPairID, usage interfaces.PairUsage) {
	c.workUnits.WithLabelValues(pair.String()).Set(float64(usage.MaxWorkUnits()))
}

func (c *RotationCollector) RotationCompleted(pair interfaces.KeyPairID, forced bool, latency time.Duration) {
	forcedLabel := "false"
	if forced {
		forcedLabel = "true"
	}
	c.rotations.WithLabelValues(pair.String(), forcedLabel).Inc()
	c.latency.WithLabelValues(pair.String()).Observe(latency.Seconds())
	c.workUnits.WithLabelValues(pair.String()).Set(0)
}

func (c *RotationCollector) RotationFailed(pair interfaces.KeyPairID) {
	c.failures.WithLabelValues(pair.String()).Inc()
}

func (c *RotationCollector) ConsumerReadFailed(pair interfaces.KeyPairID) {
	c.readErrors.WithLabelValues(pair.String()).Inc()
}
