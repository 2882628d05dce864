/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbpatch

import (
	"strconv"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gocraft/dbr/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// EventCommand is the name of the dbr timing event reported for every executed patch command.
const EventCommand = "dbpatch.command"

// Keys of the dbr event key-value map reported with EventCommand.
const (
	EventKeyConnection = "connection"
	EventKeyTarget     = "target"
	EventKeyCommand    = "command"
)

// DefaultCommandDurationBuckets is default buckets for the command duration histogram.
var DefaultCommandDurationBuckets = []float64{
	0.001, 0.01, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string
	// CommandDurationBuckets is a list of buckets for the command duration histogram.
	CommandDurationBuckets []float64
}

// PrometheusMetrics represents collector of metrics for upgrade runs.
type PrometheusMetrics struct {
	CommandDurations *prometheus.HistogramVec
	PatchesTotal     *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new metrics collector.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts is a more configurable version of creating PrometheusMetrics.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	buckets := opts.CommandDurationBuckets
	if buckets == nil {
		buckets = DefaultCommandDurationBuckets
	}
	return &PrometheusMetrics{
		CommandDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "dbpatch_command_duration_seconds",
			Help:      "A histogram of the patch command durations.",
			Buckets:   buckets,
		}, []string{"connection"}),
		PatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "dbpatch_patches_total",
			Help:      "Number of patches processed, partitioned by kind and result.",
		}, []string{"kind", "result"}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.CommandDurations, pm.PatchesTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.CommandDurations)
	prometheus.Unregister(pm.PatchesTotal)
}

// ObservePatch counts a processed patch.
func (pm *PrometheusMetrics) ObservePatch(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	pm.PatchesTotal.WithLabelValues(kind, result).Inc()
}

// CommandMetricsEventReceiver implements the dbr.EventReceiver interface
// and collects durations of executed patch commands.
type CommandMetricsEventReceiver struct {
	*dbr.NullEventReceiver
	metrics *PrometheusMetrics
}

// NewCommandMetricsEventReceiver creates a new CommandMetricsEventReceiver.
func NewCommandMetricsEventReceiver(metrics *PrometheusMetrics) *CommandMetricsEventReceiver {
	return &CommandMetricsEventReceiver{metrics: metrics}
}

// TimingKv is called when a command is executed.
func (r *CommandMetricsEventReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	if eventName != EventCommand {
		return
	}
	r.metrics.CommandDurations.WithLabelValues(kvs[EventKeyConnection]).Observe(time.Duration(nanoseconds).Seconds())
}

// SlowCommandLogEventReceiver implements the dbr.EventReceiver interface
// and logs commands whose execution took longer than the threshold.
type SlowCommandLogEventReceiver struct {
	*dbr.NullEventReceiver
	logger    log.FieldLogger
	threshold time.Duration
}

// NewSlowCommandLogEventReceiver creates a new SlowCommandLogEventReceiver.
func NewSlowCommandLogEventReceiver(logger log.FieldLogger, threshold time.Duration) *SlowCommandLogEventReceiver {
	return &SlowCommandLogEventReceiver{logger: logger, threshold: threshold}
}

// TimingKv is called when a command is executed.
func (r *SlowCommandLogEventReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	if eventName != EventCommand {
		return
	}
	d := time.Duration(nanoseconds)
	if d < r.threshold {
		return
	}
	r.logger.Warn("slow patch command",
		log.String(EventKeyConnection, kvs[EventKeyConnection]),
		log.String(EventKeyTarget, kvs[EventKeyTarget]),
		log.String(EventKeyCommand, kvs[EventKeyCommand]),
		log.Int("duration_ms", int(d.Milliseconds())))
}

// CompositeReceiver represents a composition of dbr.EventReceiver-s.
type CompositeReceiver struct {
	Receivers []dbr.EventReceiver
}

var _ dbr.EventReceiver = (*CompositeReceiver)(nil)

// NewCompositeReceiver creates a new CompositeReceiver.
func NewCompositeReceiver(receivers []dbr.EventReceiver) *CompositeReceiver {
	return &CompositeReceiver{receivers}
}

// Event receives a simple notification when various events occur.
func (r *CompositeReceiver) Event(eventName string) {
	for _, recv := range r.Receivers {
		recv.Event(eventName)
	}
}

// EventKv receives a notification when various events occur along with optional key/value data.
func (r *CompositeReceiver) EventKv(eventName string, kvs map[string]string) {
	for _, recv := range r.Receivers {
		recv.EventKv(eventName, kvs)
	}
}

// EventErr receives a notification of an error if one occurs.
func (r *CompositeReceiver) EventErr(eventName string, err error) error {
	for _, recv := range r.Receivers {
		_ = recv.EventErr(eventName, err)
	}
	return err
}

// EventErrKv receives a notification of an error if one occurs along with optional key/value data.
func (r *CompositeReceiver) EventErrKv(eventName string, err error, kvs map[string]string) error {
	for _, recv := range r.Receivers {
		_ = recv.EventErrKv(eventName, err, kvs)
	}
	return err
}

// Timing receives the time an event took to happen.
func (r *CompositeReceiver) Timing(eventName string, nanoseconds int64) {
	for _, recv := range r.Receivers {
		recv.Timing(eventName, nanoseconds)
	}
}

// TimingKv receives the time an event took to happen along with optional key/value data.
func (r *CompositeReceiver) TimingKv(eventName string, nanoseconds int64, kvs map[string]string) {
	for _, recv := range r.Receivers {
		recv.TimingKv(eventName, nanoseconds, kvs)
	}
}

// CommandKvs builds the key-value map reported with EventCommand.
func CommandKvs(connection, target string, line int) map[string]string {
	return map[string]string{
		EventKeyConnection: connection,
		EventKeyTarget:     target,
		EventKeyCommand:    "line " + strconv.Itoa(line),
	}
}
