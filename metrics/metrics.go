package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

const (
	MetricsNamespace = "testexec"
)

var (
	Debug                bool = false
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	messagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "messages_delivered_total",
		Help:      "Number of messages delivered to the message sink, by kind",
	}, []string{
		"kind",
	})

	listenerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "listener_failures_total",
		Help:      "Number of panics raised by the message sink while delivering a message",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "message_queue_depth",
		Help:      "Number of messages waiting to be delivered",
	})

	collectionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "collections_running",
		Help:      "Number of test collections currently executing",
	})

	collectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "collections_total",
		Help:      "Number of test collections that finished, by final state",
	}, []string{
		"state",
	})

	testResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_results_total",
		Help:      "Number of test results, by result",
	}, []string{
		"run_id",
		"result",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Execution time of individual tests",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{
		"result",
	})

	longRunningNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "long_running_notifications_total",
		Help:      "Number of long running test notifications raised by the watchdog",
	})

	runTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests",
		Help:      "Test counts of the last run, by outcome",
	}, []string{
		"run_id",
		"outcome",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordMessageDelivered(kind types.MessageKind) {
	messagesDelivered.WithLabelValues(string(kind)).Inc()
}

func RecordListenerFailure() {
	listenerFailures.Inc()
}

func RecordQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

func RecordCollectionStarted() {
	collectionsRunning.Inc()
}

func RecordCollectionFinished(state string) {
	collectionsRunning.Dec()
	collectionsTotal.WithLabelValues(state).Inc()
}

func RecordTestResult(runID string, result string, duration time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "test_results_total",
			"run_id", runID,
			"result", result,
			"duration", duration)
	}
	testResults.WithLabelValues(runID, result).Inc()
	testDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func RecordLongRunningNotification() {
	longRunningNotifications.Inc()
}

// RecordRun publishes the totals of a finished run.
func RecordRun(runID string, summary types.RunSummary) {
	runTotal.WithLabelValues(runID, "total").Set(float64(summary.Total))
	runTotal.WithLabelValues(runID, "passed").Set(float64(summary.Passed()))
	runTotal.WithLabelValues(runID, "failed").Set(float64(summary.Failed))
	runTotal.WithLabelValues(runID, "skipped").Set(float64(summary.Skipped))
	runTotal.WithLabelValues(runID, "not_run").Set(float64(summary.NotRun))
	runDuration.WithLabelValues(runID).Set(summary.Time.Seconds())
}
