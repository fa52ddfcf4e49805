package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "blackbox"
)

var (
	Debug         bool = false
	validVerdicts      = []types.VerdictStatus{types.VerdictPass, types.VerdictFail, types.VerdictSkipped, types.VerdictError}
	nonAlphaRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "verdicts_total",
		Help:      "Count of test case verdicts",
	}, []string{
		"pipeline",
		"group",
		"status",
	})

	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "cache_lookups_total",
		Help:      "Count of artifact cache lookups by outcome",
	}, []string{
		"outcome",
	})

	compilationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "compilations_total",
		Help:      "Count of compilations by pipeline and result",
	}, []string{
		"pipeline",
		"result",
	})

	compilationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "compilation_duration_seconds",
		Help:      "Duration of compilations",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{
		"pipeline",
	})

	terminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "process_terminations_total",
		Help:      "Count of child process terminations by kind",
	}, []string{
		"termination",
	})

	processDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "process_duration_seconds",
		Help:      "Wall time of child processes",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{
		"termination",
	})

	runningProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "running_processes",
		Help:      "Number of child processes currently running",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of a whole run",
	}, []string{
		"run_id",
		"result",
	})

	runTestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_total",
		Help:      "Total number of test cases in a run",
	}, []string{
		"run_id",
	})

	runTestPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_passed",
		Help:      "Number of passed test cases in a run",
	}, []string{
		"run_id",
	})

	runTestFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_test_failed",
		Help:      "Number of failed or errored test cases in a run",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of a run in seconds",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphaRegex.ReplaceAllString(err.Error(), "")
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

func RecordVerdict(pipeline string, group string, status types.VerdictStatus) {
	if !slices.Contains(validVerdicts, status) {
		log.Error("RecordVerdict - invalid status", "status", status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "verdicts_total",
			"pipeline", pipeline,
			"group", group,
			"status", status)
	}
	verdictsTotal.WithLabelValues(pipeline, group, string(status)).Inc()
}

// RecordCacheLookup counts a cache lookup; outcome is one of hit, miss or joined.
func RecordCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

func RecordCompilation(pipeline string, result string, duration time.Duration) {
	compilationsTotal.WithLabelValues(pipeline, result).Inc()
	compilationDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

func RecordTermination(termination types.Termination, duration time.Duration) {
	terminationsTotal.WithLabelValues(string(termination)).Inc()
	processDuration.WithLabelValues(string(termination)).Observe(duration.Seconds())
}

func ProcessStarted() {
	runningProcesses.Inc()
}

func ProcessFinished() {
	runningProcesses.Dec()
}

func RecordRun(
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(runID, result).Set(1)
	runTestTotal.WithLabelValues(runID).Add(float64(total))
	runTestPassed.WithLabelValues(runID).Add(float64(passed))
	runTestFailed.WithLabelValues(runID).Add(float64(failed))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}
