// Package metrics exposes Prometheus collectors for the pool engine and the
// HTTP API on a private registry.
package metrics

import (
	"bufio"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bullbear"

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	poolOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "operations_total",
		Help:      "Pool operations by kind and outcome.",
	}, []string{"op", "result"})

	poolOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "operation_duration_seconds",
		Help:      "Duration of pool operations including persistence.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"op"})

	poolsLive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "live",
		Help:      "Pools held in memory by phase.",
	}, []string{"phase"})

	collateralIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "collateral_in_total",
		Help:      "Collateral deposited, in whole units (approximate).",
	}, []string{"side"})

	collateralOut = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "collateral_out_total",
		Help:      "Collateral paid out, in whole units (approximate).",
	}, []string{"kind"})

	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "keeper",
		Name:      "job_runs_total",
		Help:      "Scheduled job runs by job and outcome.",
	}, []string{"job", "success"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "keeper",
		Name:      "job_run_duration_seconds",
		Help:      "Duration of scheduled job runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"job"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		poolOps,
		poolOpDuration,
		poolsLive,
		collateralIn,
		collateralOut,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordPoolOp counts one pool operation. err == nil counts as success.
func RecordPoolOp(op string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	poolOps.WithLabelValues(op, result).Inc()
	poolOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetLivePools replaces the per-phase pool gauge.
func SetLivePools(byPhase map[string]int) {
	poolsLive.Reset()
	for phase, n := range byPhase {
		poolsLive.WithLabelValues(phase).Set(float64(n))
	}
}

// AddCollateralIn records a deposit of wei on side.
func AddCollateralIn(side string, wei *uint256.Int) {
	collateralIn.WithLabelValues(side).Add(units(wei))
}

// AddCollateralOut records a payout of wei. kind is burn, claim or
// creator_fee.
func AddCollateralOut(kind string, wei *uint256.Int) {
	collateralOut.WithLabelValues(kind).Add(units(wei))
}

var weiPerUnit = new(big.Float).SetFloat64(1e18)

func units(wei *uint256.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei.ToBig()), weiPerUnit).Float64()
	return f
}

// RecordJob records one scheduled job run.
func RecordJob(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// InstrumentHandler wraps next with HTTP request metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// CanonicalPath collapses pool addresses and users out of a request path so
// the label set stays bounded.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "0x") || strings.HasPrefix(p, "0X") {
			parts[i] = ":addr"
		}
	}
	if len(parts) > 2 && parts[0] == "api" && (parts[1] == "price-feeds" || parts[1] == "prices") {
		parts = append(parts[:2], ":pair")
	}
	return "/" + strings.Join(parts, "/")
}
