package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pinceladas",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pinceladas",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pinceladas",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pinceladas",
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total number of balance transactions attempted.",
		},
		[]string{"type", "status"},
	)

	outstandingBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pinceladas",
			Subsystem: "ledger",
			Name:      "outstanding_balance",
			Help:      "Sum of all account balances.",
		},
	)

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pinceladas",
			Subsystem: "transfer",
			Name:      "transfers_total",
			Help:      "Total number of P2P transfers by outcome.",
		},
		[]string{"outcome"},
	)

	redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pinceladas",
			Subsystem: "voucher",
			Name:      "redemptions_total",
			Help:      "Total number of voucher redemption attempts.",
		},
		[]string{"status"},
	)

	purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pinceladas",
			Subsystem: "store",
			Name:      "purchases_total",
			Help:      "Total number of store purchase attempts.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerTransactions,
		outstandingBalance,
		transfers,
		redemptions,
		purchases,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
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

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransaction records one executor apply attempt.
func RecordTransaction(kind string, ok bool) {
	ledgerTransactions.WithLabelValues(kind, outcome(ok)).Inc()
}

// RecordTransfer records one P2P transfer. Outcome is one of
// "success", "failed", "partial".
func RecordTransfer(result string) {
	transfers.WithLabelValues(result).Inc()
}

// RecordRedemption records one voucher redemption attempt.
func RecordRedemption(ok bool) {
	redemptions.WithLabelValues(outcome(ok)).Inc()
}

// RecordPurchase records one store purchase attempt.
func RecordPurchase(ok bool) {
	purchases.WithLabelValues(outcome(ok)).Inc()
}

// SetOutstandingBalance publishes the current sum of all balances.
func SetOutstandingBalance(total int64) {
	outstandingBalance.Set(float64(total))
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		if len(parts) == 2 {
			return "/accounts/:account"
		}
		return "/accounts/" + parts[2]
	case "vouchers", "items":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		return "/" + parts[0] + "/:id"
	default:
		return "/" + parts[0]
	}
}
