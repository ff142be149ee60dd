package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "rides_created_total", Help: "Total rides posted"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "rides_cancelled_total", Help: "Total rides cancelled by their driver"})
	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "rides_completed_total", Help: "Total rides swept to completed"})

	RequestsCreated   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "requests_created_total", Help: "Total join requests created or reopened"})
	RequestsAccepted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "requests_accepted_total", Help: "Total join requests accepted"})
	RequestsRejected  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "requests_rejected_total", Help: "Total join requests rejected"})
	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "requests_cancelled_total", Help: "Total join requests cancelled"})
	SeatConflicts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "seat_conflicts_total", Help: "Accepts that failed the authoritative seat check"})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "messages_sent_total", Help: "Total ride messages sent"})
	ReportsFiled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "bilshare", Name: "reports_filed_total", Help: "Total abuse reports filed"})
	ChatSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "bilshare", Name: "chat_sessions", Help: "Connected ride chat websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bilshare", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bilshare",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
