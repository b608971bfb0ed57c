package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 分发结果标签
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultStale     = "stale"
	ResultError     = "error"
)

var (
	// DispatchTotal 分析分发次数，按结果统计
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seo_report_dispatch_total",
		Help: "Total analysis dispatches by result",
	}, []string{"result"})

	// DispatchDuration 外部分析耗时
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seo_report_dispatch_duration_seconds",
		Help:    "Duration of calls to the analysis backend",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s ~ 256s
	})

	// DispatchInFlight 正在进行的分析
	DispatchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seo_report_dispatch_in_flight",
		Help: "Analyses currently waiting on the backend",
	})

	// ClaimTotal 状态抢占结果
	ClaimTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seo_report_claim_total",
		Help: "Pending/reanalyze claims by outcome",
	}, []string{"mode", "outcome"})

	// HTTPRequests HTTP 请求计数
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seo_report_http_requests_total",
		Help: "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	// HTTPDuration HTTP 请求耗时
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seo_report_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// WSConnections 当前 websocket 连接
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seo_report_ws_connections",
		Help: "Open websocket connections",
	})

	// OTPCleanupDeleted 清理的过期验证码
	OTPCleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seo_report_otp_cleanup_deleted_total",
		Help: "Expired OTP rows removed by the cleanup job",
	})
)
