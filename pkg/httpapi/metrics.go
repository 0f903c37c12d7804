package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "safeai",
		Name:      "decisions_total",
		Help:      "Policy decisions emitted, by boundary and action.",
	}, []string{"boundary", "action"})

	metricActiveCapabilityTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "safeai",
		Name:      "capability_tokens_active_total",
		Help:      "Currently active (unexpired, unrevoked) capability tokens.",
	})

	metricPendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "safeai",
		Name:      "approvals_pending_total",
		Help:      "Approval requests currently pending a human decision.",
	})
)

func observeDecision(boundary, action string) {
	metricDecisionsTotal.WithLabelValues(boundary, action).Inc()
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metricActiveCapabilityTokens.Set(float64(len(s.engine.Capabilities.ListActive(capabilityListAllParams()))))
	metricPendingApprovals.Set(float64(len(s.engine.Approvals.ListRequests(pendingApprovalsParams()))))
	promhttp.Handler().ServeHTTP(w, r)
}
