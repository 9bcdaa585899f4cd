package middleware

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics stores application counters
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	AnalysesQueued     uint64
	AnalysesCompleted  uint64
	AnalysesFailed     uint64
	AnalysesDeduped    uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests()          { atomic.AddUint64(&globalMetrics.RequestsTotal, 1) }
func IncrementInProgress()        { atomic.AddUint64(&globalMetrics.RequestsInProgress, 1) }
func DecrementInProgress()        { atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0)) }
func IncrementAnalysesQueued()    { atomic.AddUint64(&globalMetrics.AnalysesQueued, 1) }
func IncrementAnalysesCompleted() { atomic.AddUint64(&globalMetrics.AnalysesCompleted, 1) }
func IncrementAnalysesFailed()    { atomic.AddUint64(&globalMetrics.AnalysesFailed, 1) }
func IncrementAnalysesDeduped()   { atomic.AddUint64(&globalMetrics.AnalysesDeduped, 1) }

// CountRequests tracks request totals and in-flight count
func CountRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()
		next.ServeHTTP(w, r)
	})
}

// MetricsHandler serves the counters as JSON
func MetricsHandler(queueDepth func() int, inflight func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := map[string]any{
			"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
			"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
			"analyses_queued":      atomic.LoadUint64(&globalMetrics.AnalysesQueued),
			"analyses_completed":   atomic.LoadUint64(&globalMetrics.AnalysesCompleted),
			"analyses_failed":      atomic.LoadUint64(&globalMetrics.AnalysesFailed),
			"analyses_deduped":     atomic.LoadUint64(&globalMetrics.AnalysesDeduped),
			"uptime":               time.Since(globalMetrics.StartTime).String(),
		}
		if queueDepth != nil {
			snapshot["queue_depth"] = queueDepth()
		}
		if inflight != nil {
			snapshot["analyses_in_flight"] = inflight()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	}
}
