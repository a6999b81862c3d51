package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsEnqueuedTotal,
		jobsProcessedTotal,
		jobsRetriedTotal,
		queueDepth,
	)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_jobs_enqueued_total",
			Help: "Total number of chat jobs accepted, labeled by tier.",
		},
		[]string{"tier"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_jobs_processed_total",
			Help: "Total number of chat jobs finished, labeled by terminal state.",
		},
		[]string{"state"}, // 'completed', 'failed'
	)

	jobsRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_jobs_retried_total",
			Help: "Total number of retry re-schedules.",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_queue_depth",
			Help: "Live queue counts by state.",
		},
		[]string{"state"}, // 'waiting', 'active'
	)
)

func IncJobEnqueued(tier string) {
	jobsEnqueuedTotal.WithLabelValues(norm(tier)).Inc()
}

func IncJobProcessed(state string) {
	jobsProcessedTotal.WithLabelValues(norm(state)).Inc()
}

func IncJobRetried() { jobsRetriedTotal.Inc() }

func SetQueueDepth(waiting, active int64) {
	queueDepth.WithLabelValues("waiting").Set(float64(waiting))
	queueDepth.WithLabelValues("active").Set(float64(active))
}
