package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(conversationsArchived)
}

var conversationsArchived = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "conversations_archived_total",
		Help: "Conversations moved to archived by the maintenance sweep.",
	},
)

func IncConversationsArchived(n int) { conversationsArchived.Add(float64(n)) }
