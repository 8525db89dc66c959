package resolver

import "github.com/prometheus/client_golang/prometheus"

// resolutions counts resolved replies by source (remote|fallback) and the
// reason the resolver ended there.
var resolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chat_reply_resolutions_total",
		Help: "Total number of chat replies resolved, by source and reason.",
	},
	[]string{"source", "reason"},
)

func init() {
	prometheus.MustRegister(resolutions)
}
