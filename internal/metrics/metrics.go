// Package metrics defines the prometheus instrumentation of the poll pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle outcome label values.
const (
	CycleOK          = "ok"
	CycleFetchFailed = "fetch_failed"
	CycleSyncFailed  = "sync_failed"
)

// Metrics holds the counters of the poll pipeline. It is created once at
// startup and passed to the components that record into it.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	OffersSynced       prometheus.Counter
	NotificationsSent  prometheus.Counter
	SubscribersRemoved prometheus.Counter
}

// New registers the pipeline counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hetznerbot_poll_cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"outcome"}),
		OffersSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "hetznerbot_offers_synced_total",
			Help: "Offers reconciled into the store.",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "hetznerbot_notifications_sent_total",
			Help: "Offer notifications delivered to subscribers.",
		}),
		SubscribersRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "hetznerbot_subscribers_removed_total",
			Help: "Subscribers removed after permanent delivery failures.",
		}),
	}
}
