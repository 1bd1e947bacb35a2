// Package metrics holds the prometheus collectors of the SOS pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsCreated counts intake outcomes: created, deduplicated, rejected, failed
	EventsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_events_total",
			Help: "SOS intake requests by outcome",
		},
		[]string{"outcome"},
	)

	// ChannelDeliveries counts per-channel alert attempts
	ChannelDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_alert_channel_deliveries_total",
			Help: "Alert delivery attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	// RecipientOutcomes counts per-recipient fan-out outcomes
	RecipientOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_alert_recipients_total",
			Help: "Alert recipients by outcome",
		},
		[]string{"status"},
	)

	// Acknowledgements counts acknowledgement requests: created, duplicate, rejected
	Acknowledgements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_acknowledgements_total",
			Help: "Acknowledgement requests by outcome",
		},
		[]string{"outcome"},
	)

	// PlaceEvents counts emitted geofence transitions
	PlaceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sos_place_events_total",
			Help: "Geofence transitions emitted by type",
		},
		[]string{"type"},
	)
)

// Result turns an error into a result label
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
