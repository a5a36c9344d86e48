package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Input metrics
	PulsesAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_agent_pulses_accepted_total",
			Help: "Activity pulses counted after debouncing",
		},
		[]string{"kind"},
	)

	PulsesSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_agent_pulses_suppressed_total",
			Help: "Raw input events rejected by the debouncer",
		},
		[]string{"kind", "reason"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_agent_events_dropped_total",
			Help: "Raw input events dropped because the collector buffer was full",
		},
	)

	// State machine metrics
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_agent_ticks_total",
			Help: "State machine ticks by classification",
		},
		[]string{"classification"},
	)

	TickPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_agent_tick_panics_total",
			Help: "Ticks skipped because of a recovered panic",
		},
	)

	// Upload metrics
	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_agent_uploads_total",
			Help: "Session upload attempts by result",
		},
		[]string{"result"},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "activity_agent_upload_duration_seconds",
			Help:    "Session upload round trip in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_agent_upload_queue_depth",
			Help: "Payloads waiting for redelivery",
		},
	)

	// Command channel metrics
	CommandEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_agent_command_events_total",
			Help: "Inbound command channel events by type",
		},
		[]string{"event"},
	)

	CommandChannelConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_agent_command_channel_connected",
			Help: "1 while the command channel is connected",
		},
	)

	// Break metrics
	BreaksStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_agent_breaks_started_total",
			Help: "Breaks started by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		PulsesAccepted,
		PulsesSuppressed,
		EventsDropped,
		Ticks,
		TickPanics,
		Uploads,
		UploadDuration,
		QueueDepth,
		CommandEvents,
		CommandChannelConnected,
		BreaksStarted,
	)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
