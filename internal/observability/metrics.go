package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksAccepted counts ticks that passed validation and updated the snapshot.
	TicksAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_ticks_accepted_total", Help: "Ticks accepted by the ingress router"},
		[]string{"symbol"},
	)

	// TicksRejected counts validation drops on the tick path.
	TicksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_ticks_rejected_total", Help: "Ticks dropped by validation"},
		[]string{"reason"},
	)

	// FramesMalformed counts frames that failed to parse.
	FramesMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_frames_malformed_total", Help: "Frames that failed strict decoding"},
	)

	// FanoutDropped counts updates dropped because a subscriber lagged.
	FanoutDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fanout_dropped_total", Help: "Tick updates dropped on subscriber backpressure"},
		[]string{"symbol"},
	)

	// FireRequests counts fire authority outcomes.
	FireRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fire_requests_total", Help: "Fire requests by outcome"},
		[]string{"outcome"},
	)

	// DispatchFailures counts order commands that could not be delivered.
	DispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_failures_total", Help: "Order commands that failed delivery"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksAccepted,
		TicksRejected,
		FramesMalformed,
		FanoutDropped,
		FireRequests,
		DispatchFailures,
	)
}
