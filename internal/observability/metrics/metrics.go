package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "dentalogic"

// SchedulingMetrics exposes counters/histograms for slot listing and booking.
type SchedulingMetrics struct {
	bookingsTotal     *prometheus.CounterVec
	slotRequestsTotal *prometheus.CounterVec
	slotLatency       *prometheus.HistogramVec
	staleResults      prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		slotRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slot_requests_total",
			Help:      "Slot listings by result",
		}, []string{"result"}),
		slotLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "slot_listing_seconds",
			Help:      "Latency of slot listing including upstream fetches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "stale_results_total",
			Help:      "Fetch results discarded because the selection changed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.slotRequestsTotal, m.slotLatency, m.staleResults)
	return m
}

// ObserveBooking records a booking outcome: accepted, conflict, rejected or error.
func (m *SchedulingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSlotListing(result string, seconds float64) {
	if m == nil {
		return
	}
	m.slotRequestsTotal.WithLabelValues(result).Inc()
	m.slotLatency.WithLabelValues(result).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveStaleResult() {
	if m == nil {
		return
	}
	m.staleResults.Inc()
}

// RealtimeMetrics covers the push channel and handoff presentation.
type RealtimeMetrics struct {
	connections   *prometheus.GaugeVec
	eventsTotal   *prometheus.CounterVec
	reconnects    prometheus.Counter
	droppedTotal  prometheus.Counter
	handoffsTotal *prometheus.CounterVec
}

func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Open realtime connections by transport",
		}, []string{"transport"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Realtime events by topic and direction",
		}, []string{"topic", "direction"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Client channel reconnect attempts",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "dropped_events_total",
			Help:      "Events dropped for slow subscribers",
		}),
		handoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handoff",
			Name:      "notifications_total",
			Help:      "Handoff notifications by presentation outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.connections, m.eventsTotal, m.reconnects, m.droppedTotal, m.handoffsTotal)
	return m
}

func (m *RealtimeMetrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Inc()
}

func (m *RealtimeMetrics) ConnectionClosed(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Dec()
}

// ObserveEvent counts an event; direction is "in" (received) or "out" (fanned out).
func (m *RealtimeMetrics) ObserveEvent(topic, direction string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(topic, direction).Inc()
}

func (m *RealtimeMetrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *RealtimeMetrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

func (m *RealtimeMetrics) ObserveHandoff(outcome string) {
	if m == nil {
		return
	}
	m.handoffsTotal.WithLabelValues(outcome).Inc()
}
