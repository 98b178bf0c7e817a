// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics defines the hub's Prometheus instrumentation. All metrics
// are registered with the default registry via promauto and exposed by the
// HTTP side channel's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesRouted counts inbound messages successfully routed to a
	// driver, labelled by driver name.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_messages_routed_total",
		Help: "Total number of inbound messages routed to a driver",
	}, []string{"driver"})

	// MessagesDropped counts inbound messages that could not be delivered,
	// labelled by reason (unmatched_prefix, decode_error).
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_messages_dropped_total",
		Help: "Total number of inbound messages dropped by reason",
	}, []string{"reason"})

	// MessagesSent counts outbound messages broadcast to reply targets.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_messages_sent_total",
		Help: "Total number of messages broadcast to reply targets",
	})

	// FadeActiveCount tracks how many fades are currently interpolating.
	FadeActiveCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_fade_active",
		Help: "Number of currently active fades",
	})

	// FadeTickDuration tracks how long one fade-engine tick takes. The tick
	// interval is 20ms; a p99 anywhere near that indicates the engine is
	// falling behind.
	FadeTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hub_fade_tick_duration_seconds",
		Help:    "Duration of one fade engine tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.02},
	})

	// DriverConnected reports each driver's connection state as 0/1.
	DriverConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hub_driver_connected",
		Help: "Driver connection state (1 connected, 0 otherwise)",
	}, []string{"driver"})

	// DriverReconnects counts reconnect attempts scheduled per driver.
	DriverReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_driver_reconnect_total",
		Help: "Total number of reconnect attempts scheduled per driver",
	}, []string{"driver"})

	// MacroCycleAborts counts macro chains aborted by cycle detection.
	MacroCycleAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_macro_cycle_abort_total",
		Help: "Total number of macro branches aborted by cycle detection",
	})

	// CueAutoFollows counts cue advances fired by an auto-follow timer.
	CueAutoFollows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_cue_autofollow_total",
		Help: "Total number of cue go calls fired by auto-follow",
	})
)

// IncRouted records a message routed to the named driver.
func IncRouted(driver string) {
	if driver == "" {
		driver = "unknown"
	}
	MessagesRouted.WithLabelValues(driver).Inc()
}

// IncDropped records a dropped inbound message with a concrete reason.
func IncDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	MessagesDropped.WithLabelValues(reason).Inc()
}

// SetDriverConnected records a driver's current connection state.
func SetDriverConnected(driver string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	DriverConnected.WithLabelValues(driver).Set(v)
}

// ObserveFadeTick records the duration of one fade engine tick.
func ObserveFadeTick(d time.Duration) {
	FadeTickDuration.Observe(d.Seconds())
}
