// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksProcessed counts price ticks consumed by the risk monitor.
	TicksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fxarena_ticks_processed_total",
		Help: "Price ticks consumed by the liquidation monitor",
	})

	// PositionsOpened counts opened positions, partitioned by side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_positions_opened_total",
		Help: "Positions opened",
	}, []string{"side"})

	// PositionsClosed counts closed positions, partitioned by cause.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_positions_closed_total",
		Help: "Positions closed",
	}, []string{"cause"})

	// OrdersRejected counts rejected order placements by reason.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_orders_rejected_total",
		Help: "Order placements rejected by validation",
	}, []string{"reason"})

	// Liquidations counts participant stopouts.
	Liquidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fxarena_liquidations_total",
		Help: "Participant stopouts executed",
	})

	// Settlements counts settlement runs by outcome.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fxarena_settlements_total",
		Help: "Competition settlement runs",
	}, []string{"outcome"})

	// WebSocketClients tracks connected account-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fxarena_websocket_clients",
		Help: "Connected account-stream websocket clients",
	})
)
