package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes.
const (
	RefreshOK        = "ok"
	RefreshEmpty     = "empty"
	RefreshDiscarded = "discarded"
)

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinverse_refresh_total",
		Help: "Coin list refresh cycles by outcome.",
	}, []string{"outcome"})

	TableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coinverse_table_coins",
		Help: "Number of coins in the visible table.",
	})

	StreamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coinverse_stream_clients",
		Help: "Connected streaming clients by stream.",
	}, []string{"stream"})

	ChatMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinverse_chat_messages_total",
		Help: "Chat messages accepted.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "coinverse_http_request_duration_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"route", "method"})
)
