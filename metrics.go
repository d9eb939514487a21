package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollTicksTotal counts poll ticks by outcome: ok, error or skipped.
	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_poll_ticks_total",
			Help: "Poll ticks by poller and result",
		},
		[]string{"poller", "result"},
	)

	// PollDuration tracks how long a poll fetch takes.
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_poll_duration_seconds",
			Help:    "Poll fetch duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"poller"},
	)

	// MessagesMergedTotal counts messages newly merged into a store by poll or initial load.
	MessagesMergedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_merged_total",
			Help: "Messages merged into the local store",
		},
		[]string{"role"},
	)

	// SendsTotal counts optimistic sends by outcome.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Optimistic sends by role and result",
		},
		[]string{"role", "result"},
	)

	// UnreadMessages is the unread count of the open conversation.
	UnreadMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_unread_messages",
			Help: "Unread counterpart messages in the open conversation",
		},
		[]string{"role"},
	)
)

// RecordPoll records metrics for one poll tick.
func RecordPoll(poller, result string, seconds float64) {
	PollTicksTotal.WithLabelValues(poller, result).Inc()
	if result != "skipped" {
		PollDuration.WithLabelValues(poller).Observe(seconds)
	}
}
