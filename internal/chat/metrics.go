// internal/chat/metrics.go

package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_total",
			Help: "Push events applied, by event type",
		},
		[]string{"type"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_dropped_total",
			Help: "Push events dropped at the boundary, by reason",
		},
		[]string{"reason"},
	)

	duplicateMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_duplicate_messages_total",
			Help: "Redelivered messages ignored by the store",
		},
	)

	unknownReferences = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_unknown_references_total",
			Help: "Mutation events referencing messages not present locally",
		},
	)

	pendingReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_pending_mutations_replayed_total",
			Help: "Buffered out-of-order mutations replayed after their create arrived",
		},
	)

	pendingExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_pending_mutations_expired_total",
			Help: "Buffered out-of-order mutations dropped after the replay window",
		},
	)

	historyLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_history_loads_total",
			Help: "Bulk history loads applied, by merge mode",
		},
		[]string{"mode"},
	)

	openConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_open_conversations",
			Help: "Conversations currently held open by a view",
		},
	)
)

// RecordEventDropped counts a frame rejected before reconciliation.
// Reasons: "malformed", "unknown_type".
func RecordEventDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}
