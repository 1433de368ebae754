package metrics

import "github.com/prometheus/client_golang/prometheus"

// KPIRecorder is the fire-and-forget counter surface the settlement
// components depend on.
type KPIRecorder interface {
	BidPlaced(outcome string)
	OrderCreated()
	AuctionClosed(result string)
	OrderTransition(action, result string)
	WebhookEvent(eventType, status string)
}

// Discard records nothing.
var Discard KPIRecorder = (*SettlementMetrics)(nil)

// SettlementMetrics is the KPI recorder for the settlement engine. Every
// method is safe on a nil receiver so callers can run without metrics.
type SettlementMetrics struct {
	bids        *prometheus.CounterVec
	orders      prometheus.Counter
	finalized   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement counters on reg.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bids_total",
			Help:      "Bid placements by outcome (accepted or rejection reason).",
		}, []string{"outcome"}),
		orders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "orders_created_total",
			Help:      "Orders created by the auction finalizer.",
		}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "auctions_closed_total",
			Help:      "Auctions closed by the finalizer by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "order_transitions_total",
			Help:      "Order state transitions by action and result.",
		}, []string{"action", "result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "webhook_events_total",
			Help:      "Payment provider webhook deliveries by event type and status.",
		}, []string{"type", "status"}),
	}
	reg.MustRegister(m.bids, m.orders, m.finalized, m.transitions, m.webhooks)
	return m
}

// BidPlaced counts a bid attempt; outcome is "accepted" or the rejection reason.
func (m *SettlementMetrics) BidPlaced(outcome string) {
	if m == nil || m.bids == nil {
		return
	}
	m.bids.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

// OrderCreated counts a freshly inserted order.
func (m *SettlementMetrics) OrderCreated() {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.Inc()
}

// AuctionClosed counts a finalizer decision (finalized, no_sale, skipped).
func (m *SettlementMetrics) AuctionClosed(result string) {
	if m == nil || m.finalized == nil {
		return
	}
	m.finalized.WithLabelValues(labelOrUnknown(result)).Inc()
}

// OrderTransition counts an order transition attempt.
func (m *SettlementMetrics) OrderTransition(action, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(labelOrUnknown(action), labelOrUnknown(result)).Inc()
}

// WebhookEvent counts a webhook delivery outcome.
func (m *SettlementMetrics) WebhookEvent(eventType, status string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(labelOrUnknown(eventType), labelOrUnknown(status)).Inc()
}
