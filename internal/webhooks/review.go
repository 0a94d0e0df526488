package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/riskguard/riskguard/internal/idgen"
	"github.com/riskguard/riskguard/internal/logging"
	"github.com/riskguard/riskguard/internal/risk"
)

var deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "riskguard",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Webhook deliveries by event type and outcome.",
}, []string{"event_type", "outcome"})

func init() {
	prometheus.MustRegister(deliveries)
}

// ReviewNotifier tells receivers about orders held for manual review.
// Shipped orders are not announced.
type ReviewNotifier struct {
	d   *Dispatcher
	now func() time.Time
}

// NewReviewNotifier creates a notifier on top of d.
func NewReviewNotifier(d *Dispatcher) *ReviewNotifier {
	return &ReviewNotifier{d: d, now: time.Now}
}

// NotifyReview emits EventManualReview for a. It never blocks on delivery.
func (n *ReviewNotifier) NotifyReview(ctx context.Context, a *risk.Assessment) {
	if n == nil || n.d == nil || a == nil || a.RecommendedAction != risk.ActionManualReview {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      EventManualReview,
		Timestamp: n.now().UTC(),
		Data:      a,
	}
	if err := n.d.Dispatch(event); err != nil {
		if errors.Is(err, ErrClosed) {
			deliveries.WithLabelValues(string(event.Type), "dropped").Inc()
		}
		logging.L(ctx).Warn("review webhook not sent", "error", err)
	}
}
