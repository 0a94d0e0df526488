// Package scoring runs the fraud-risk pipeline for one order: resolve
// history, enrich the order concurrently, check the address, evaluate the
// rule table, then remember the result.
package scoring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riskguard/riskguard/internal/address"
	"github.com/riskguard/riskguard/internal/geo"
	"github.com/riskguard/riskguard/internal/history"
	"github.com/riskguard/riskguard/internal/idgen"
	"github.com/riskguard/riskguard/internal/logging"
	"github.com/riskguard/riskguard/internal/metrics"
	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/phone"
	"github.com/riskguard/riskguard/internal/risk"
	"github.com/riskguard/riskguard/internal/syncutil"
	"github.com/riskguard/riskguard/internal/traces"
	"github.com/riskguard/riskguard/internal/validation"
)

// GeoVerifier checks claimed cities and postal codes. *geo.Verifier
// satisfies it.
type GeoVerifier interface {
	VerifyCity(ctx context.Context, city, country string) geo.Result
	VerifyPostal(ctx context.Context, code, country string) geo.Result
}

var (
	// ErrHistoryUnavailable is returned by read APIs when no history store
	// is configured.
	ErrHistoryUnavailable = errors.New("scoring: order history is not configured")
	// ErrOrderNotFound means neither store knew the order.
	ErrOrderNotFound = errors.New("scoring: order not found")
)

// OrderBook lists and deletes recorded orders. history.Store
// implementations satisfy it.
type OrderBook interface {
	CustomerOrders(ctx context.Context, email string, limit int, cursor string) (*history.CustomerHistory, error)
	ListOrders(ctx context.Context, limit int, cursor string) (*history.OrderPage, error)
	DeleteOrder(ctx context.Context, orderID string) (int, error)
}

// ReviewNotifier is told about every assessment that needs a human.
// Implementations must not block.
type ReviewNotifier interface {
	NotifyReview(ctx context.Context, a *risk.Assessment)
}

// Deps are the collaborators of a Service. Only Phones, Geo, Addresses and
// Evaluator are required.
type Deps struct {
	Phones     phone.Normalizer
	Geo        GeoVerifier
	Classifier *geo.Classifier
	Addresses  address.Checker
	Evaluator  *risk.Evaluator

	// History resolves historical context when the caller sent none.
	History history.Provider
	// Recorder remembers admitted orders for later history lookups.
	Recorder history.Recorder
	// Assessments keeps every assessment for audit.
	Assessments risk.Store
	// Orders lists and deletes recorded orders.
	Orders OrderBook
	// Notifier hears about manual_review outcomes.
	Notifier ReviewNotifier

	Logger *slog.Logger
}

// Service scores orders.
type Service struct {
	phones      phone.Normalizer
	geo         GeoVerifier
	classifier  *geo.Classifier
	addresses   address.Checker
	evaluator   *risk.Evaluator
	history     history.Provider
	recorder    history.Recorder
	assessments risk.Store
	orders      OrderBook
	notifier    ReviewNotifier
	logger      *slog.Logger
	now         func() time.Time

	// customerLocks serializes history lookup plus the pending record per
	// customer email so concurrent orders from one customer count each
	// other. It is never held across enrichment.
	customerLocks *syncutil.KeyedMutex
}

// NewService creates a scoring service.
func NewService(d Deps) *Service {
	s := &Service{
		phones:      d.Phones,
		geo:         d.Geo,
		classifier:  d.Classifier,
		addresses:   d.Addresses,
		evaluator:   d.Evaluator,
		history:     d.History,
		recorder:    d.Recorder,
		assessments: d.Assessments,
		orders:      d.Orders,
		notifier:    d.Notifier,
		logger:      d.Logger,
		now:         time.Now,

		customerLocks: syncutil.NewKeyedMutex(syncutil.DefaultShards),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.classifier == nil {
		s.classifier = geo.DefaultClassifier(geo.NewGazetteer())
	}
	if s.evaluator == nil {
		s.evaluator = risk.NewEvaluator(nil, nil)
	}
	return s
}

// enrichment is what the concurrent stage produces.
type enrichment struct {
	phone    phone.Phone
	city     geo.Result
	judgment geo.Judgement
	postal   geo.Result
}

// Analyze scores oc. The only error it returns is risk.ErrEvaluationFailure
// (wrapped); every enrichment failure is absorbed into a typed result.
func (s *Service) Analyze(ctx context.Context, oc order.Context) (*risk.Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.Analyze",
		traces.OrderID(oc.OrderID), traces.Country(oc.Customer.Country))
	defer span.End()
	ctx = logging.WithOrderID(ctx, oc.OrderID)
	log := logging.L(ctx)

	hist, pending := s.admit(ctx, oc)
	oc = oc.WithHistory(hist)

	e := s.enrich(ctx, oc)
	span.SetAttributes(
		traces.CheckStatus("city", string(e.city.Status)),
		traces.CheckStatus("postal", string(e.postal.Status)),
	)

	verdict := s.checkAddress(ctx, oc)
	span.SetAttributes(traces.CheckStatus("address", string(verdict.Status)))

	evalCtx, evalSpan := traces.StartSpan(ctx, "scoring.evaluate", traces.Backend(s.evaluator.Backend()))
	start := time.Now()
	assessment, err := s.evaluator.Evaluate(evalCtx, risk.Input{
		Order:         oc,
		History:       hist,
		Phone:         e.phone,
		City:          e.city,
		CityJudgement: e.judgment,
		Postal:        e.postal,
		Address:       verdict,
	})
	metrics.ObserveStage("evaluate", start)
	traces.RecordError(evalSpan, err)
	evalSpan.End()
	if err != nil {
		metrics.AnalyzeTotal.WithLabelValues("failed").Inc()
		traces.RecordError(span, err)
		log.Error("evaluation failed", "backend", s.evaluator.Backend(), "error", err)
		s.discard(ctx, pending)
		return nil, err
	}

	span.SetAttributes(traces.RiskScore(assessment.RiskScore), traces.Action(string(assessment.RecommendedAction)))
	metrics.AnalyzeTotal.WithLabelValues(string(assessment.RecommendedAction)).Inc()
	log.Info("order scored",
		"risk_score", assessment.RiskScore,
		"action", assessment.RecommendedAction,
		"triggered", len(assessment.Triggered()),
		"phone_ok", e.phone.OK,
		"city", e.city.Status,
		"postal", e.postal.Status,
		"address", verdict.Status,
	)

	s.remember(ctx, assessment, pending)
	return assessment, nil
}

// admit resolves the order's history and records the order as pending. The
// customer lock covers only these two store calls.
func (s *Service) admit(ctx context.Context, oc order.Context) (order.HistoricalContext, *history.OrderRecord) {
	if unlock := s.lockCustomer(ctx, oc); unlock != nil {
		defer unlock()
	}
	hist := s.resolveHistory(ctx, oc)
	return hist, s.reserve(ctx, oc)
}

// reserve records oc as pending so that the customer's next order counts it
// while this one is still being scored. It returns nil when nothing was
// recorded.
func (s *Service) reserve(ctx context.Context, oc order.Context) *history.OrderRecord {
	if s.recorder == nil {
		return nil
	}
	rec := history.NewRecord(idgen.WithPrefix("oh_"), oc, s.now())
	if rec.Email == "" {
		return nil
	}
	rec.RecommendedAction = history.ActionPending
	if err := s.recorder.Record(ctx, rec); err != nil {
		metrics.BestEffortFailures.WithLabelValues("history_record").Inc()
		logging.L(ctx).Warn("failed to record order history", "error", err)
		return nil
	}
	return rec
}

// discard drops the pending record of an order whose scoring failed.
func (s *Service) discard(ctx context.Context, pending *history.OrderRecord) {
	if pending == nil {
		return
	}
	if err := s.recorder.Discard(ctx, pending.ID); err != nil {
		metrics.BestEffortFailures.WithLabelValues("history_discard").Inc()
		logging.L(ctx).Warn("failed to discard pending order", "error", err)
	}
}

// lockCustomer takes the customer's lock when history comes from the store
// and the order will be recorded back into it. It returns nil when no lock
// is needed or ctx ended while waiting.
func (s *Service) lockCustomer(ctx context.Context, oc order.Context) func() {
	if oc.History != nil || s.history == nil || s.recorder == nil {
		return nil
	}
	email := validation.SanitizeEmail(oc.Customer.Email)
	if email == "" {
		return nil
	}
	unlock, err := s.customerLocks.Lock(ctx, email)
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("customer_lock").Inc()
		logging.L(ctx).Warn("gave up waiting for customer lock", "error", err)
		return nil
	}
	return unlock
}

// resolveHistory prefers the caller's historical context, then the
// configured provider, then an empty history.
func (s *Service) resolveHistory(ctx context.Context, oc order.Context) order.HistoricalContext {
	if oc.History != nil || s.history == nil {
		return oc.HistoryOrEmpty()
	}
	ctx, span := traces.StartSpan(ctx, "scoring.history")
	defer span.End()
	defer metrics.ObserveStage("history", time.Now())

	h, err := s.history.Lookup(ctx, oc)
	if err != nil {
		traces.RecordError(span, err)
		metrics.BestEffortFailures.WithLabelValues("history_lookup").Inc()
		logging.L(ctx).Warn("history lookup failed, scoring without history", "error", err)
		return oc.HistoryOrEmpty()
	}
	return h.Normalized()
}

// enrich normalizes the phone and verifies city and postal code
// concurrently. None of these steps fail, so the group only joins them.
func (s *Service) enrich(ctx context.Context, oc order.Context) enrichment {
	ctx, span := traces.StartSpan(ctx, "scoring.enrich")
	defer span.End()
	defer metrics.ObserveStage("enrich", time.Now())

	var e enrichment
	claimed := oc.Customer.Country
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.phone = s.phones.Normalize(gctx, oc.Customer.Phone, claimed)
		metrics.EnrichmentResults.WithLabelValues("phone", phoneStatus(e.phone)).Inc()
		return nil
	})
	g.Go(func() error {
		e.city = s.geo.VerifyCity(gctx, oc.Address.City, claimed)
		e.judgment = s.classifier.Classify(gctx, geo.CityClaim{
			City:    oc.Address.City,
			Country: claimed,
			Lookup:  e.city,
		})
		return nil
	})
	g.Go(func() error {
		e.postal = s.geo.VerifyPostal(gctx, oc.Address.PostalCode, claimed)
		return nil
	})
	_ = g.Wait()
	return e
}

func (s *Service) checkAddress(ctx context.Context, oc order.Context) address.Verdict {
	ctx, span := traces.StartSpan(ctx, "scoring.address")
	defer span.End()
	defer metrics.ObserveStage("address", time.Now())

	full := address.Parts{
		Street:     oc.Address.Street,
		City:       oc.Address.City,
		State:      oc.Address.State,
		PostalCode: oc.Address.PostalCode,
		Country:    oc.Address.Country,
	}.Join()
	v := s.addresses.Check(ctx, full)
	metrics.EnrichmentResults.WithLabelValues("address", string(v.Status)).Inc()
	return v
}

// remember persists the assessment and completes the pending history
// record. Both are best effort: a failure is logged and the response is
// unaffected.
func (s *Service) remember(ctx context.Context, a *risk.Assessment, pending *history.OrderRecord) {
	ctx, span := traces.StartSpan(ctx, "scoring.persist")
	defer span.End()
	defer metrics.ObserveStage("persist", time.Now())
	now := s.now()

	if s.assessments != nil {
		stored := &risk.StoredAssessment{ID: idgen.WithPrefix("ra_"), Assessment: a, EvaluatedAt: now}
		if err := s.assessments.Record(ctx, stored); err != nil {
			traces.RecordError(span, err)
			metrics.BestEffortFailures.WithLabelValues("assessment_store").Inc()
			logging.L(ctx).Warn("failed to store assessment", "error", err)
		}
	}

	if pending != nil {
		if err := s.recorder.Complete(ctx, pending.ID, a.RiskScore, string(a.RecommendedAction)); err != nil {
			traces.RecordError(span, err)
			metrics.BestEffortFailures.WithLabelValues("history_complete").Inc()
			logging.L(ctx).Warn("failed to complete order history", "error", err)
		}
	}

	if s.notifier != nil && a.RecommendedAction == risk.ActionManualReview {
		s.notifier.NotifyReview(ctx, a)
	}
}

// Latest returns the most recent stored assessment for an order.
func (s *Service) Latest(ctx context.Context, orderID string) (*risk.StoredAssessment, error) {
	if s.assessments == nil {
		return nil, risk.ErrNotFound
	}
	return s.assessments.Latest(ctx, orderID)
}

// CustomerOrders returns one page of a customer's orders.
func (s *Service) CustomerOrders(ctx context.Context, email string, limit int, cursor string) (*history.CustomerHistory, error) {
	if s.orders == nil {
		return nil, ErrHistoryUnavailable
	}
	return s.orders.CustomerOrders(ctx, email, limit, cursor)
}

// OrderSummary is a recorded order with its latest assessment, when one was
// stored.
type OrderSummary struct {
	Order      *history.OrderRecord   `json:"order"`
	Assessment *risk.StoredAssessment `json:"assessment,omitempty"`
}

// OrderListing is one page of every recorded order, newest first.
type OrderListing struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

// Orders returns one page of recorded orders joined with their latest
// assessments.
func (s *Service) Orders(ctx context.Context, limit int, cursor string) (*OrderListing, error) {
	if s.orders == nil {
		return nil, ErrHistoryUnavailable
	}
	page, err := s.orders.ListOrders(ctx, limit, cursor)
	if err != nil {
		return nil, err
	}

	latest := map[string]*risk.StoredAssessment{}
	if s.assessments != nil && len(page.Orders) > 0 {
		ids := make([]string, 0, len(page.Orders))
		for _, o := range page.Orders {
			ids = append(ids, o.OrderID)
		}
		if latest, err = s.assessments.LatestByOrders(ctx, ids); err != nil {
			return nil, err
		}
	}

	out := &OrderListing{
		Orders:     make([]OrderSummary, 0, len(page.Orders)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, o := range page.Orders {
		out.Orders = append(out.Orders, OrderSummary{Order: o, Assessment: latest[o.OrderID]})
	}
	return out, nil
}

// DeleteOrder removes an order from history and its assessments from the
// audit store. It returns ErrOrderNotFound when neither held it.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	if s.orders == nil && s.assessments == nil {
		return ErrHistoryUnavailable
	}
	removed := 0
	if s.orders != nil {
		n, err := s.orders.DeleteOrder(ctx, orderID)
		if err != nil {
			return err
		}
		removed += n
	}
	if s.assessments != nil {
		n, err := s.assessments.DeleteOrder(ctx, orderID)
		if err != nil {
			return err
		}
		removed += n
	}
	if removed == 0 {
		return ErrOrderNotFound
	}
	logging.L(ctx).Info("order deleted", "order_id", orderID, "records", removed)
	return nil
}

func phoneStatus(p phone.Phone) string {
	if p.OK {
		return "ok"
	}
	return "unparseable"
}
