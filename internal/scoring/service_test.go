package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskguard/riskguard/internal/address"
	"github.com/riskguard/riskguard/internal/geo"
	"github.com/riskguard/riskguard/internal/history"
	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/phone"
	"github.com/riskguard/riskguard/internal/risk"
)

// fakeGeo answers every lookup with fixed results.
type fakeGeo struct {
	city   geo.Result
	postal geo.Result
	calls  atomic.Int32
}

func verifiedGeo() *fakeGeo {
	return &fakeGeo{
		city: geo.Result{Check: geo.CheckCity, Status: geo.StatusVerified, Source: geo.SourcePrimary, Provider: "fake"},
		postal: geo.Result{Check: geo.CheckPostal, Status: geo.StatusVerified, Source: geo.SourcePrimary, Provider: "fake",
			Match: &geo.PostalMatch{City: "Lahore", State: "Punjab", CountryCode: "PK"}},
	}
}

func (f *fakeGeo) VerifyCity(context.Context, string, string) geo.Result {
	f.calls.Add(1)
	return f.city
}

func (f *fakeGeo) VerifyPostal(context.Context, string, string) geo.Result {
	f.calls.Add(1)
	return f.postal
}

type countingProvider struct {
	calls atomic.Int32
	err   error
	h     order.HistoricalContext
}

func (p *countingProvider) Lookup(context.Context, order.Context) (order.HistoricalContext, error) {
	p.calls.Add(1)
	return p.h, p.err
}

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) Evaluate(context.Context, risk.Input) ([]risk.RuleResult, error) {
	return nil, errors.New("model unreachable")
}

type testEnv struct {
	svc         *Service
	geo         *fakeGeo
	history     *history.MemoryStore
	assessments *risk.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		geo:         verifiedGeo(),
		history:     history.NewMemoryStore(),
		assessments: risk.NewMemoryStore(),
	}
	env.svc = NewService(Deps{
		Phones:      phone.NewTableNormalizer(),
		Geo:         env.geo,
		Addresses:   address.NewHeuristicChecker(),
		Evaluator:   risk.NewEvaluator(risk.DefaultRuleSet(), nil),
		History:     env.history,
		Recorder:    env.history,
		Assessments: env.assessments,
		Orders:      env.history,
	})
	return env
}

func lahoreOrder(orderID, email string) order.Context {
	return order.FromPayload(order.Payload{
		UserProfile:  map[string]any{"full_name": "Ali Khan", "email": email, "phone": "03012345678", "country": "Pakistan", "user_id": "42"},
		OrderDetails: map[string]any{"order_id": orderID, "total_amount": 2500.0},
		Address:      map[string]any{"street": "House 11, Street 5, Gulberg III", "city": "Lahore", "state": "Punjab", "postal_code": "54660"},
		IPInfo:       map[string]any{"ip_country": "PK"},
		History:      map[string]any{},
	})
}

func TestAnalyze_CleanOrderShips(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.svc.Analyze(ctx, lahoreOrder("ORD-1", "ali@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", a.OrderID)
	assert.Equal(t, 0, a.RiskScore, a.Summary)
	assert.Equal(t, risk.ActionShip, a.RecommendedAction)
	assert.Len(t, a.RiskFlags, 10)
	assert.Equal(t, int32(2), env.geo.calls.Load())

	stored, err := env.assessments.Latest(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, a.RiskScore, stored.Assessment.RiskScore)
	assert.NotEmpty(t, stored.ID)

	page, err := env.history.CustomerOrders(ctx, "ali@example.com", 10, "")
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalOrders)
	assert.Equal(t, "ORD-1", page.Orders[0].OrderID)
	assert.Equal(t, "ship", page.Orders[0].RecommendedAction)
	assert.Equal(t, 2500.0, page.TotalSpent)
}

func TestAnalyze_RecordedHistoryFeedsVelocity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Analyze(ctx, lahoreOrder("ORD-1", "ali@example.com"))
	require.NoError(t, err)

	a, err := env.svc.Analyze(ctx, lahoreOrder("ORD-2", "ali@example.com"))
	require.NoError(t, err)
	assert.True(t, a.RiskFlags[risk.RuleHurryBooking-1].Triggered, a.RiskFlags[risk.RuleHurryBooking-1].Explanation)
	assert.Equal(t, 5, a.RiskScore)
	assert.Equal(t, risk.ActionManualReview, a.RecommendedAction)
}

func TestAnalyze_CallerHistoryWins(t *testing.T) {
	env := newTestEnv(t)
	provider := &countingProvider{}
	env.svc.history = provider

	oc := lahoreOrder("ORD-1", "ali@example.com").WithHistory(order.HistoricalContext{
		DuplicateEmailMatches: []order.IdentityMatch{{Name: "Jane Doe", Email: "x@y.com", Phone: "+10000000000"}},
	})
	a, err := env.svc.Analyze(context.Background(), oc)
	require.NoError(t, err)

	assert.Zero(t, provider.calls.Load())
	f := a.RiskFlags[risk.RuleDuplicateEmail-1]
	assert.True(t, f.Triggered)
	assert.Contains(t, f.Explanation, "Jane Doe")
	assert.Equal(t, 5, a.RiskScore)
}

func TestAnalyze_HistoryFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	provider := &countingProvider{err: errors.New("db down")}
	env.svc.history = provider

	a, err := env.svc.Analyze(context.Background(), lahoreOrder("ORD-1", "ali@example.com"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.Equal(t, 0, a.RiskScore)
}

func TestAnalyze_ProviderErrorsAreNotPunitive(t *testing.T) {
	env := newTestEnv(t)
	env.geo.city = geo.Result{Check: geo.CheckCity, Status: geo.StatusError, Detail: "timeout"}
	env.geo.postal = geo.Result{Check: geo.CheckPostal, Status: geo.StatusError, Detail: "timeout"}

	a, err := env.svc.Analyze(context.Background(), lahoreOrder("ORD-1", "ali@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 0, a.RiskScore)
	assert.Equal(t, risk.ActionShip, a.RecommendedAction)
}

func TestAnalyze_EvaluationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.svc.evaluator = risk.NewEvaluator(nil, failingBackend{})

	a, err := env.svc.Analyze(context.Background(), lahoreOrder("ORD-1", "ali@example.com"))
	assert.Nil(t, a)
	assert.ErrorIs(t, err, risk.ErrEvaluationFailure)

	_, err = env.assessments.Latest(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, risk.ErrNotFound, "failed evaluations are not stored")

	page, err := env.history.ListOrders(context.Background(), 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Orders, "the pending record is discarded")
}

func TestAnalyze_Deterministic(t *testing.T) {
	env := newTestEnv(t)
	env.svc.recorder = nil
	oc := lahoreOrder("ORD-1", "ali@example.com")

	first, err := env.svc.Analyze(context.Background(), oc)
	require.NoError(t, err)
	second, err := env.svc.Analyze(context.Background(), oc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestService_ReadsWithoutStores(t *testing.T) {
	svc := NewService(Deps{Phones: phone.NewTableNormalizer(), Geo: verifiedGeo(), Addresses: address.NewHeuristicChecker()})

	_, err := svc.Latest(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, risk.ErrNotFound)
	_, err = svc.CustomerOrders(context.Background(), "ali@example.com", 10, "")
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
	_, err = svc.Orders(context.Background(), 10, "")
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
	assert.ErrorIs(t, svc.DeleteOrder(context.Background(), "ORD-1"), ErrHistoryUnavailable)
}

// seenProvider records the past-order counts each lookup returned.
type seenProvider struct {
	inner *history.MemoryStore
	mu    sync.Mutex
	seen  []int
}

func (p *seenProvider) Lookup(ctx context.Context, oc order.Context) (order.HistoricalContext, error) {
	h, err := p.inner.Lookup(ctx, oc)
	p.mu.Lock()
	p.seen = append(p.seen, h.SamePersonOrders.TotalPastOrders)
	p.mu.Unlock()
	return h, err
}

func TestAnalyze_ConcurrentOrdersFromOneCustomerSeeEachOther(t *testing.T) {
	env := newTestEnv(t)
	provider := &seenProvider{inner: env.history}
	env.svc.history = provider

	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Analyze(context.Background(), lahoreOrder(fmt.Sprintf("ORD-%d", i), "Ali@Example.com"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sort.Ints(provider.seen)
	assert.Equal(t, []int{0, 1, 2, 3}, provider.seen)
}

// stallingGeo blocks the first city lookup until released.
type stallingGeo struct {
	*fakeGeo
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *stallingGeo) VerifyCity(ctx context.Context, city, country string) geo.Result {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeGeo.VerifyCity(ctx, city, country)
}

func TestAnalyze_SlowLookupDoesNotStallSameCustomer(t *testing.T) {
	env := newTestEnv(t)
	slow := &stallingGeo{fakeGeo: env.geo, entered: make(chan struct{}), release: make(chan struct{})}
	env.svc.geo = slow
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := env.svc.Analyze(ctx, lahoreOrder("ORD-1", "ali@example.com"))
		firstDone <- err
	}()
	<-slow.entered

	secondDone := make(chan *risk.Assessment, 1)
	go func() {
		a, err := env.svc.Analyze(ctx, lahoreOrder("ORD-2", "ali@example.com"))
		assert.NoError(t, err)
		secondDone <- a
	}()

	select {
	case a := <-secondDone:
		require.NotNil(t, a)
		f := a.RiskFlags[risk.RuleHurryBooking-1]
		assert.True(t, f.Triggered, "the in-flight order counts: %s", f.Explanation)
	case <-time.After(2 * time.Second):
		close(slow.release)
		t.Fatal("second order waited for the first order's geo lookup")
	}

	close(slow.release)
	require.NoError(t, <-firstDone)

	page, err := env.history.CustomerOrders(ctx, "ali@example.com", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	for _, o := range page.Orders {
		assert.NotEqual(t, history.ActionPending, o.RecommendedAction, o.OrderID)
	}
}

func TestAnalyze_CancelledWhileWaitingForCustomerLock(t *testing.T) {
	env := newTestEnv(t)
	unlock, err := env.svc.customerLocks.Lock(context.Background(), "ali@example.com")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Scoring still answers; it just runs without the lock.
	a, err := env.svc.Analyze(ctx, lahoreOrder("ORD-1", "ali@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", a.OrderID)
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (n *recordingNotifier) NotifyReview(_ context.Context, a *risk.Assessment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, a.OrderID)
}

func TestAnalyze_NotifiesOnlyManualReview(t *testing.T) {
	env := newTestEnv(t)
	n := &recordingNotifier{}
	env.svc.notifier = n
	ctx := context.Background()

	a, err := env.svc.Analyze(ctx, lahoreOrder("ORD-1", "ali@example.com"))
	require.NoError(t, err)
	require.Equal(t, risk.ActionShip, a.RecommendedAction)

	// the second order in a row trips the velocity rule
	a, err = env.svc.Analyze(ctx, lahoreOrder("ORD-2", "ali@example.com"))
	require.NoError(t, err)
	require.Equal(t, risk.ActionManualReview, a.RecommendedAction)

	assert.Equal(t, []string{"ORD-2"}, n.orders)
}
