package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskguard/riskguard/internal/address"
	"github.com/riskguard/riskguard/internal/geo"
)

// stubBackend returns canned results.
type stubBackend struct {
	results []RuleResult
	err     error
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Evaluate(context.Context, Input) ([]RuleResult, error) {
	return s.results, s.err
}

func fullCoverage(triggered ...int) []RuleResult {
	on := map[int]bool{}
	for _, id := range triggered {
		on[id] = true
	}
	out := make([]RuleResult, 0, 10)
	// Reverse order to check the evaluator sorts.
	for id := 10; id >= 1; id-- {
		out = append(out, RuleResult{RuleID: id, RuleName: "backend name", Triggered: on[id], Confidence: 0.9})
	}
	return out
}

func TestEvaluator_CleanOrderShips(t *testing.T) {
	a := evaluate(t, cleanInput())

	assert.Equal(t, "ORD-1001", a.OrderID)
	assert.Equal(t, 0, a.RiskScore)
	assert.Equal(t, ActionShip, a.RecommendedAction)
	assert.Equal(t, []string{NoVerificationNeeded}, a.VerificationSuggestions)
	assert.Contains(t, a.Summary, "no risk rules triggered")
	require.Len(t, a.RiskFlags, 10)
	for i, f := range a.RiskFlags {
		assert.Equal(t, i+1, f.RuleID)
		assert.False(t, f.Triggered, "rule %d: %s", f.RuleID, f.Explanation)
		assert.NotEmpty(t, f.Explanation)
	}
}

func TestEvaluator_ScoreIsFivePerPenaltyRule(t *testing.T) {
	rs := DefaultRuleSet()
	penalties := []int{RuleHurryBooking, RuleSharedAddress, RulePostalCode, RuleDuplicateEmail,
		RuleDuplicatePhone, RuleCityMismatch, RulePhoneStructure, RuleAddressDetails}

	for n := 0; n <= len(penalties); n++ {
		e := NewEvaluator(rs, &stubBackend{results: fullCoverage(penalties[:n]...)})
		a, err := e.Evaluate(context.Background(), Input{})
		require.NoError(t, err)
		assert.Equal(t, 5*n, a.RiskScore)
		assert.LessOrEqual(t, a.RiskScore, MaxScore)
		if n == 0 {
			assert.Equal(t, ActionShip, a.RecommendedAction)
		} else {
			assert.Equal(t, ActionManualReview, a.RecommendedAction)
			assert.Len(t, a.VerificationSuggestions, n)
		}
	}
}

func TestEvaluator_InformationalRulesAddNoPoints(t *testing.T) {
	e := NewEvaluator(nil, &stubBackend{results: fullCoverage(RuleSpecificIdentity, RuleCityVerification)})
	a, err := e.Evaluate(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, 0, a.RiskScore)
	assert.Equal(t, ActionShip, a.RecommendedAction)
	assert.Contains(t, a.Summary, "with no risk rules triggered")
	assert.Contains(t, a.Summary, "Informational: Specific Email and Phone, Delivery City Verification.")
	assert.Equal(t, NoVerificationNeeded, a.VerificationSuggestions[0])
}

func TestEvaluator_NormalizesBackendResults(t *testing.T) {
	results := fullCoverage(RuleDuplicatePhone)
	results[0].Confidence = 1.7
	results[1].Confidence = -2

	a, err := NewEvaluator(nil, &stubBackend{results: results}).Evaluate(context.Background(), Input{})
	require.NoError(t, err)

	assert.Equal(t, "Specific Email and Phone", a.RiskFlags[0].RuleName)
	assert.Equal(t, 0.0, a.RiskFlags[8].Confidence)
	assert.Equal(t, 1.0, a.RiskFlags[9].Confidence)
	assert.Equal(t, 5, a.RiskScore)
}

func TestEvaluator_MalformedBackendIsFatal(t *testing.T) {
	partial := fullCoverage()[:9]
	duplicated := append(fullCoverage(), RuleResult{RuleID: 3})
	unknown := append(fullCoverage()[:9], RuleResult{RuleID: 42})

	tests := []struct {
		name    string
		backend *stubBackend
	}{
		{"backend error", &stubBackend{err: errors.New("model unreachable")}},
		{"missing rule", &stubBackend{results: partial}},
		{"duplicated rule", &stubBackend{results: duplicated}},
		{"unknown rule", &stubBackend{results: unknown}},
		{"no results", &stubBackend{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewEvaluator(nil, tt.backend).Evaluate(context.Background(), Input{})
			assert.Nil(t, a)
			assert.ErrorIs(t, err, ErrEvaluationFailure)
		})
	}
}

func TestEvaluator_ErrorStatesAreNotPunitive(t *testing.T) {
	base := evaluate(t, cleanInput())

	in := cleanInput()
	in.City = geo.Result{Check: geo.CheckCity, Status: geo.StatusError, Detail: "all providers failed"}
	in.Postal = geo.Result{Check: geo.CheckPostal, Status: geo.StatusError, Detail: "timeout"}
	in.Address = address.Verdict{Status: address.StatusError, Reason: "checker unavailable"}

	a := evaluate(t, in)
	assert.Equal(t, base.RiskScore, a.RiskScore)
	assert.Equal(t, ActionShip, a.RecommendedAction)
	assert.Equal(t, 0.6, flag(a, RulePostalCode).Confidence, "real city with a valid code format")

	in.Order.Address.PostalCode = "12"
	assert.Equal(t, 0.4, flag(evaluate(t, in), RulePostalCode).Confidence)
}

func TestEvaluator_Deterministic(t *testing.T) {
	in := cleanInput()
	in.History.SamePersonOrders.MinutesSinceLastOrder = intPtr(4)
	in.History.DuplicatePhoneMatches = nil
	in.History.AddressHistory.OtherNamesAtThisAddress = []string{"Sara Ahmed (sara@example.com)"}

	e := NewEvaluator(DefaultRuleSet(), nil)
	first, err := e.Evaluate(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Evaluate(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 10, first.RiskScore)
}

func TestEvaluator_Backend(t *testing.T) {
	assert.Equal(t, "rules", NewEvaluator(nil, nil).Backend())
	assert.Equal(t, "stub", NewEvaluator(nil, &stubBackend{}).Backend())
}

func TestActionFor(t *testing.T) {
	assert.Equal(t, ActionShip, ActionFor(0))
	assert.Equal(t, ActionManualReview, ActionFor(5))
	assert.Equal(t, ActionManualReview, ActionFor(40))
}
