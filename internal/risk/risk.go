// Package risk implements fraud-risk scoring for e-commerce orders.
//
// Every order is evaluated against a fixed, versioned table of 10 rules.
// Each rule yields a trigger, a confidence and an explanation; the score is
// 5 points per triggered penalty rule, capped at 40. Any score above zero
// sends the order to manual review.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/riskguard/riskguard/internal/address"
	"github.com/riskguard/riskguard/internal/geo"
	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/phone"
)

// Action is the recommended handling of an order.
type Action string

const (
	ActionShip         Action = "ship"
	ActionManualReview Action = "manual_review"
)

// Scoring constants for the 10-rule set.
const (
	RuleSetVersion = "v10"
	PenaltyWeight  = 5
	MaxScore       = 40
)

// Errors
var (
	// ErrEvaluationFailure is the only request-fatal error: the evaluator
	// could not run or returned a malformed result.
	ErrEvaluationFailure = errors.New("risk: evaluation failure")
	ErrNotFound          = errors.New("risk: assessment not found")
)

// RuleResult is one rule's outcome.
type RuleResult struct {
	RuleID      int     `json:"rule_id"`
	RuleName    string  `json:"rule_name"`
	Triggered   bool    `json:"triggered"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Assessment is the scoring response. It is a pure function of its input
// snapshot: no timestamps or generated IDs.
type Assessment struct {
	OrderID                 string       `json:"order_id"`
	RiskScore               int          `json:"risk_score"`
	RiskFlags               []RuleResult `json:"risk_flags"`
	RecommendedAction       Action       `json:"recommended_action"`
	VerificationSuggestions []string     `json:"verification_suggestions"`
	Summary                 string       `json:"summary"`
}

// Triggered returns the triggered flags in rule order.
func (a *Assessment) Triggered() []RuleResult {
	var out []RuleResult
	for _, f := range a.RiskFlags {
		if f.Triggered {
			out = append(out, f)
		}
	}
	return out
}

// Input is everything the evaluator consumes. It is assembled after all
// enrichment has finished.
type Input struct {
	Order   order.Context
	History order.HistoricalContext
	Phone   phone.Phone
	City    geo.Result
	// CityJudgement is optional; when empty the rule set classifies the city
	// itself from City.
	CityJudgement geo.Judgement
	Postal        geo.Result
	Address       address.Verdict
}

// StoredAssessment is an assessment as persisted for audit.
type StoredAssessment struct {
	ID          string      `json:"id"`
	Assessment  *Assessment `json:"assessment"`
	EvaluatedAt time.Time   `json:"evaluatedAt"`
}

// Store persists assessments for audit and later lookup.
type Store interface {
	Record(ctx context.Context, stored *StoredAssessment) error
	// Latest returns the most recent assessment for an order, or ErrNotFound.
	Latest(ctx context.Context, orderID string) (*StoredAssessment, error)
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*StoredAssessment, error)
	// LatestByOrders returns the most recent assessment of each listed order
	// that has one, keyed by order ID.
	LatestByOrders(ctx context.Context, orderIDs []string) (map[string]*StoredAssessment, error)
	// DeleteOrder removes every assessment of an order and reports how many
	// were removed.
	DeleteOrder(ctx context.Context, orderID string) (int, error)
}
