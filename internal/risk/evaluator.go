package risk

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Backend produces per-rule results for an input. Any implementation
// (rule engine, hosted model, hybrid) is acceptable as long as it returns
// every rule of the table exactly once.
type Backend interface {
	Name() string
	Evaluate(ctx context.Context, in Input) ([]RuleResult, error)
}

// Evaluator runs a Backend and aggregates its results. The score is always
// recomputed from the triggered flags and the rule weights, whatever the
// backend reports.
type Evaluator struct {
	rules   *RuleSet
	backend Backend
}

// NewEvaluator creates an Evaluator. A nil backend uses the RuleEngine over
// rs.
func NewEvaluator(rs *RuleSet, backend Backend) *Evaluator {
	if rs == nil {
		rs = DefaultRuleSet()
	}
	if backend == nil {
		backend = NewRuleEngine(rs)
	}
	return &Evaluator{rules: rs, backend: backend}
}

// Backend returns the configured backend's name.
func (e *Evaluator) Backend() string { return e.backend.Name() }

// Evaluate scores in. Backend errors and malformed results are wrapped in
// ErrEvaluationFailure. Evaluation is never retried.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*Assessment, error) {
	start := time.Now()
	results, err := e.backend.Evaluate(ctx, in)
	evaluationDuration.WithLabelValues(e.backend.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		evaluationFailures.WithLabelValues(e.backend.Name(), "backend").Inc()
		return nil, fmt.Errorf("%w: backend %s: %v", ErrEvaluationFailure, e.backend.Name(), err)
	}

	flags, err := e.normalize(results)
	if err != nil {
		evaluationFailures.WithLabelValues(e.backend.Name(), "coverage").Inc()
		return nil, fmt.Errorf("%w: backend %s: %v", ErrEvaluationFailure, e.backend.Name(), err)
	}

	score := e.score(flags)
	a := &Assessment{
		OrderID:           in.Order.OrderID,
		RiskScore:         score,
		RiskFlags:         flags,
		RecommendedAction: ActionFor(score),
	}
	a.Summary = Summarize(a, e.rules.Penalizes)
	a.VerificationSuggestions = Suggest(a, e.rules.Penalizes)

	assessmentsTotal.WithLabelValues(string(a.RecommendedAction)).Inc()
	for _, f := range flags {
		if f.Triggered {
			ruleTriggers.WithLabelValues(fmt.Sprintf("%d", f.RuleID)).Inc()
		}
	}
	return a, nil
}

// normalize checks that results cover the rule table exactly once and
// returns them in rule order with canonical names and bounded confidences.
func (e *Evaluator) normalize(results []RuleResult) ([]RuleResult, error) {
	byID := make(map[int]RuleResult, len(results))
	for _, r := range results {
		if _, ok := e.rules.Rule(r.RuleID); !ok {
			return nil, fmt.Errorf("unknown rule id %d", r.RuleID)
		}
		if _, dup := byID[r.RuleID]; dup {
			return nil, fmt.Errorf("rule %d reported more than once", r.RuleID)
		}
		byID[r.RuleID] = r
	}

	flags := make([]RuleResult, 0, len(e.rules.rules))
	for _, rule := range e.rules.rules {
		r, ok := byID[rule.ID]
		if !ok {
			return nil, fmt.Errorf("rule %d missing from results", rule.ID)
		}
		r.RuleName = rule.Name
		r.Confidence = clamp01(r.Confidence)
		flags = append(flags, r)
	}
	return flags, nil
}

func (e *Evaluator) score(flags []RuleResult) int {
	total := 0
	for _, f := range flags {
		if !f.Triggered {
			continue
		}
		rule, _ := e.rules.Rule(f.RuleID)
		total += rule.Weight
	}
	if total > MaxScore {
		total = MaxScore
	}
	return total
}

// ActionFor maps a score to the recommended action: ship only at zero.
func ActionFor(score int) Action {
	if score == 0 {
		return ActionShip
	}
	return ActionManualReview
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return math.Round(v*100) / 100
}
