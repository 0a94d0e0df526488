package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/riskguard/riskguard/internal/address"
	"github.com/riskguard/riskguard/internal/geo"
	"github.com/riskguard/riskguard/internal/llm"
	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/phone"
)

// ErrModelReply is wrapped by ModelBackend when the model answered but the
// answer cannot be used.
var ErrModelReply = errors.New("risk: unusable model reply")

const evaluatorInstructions = `You are a delivery fraud evaluator. You are given a rule table and the enriched facts of one order.

Evaluate EVERY rule in the table exactly once. Use only the facts provided; never invent names, numbers or lookup results.
Lookup results marked VERIFIED, NOT_FOUND, VALID or INVALID are authoritative. A lookup ERROR or UNAVAILABLE is never by itself a reason to trigger a rule.
Rules of weight 0 are informational checks.

Respond ONLY with a JSON object:
{"risk_flags": [{"rule_id": <number>, "triggered": <boolean>, "confidence": <0-1 float>, "explanation": "<one or two sentences>"}]}`

// ruleGuidance tells the model when each rule fires.
var ruleGuidance = map[int]string{
	RuleSpecificIdentity: "Informational. Confirms the customer uses one email and one phone. Never triggered.",
	RuleCityVerification: "Informational. Trigger only when city_judgement says the city is fake or belongs to another country.",
	RuleHurryBooking:     "Trigger when the velocity expression is true for same_person_orders. A null minutes_since_last_order is a first order and never triggers.",
	RuleSharedAddress:    "Trigger when other_names_at_this_address is not empty. Name those customers.",
	RulePostalCode:       "Trigger when the postal lookup is VERIFIED for a different country than the customer's, or for an explicitly given state that clearly differs. A blank state is never a mismatch.",
	RuleDuplicateEmail:   "Trigger when duplicate_email_matches is not empty. Name the other people.",
	RuleDuplicatePhone:   "Trigger when duplicate_phone_matches is not empty. Name the other people.",
	RuleCityMismatch:     "Trigger when the street text clearly names a different city than the city field. Street names that merely contain a city name do not count.",
	RulePhoneStructure:   "Trigger when the phone check is not ok. Never compare the calling code with the customer's country.",
	RuleAddressDetails:   "Trigger only when the address verdict is INVALID. An ERROR verdict is not a failure.",
}

// modelFacts is the typed input as the model sees it.
type modelFacts struct {
	OrderID        string                  `json:"order_id"`
	Customer       order.Customer          `json:"customer"`
	Address        order.Address           `json:"address"`
	IP             order.IPInfo            `json:"ip_info"`
	History        order.HistoricalContext `json:"history"`
	Phone          phone.Phone             `json:"phone_check"`
	CityLookup     geo.Result              `json:"city_lookup"`
	CityJudgement  geo.Judgement           `json:"city_judgement"`
	PostalLookup   geo.Result              `json:"postal_lookup"`
	AddressVerdict address.Verdict         `json:"address_verdict"`
}

type modelFlag struct {
	RuleID      int     `json:"rule_id"`
	Triggered   *bool   `json:"triggered"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

type modelVerdict struct {
	RiskFlags []modelFlag `json:"risk_flags"`
}

// ModelBackend asks a chat-completion model to evaluate the rule table.
// Unlike the phone and address model strategies it has no fallback: a model
// that cannot be reached or answers badly fails the evaluation.
type ModelBackend struct {
	rules  *RuleSet
	client llm.Completer
	model  string
	logger *slog.Logger
}

// NewModelBackend creates a model-backed Backend over rs.
func NewModelBackend(rs *RuleSet, client llm.Completer, model string, logger *slog.Logger) *ModelBackend {
	if rs == nil {
		rs = DefaultRuleSet()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelBackend{rules: rs, client: client, model: model, logger: logger}
}

// Name implements Backend.
func (m *ModelBackend) Name() string { return "model" }

// Evaluate implements Backend.
func (m *ModelBackend) Evaluate(ctx context.Context, in Input) ([]RuleResult, error) {
	if in.CityJudgement.Verdict == "" {
		in.CityJudgement = m.rules.classifier.Classify(ctx, geo.CityClaim{
			City:    in.Order.Address.City,
			Country: in.Order.Customer.Country,
			Lookup:  in.City,
		})
	}
	prompt, err := m.render(in)
	if err != nil {
		return nil, err
	}

	raw, err := m.client.Complete(ctx, llm.Request{
		Model: m.model,
		Messages: []llm.Message{
			{Role: "system", Content: evaluatorInstructions},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   2000,
		JSON:        true,
	})
	if err != nil {
		m.logger.Warn("risk model unavailable", "order_id", in.Order.OrderID, "error", err)
		return nil, fmt.Errorf("risk model unavailable: %w", err)
	}

	var reply modelVerdict
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &reply); err != nil {
		m.logger.Warn("risk model returned malformed JSON", "order_id", in.Order.OrderID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrModelReply, err)
	}
	if len(reply.RiskFlags) == 0 {
		return nil, fmt.Errorf("%w: no risk_flags", ErrModelReply)
	}

	out := make([]RuleResult, 0, len(reply.RiskFlags))
	for _, f := range reply.RiskFlags {
		if f.Triggered == nil {
			return nil, fmt.Errorf("%w: rule %d has no triggered value", ErrModelReply, f.RuleID)
		}
		out = append(out, RuleResult{
			RuleID:      f.RuleID,
			Triggered:   *f.Triggered,
			Confidence:  f.Confidence,
			Explanation: strings.TrimSpace(f.Explanation),
		})
	}
	return out, nil
}

// render writes the rule table followed by the order's facts as JSON.
func (m *ModelBackend) render(in Input) (string, error) {
	var b strings.Builder
	b.WriteString("RULE TABLE\n")
	for _, r := range m.rules.rules {
		fmt.Fprintf(&b, "%d. %s (weight %d): %s\n", r.ID, r.Name, r.Weight, ruleGuidance[r.ID])
	}
	fmt.Fprintf(&b, "Velocity expression for rule %d: %s\n\n", RuleHurryBooking, m.rules.velocitySrc)

	facts := modelFacts{
		OrderID:        in.Order.OrderID,
		Customer:       in.Order.Customer,
		Address:        in.Order.Address,
		IP:             in.Order.IP,
		History:        in.History,
		Phone:          in.Phone,
		CityLookup:     in.City,
		CityJudgement:  in.CityJudgement,
		PostalLookup:   in.Postal,
		AddressVerdict: in.Address,
	}
	doc, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render order facts: %w", err)
	}
	b.WriteString("ORDER FACTS\n")
	b.Write(doc)
	return b.String(), nil
}
