package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/riskguard/riskguard/internal/address"
	"github.com/riskguard/riskguard/internal/country"
	"github.com/riskguard/riskguard/internal/geo"
	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/phone"
)

// Rule IDs are stable across releases.
const (
	RuleSpecificIdentity = iota + 1
	RuleCityVerification
	RuleHurryBooking
	RuleSharedAddress
	RulePostalCode
	RuleDuplicateEmail
	RuleDuplicatePhone
	RuleCityMismatch
	RulePhoneStructure
	RuleAddressDetails
)

// Velocity thresholds used by the default expression.
const (
	MinMinutesBetweenOrders = 10
	MaxOrdersPer24h         = 2
	MaxOrdersPer7d          = 14
)

// DefaultVelocityExpr triggers the hurry-booking rule. It is only evaluated
// when the customer has a previous order.
const DefaultVelocityExpr = "minutes_since_last_order < 10 || orders_last_24h > 2 || orders_last_7d > 14"

// VelocityEnv is the environment velocity expressions run against.
type VelocityEnv struct {
	MinutesSinceLastOrder int `expr:"minutes_since_last_order"`
	OrdersLast24h         int `expr:"orders_last_24h"`
	OrdersLast7d          int `expr:"orders_last_7d"`
	TotalPastOrders       int `expr:"total_past_orders"`
}

// Outcome is what a rule's check produces.
type Outcome struct {
	Triggered   bool
	Confidence  float64
	Explanation string
}

// Rule is one row of the rule table.
type Rule struct {
	ID     int
	Name   string
	Weight int
	Check  func(in Input) Outcome
}

// RuleSet is the ordered rule table plus the knowledge its checks use.
type RuleSet struct {
	rules       []Rule
	gazetteer   *geo.Gazetteer
	classifier  *geo.Classifier
	velocity    *vm.Program
	velocitySrc string
}

// NewRuleSet builds the 10-rule table. An empty velocityExpr selects
// DefaultVelocityExpr; an expression that does not compile to a boolean is
// an error.
func NewRuleSet(g *geo.Gazetteer, velocityExpr string) (*RuleSet, error) {
	if g == nil {
		g = geo.NewGazetteer()
	}
	if strings.TrimSpace(velocityExpr) == "" {
		velocityExpr = DefaultVelocityExpr
	}
	program, err := expr.Compile(velocityExpr, expr.Env(VelocityEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile velocity expression %q: %w", velocityExpr, err)
	}

	rs := &RuleSet{
		gazetteer:   g,
		classifier:  geo.DefaultClassifier(g),
		velocity:    program,
		velocitySrc: velocityExpr,
	}
	rs.rules = []Rule{
		{ID: RuleSpecificIdentity, Name: "Specific Email and Phone", Weight: 0, Check: rs.specificIdentity},
		{ID: RuleCityVerification, Name: "Delivery City Verification", Weight: 0, Check: rs.cityVerification},
		{ID: RuleHurryBooking, Name: "Hurry Order Booking", Weight: PenaltyWeight, Check: rs.hurryBooking},
		{ID: RuleSharedAddress, Name: "Different Name with Same Address", Weight: PenaltyWeight, Check: rs.sharedAddress},
		{ID: RulePostalCode, Name: "Postal Code Validation", Weight: PenaltyWeight, Check: rs.postalCode},
		{ID: RuleDuplicateEmail, Name: "Duplicate Email - Different Identity", Weight: PenaltyWeight, Check: rs.duplicateEmail},
		{ID: RuleDuplicatePhone, Name: "Duplicate Phone - Different Identity", Weight: PenaltyWeight, Check: rs.duplicatePhone},
		{ID: RuleCityMismatch, Name: "City Name Mismatch", Weight: PenaltyWeight, Check: rs.cityMismatch},
		{ID: RulePhoneStructure, Name: "Phone Number Structure", Weight: PenaltyWeight, Check: rs.phoneStructure},
		{ID: RuleAddressDetails, Name: "Delivery Address Details", Weight: PenaltyWeight, Check: rs.addressDetails},
	}
	return rs, nil
}

// DefaultRuleSet builds the rule table with the default gazetteer and
// velocity expression.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(nil, "")
	if err != nil {
		panic("risk: default velocity expression does not compile: " + err.Error())
	}
	return rs
}

// Rules returns a copy of the rule table in ID order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Rule returns the rule with id.
func (rs *RuleSet) Rule(id int) (Rule, bool) {
	for _, r := range rs.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Penalizes reports whether a triggered rule adds to the score. Rules of
// weight zero are informational.
func (rs *RuleSet) Penalizes(id int) bool {
	r, ok := rs.Rule(id)
	return ok && r.Weight > 0
}

// VelocityExpr returns the source of the compiled velocity expression.
func (rs *RuleSet) VelocityExpr() string { return rs.velocitySrc }

// RuleEngine is the deterministic Backend: it runs every rule's check.
type RuleEngine struct {
	rules *RuleSet
}

// NewRuleEngine creates a RuleEngine over rs.
func NewRuleEngine(rs *RuleSet) *RuleEngine { return &RuleEngine{rules: rs} }

// Name implements Backend.
func (e *RuleEngine) Name() string { return "rules" }

// Evaluate implements Backend.
func (e *RuleEngine) Evaluate(ctx context.Context, in Input) ([]RuleResult, error) {
	if in.CityJudgement.Verdict == "" {
		in.CityJudgement = e.rules.classifier.Classify(ctx, geo.CityClaim{
			City:    in.Order.Address.City,
			Country: in.Order.Customer.Country,
			Lookup:  in.City,
		})
	}

	out := make([]RuleResult, 0, len(e.rules.rules))
	for _, r := range e.rules.rules {
		o := r.Check(in)
		out = append(out, RuleResult{
			RuleID:      r.ID,
			RuleName:    r.Name,
			Triggered:   o.Triggered,
			Confidence:  o.Confidence,
			Explanation: o.Explanation,
		})
	}
	return out, nil
}

func (rs *RuleSet) specificIdentity(Input) Outcome {
	return Outcome{
		Confidence:  1,
		Explanation: "This customer has a specific email and phone number associated with their account.",
	}
}

func (rs *RuleSet) cityVerification(in Input) Outcome {
	j := in.CityJudgement
	return Outcome{
		Triggered:   j.Suspicious(),
		Confidence:  j.Confidence,
		Explanation: fmt.Sprintf("%s (source: %s)", j.Explanation, j.Source),
	}
}

func (rs *RuleSet) hurryBooking(in Input) Outcome {
	sp := in.History.SamePersonOrders
	if sp.MinutesSinceLastOrder == nil {
		return Outcome{Confidence: 1, Explanation: "First order for this email; no previous order to compare against."}
	}

	env := VelocityEnv{
		MinutesSinceLastOrder: *sp.MinutesSinceLastOrder,
		OrdersLast24h:         sp.OrdersLast24h,
		OrdersLast7d:          sp.OrdersLast7d,
		TotalPastOrders:       sp.TotalPastOrders,
	}
	out, err := expr.Run(rs.velocity, env)
	triggered, ok := out.(bool)
	if err != nil || !ok {
		// Compiled with AsBool, so this only happens on a runtime fault.
		return Outcome{Confidence: 0.3, Explanation: fmt.Sprintf("Velocity rule could not be evaluated: %v", err)}
	}

	stats := fmt.Sprintf("minutes since last order: %d, orders in last 24h: %d, orders in last 7 days: %d",
		env.MinutesSinceLastOrder, env.OrdersLast24h, env.OrdersLast7d)
	if !triggered {
		return Outcome{Confidence: 0.95, Explanation: "Order pace is within limits (" + stats + ")."}
	}

	var reasons []string
	if env.MinutesSinceLastOrder < MinMinutesBetweenOrders {
		reasons = append(reasons, fmt.Sprintf("last order was %d minutes ago (minimum %d)", env.MinutesSinceLastOrder, MinMinutesBetweenOrders))
	}
	if env.OrdersLast24h > MaxOrdersPer24h {
		reasons = append(reasons, fmt.Sprintf("%d orders in the last 24 hours (maximum %d)", env.OrdersLast24h, MaxOrdersPer24h))
	}
	if env.OrdersLast7d > MaxOrdersPer7d {
		reasons = append(reasons, fmt.Sprintf("%d orders in the last 7 days (maximum %d)", env.OrdersLast7d, MaxOrdersPer7d))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("velocity rule %q matched", rs.velocitySrc))
	}
	return Outcome{
		Triggered:   true,
		Confidence:  0.95,
		Explanation: "Customer is ordering too fast: " + strings.Join(reasons, "; ") + " (" + stats + ").",
	}
}

func (rs *RuleSet) sharedAddress(in Input) Outcome {
	names := in.History.AddressHistory.OtherNamesAtThisAddress
	if len(names) == 0 {
		return Outcome{Confidence: 0.9, Explanation: "No other customers have ordered to this address."}
	}
	return Outcome{
		Triggered:   true,
		Confidence:  0.9,
		Explanation: "Other customers have ordered to this address: " + strings.Join(names, ", ") + ".",
	}
}

func (rs *RuleSet) postalCode(in Input) Outcome {
	addr := in.Order.Address
	claimed := in.Order.Customer.Country
	code := strings.TrimSpace(addr.PostalCode)
	p := in.Postal

	switch p.Status {
	case geo.StatusVerified:
		if p.Match == nil {
			return Outcome{Confidence: 0.5, Explanation: fmt.Sprintf("Postal code '%s' verified without location details.", code)}
		}
		m := p.Match
		if strings.TrimSpace(m.CountryCode) == "" {
			return Outcome{Confidence: 0.5, Explanation: fmt.Sprintf("Postal code '%s' verified, but the lookup reported no country.", code)}
		}
		if !country.Same(m.CountryCode, claimed) {
			return Outcome{
				Triggered:  true,
				Confidence: 0.95,
				Explanation: fmt.Sprintf("Postal code '%s' belongs to %s (%s, %s), not %s.",
					code, m.CountryCode, m.City, m.State, claimed),
			}
		}
		if addr.ExplicitState() && m.State != "" && !rs.gazetteer.SameState(addr.State, m.State, claimed) {
			return Outcome{
				Triggered:  true,
				Confidence: 0.85,
				Explanation: fmt.Sprintf("Postal code '%s' belongs to state '%s', but the address states '%s'.",
					code, m.State, addr.State),
			}
		}
		return Outcome{
			Confidence: 0.95,
			Explanation: fmt.Sprintf("The postal code '%s' is confirmed to match %s, %s, %s by the postal lookup.",
				code, m.City, m.State, m.CountryCode),
		}

	case geo.StatusNotFound:
		if rs.gazetteer.PostalFormatKnown(claimed) && !rs.gazetteer.PostalFormatValid(code, claimed) {
			return Outcome{
				Triggered:   true,
				Confidence:  0.7,
				Explanation: fmt.Sprintf("Postal code '%s' is not a valid postal code format for %s.", code, claimed),
			}
		}
		return Outcome{
			Confidence:  0.5,
			Explanation: fmt.Sprintf("Postal code '%s' was not found by the lookup, but its format is consistent with %s.", code, claimed),
		}

	case geo.StatusError:
		confidence := 0.4
		if in.CityJudgement.Verdict == geo.VerdictReal && rs.gazetteer.PostalFormatValid(code, claimed) {
			confidence = 0.6
		}
		return Outcome{
			Confidence:  confidence,
			Explanation: fmt.Sprintf("Postal lookup unavailable (%s); benefit of the doubt given.", p.Detail),
		}

	default:
		return Outcome{Confidence: 1, Explanation: "No postal code provided; check skipped."}
	}
}

func (rs *RuleSet) duplicateEmail(in Input) Outcome {
	m := in.History.DuplicateEmailMatches
	if len(m) == 0 {
		return Outcome{Confidence: 0.95, Explanation: "This email is unique; no other person uses it."}
	}
	return Outcome{
		Triggered:   true,
		Confidence:  0.95,
		Explanation: "This email is also used by a different identity: " + describeMatches(m) + ".",
	}
}

func (rs *RuleSet) duplicatePhone(in Input) Outcome {
	m := in.History.DuplicatePhoneMatches
	if len(m) == 0 {
		return Outcome{Confidence: 0.95, Explanation: "This phone number is unique; no other person uses it."}
	}
	return Outcome{
		Triggered:   true,
		Confidence:  0.95,
		Explanation: "This phone number is also used by a different identity: " + describeMatches(m) + ".",
	}
}

func (rs *RuleSet) cityMismatch(in Input) Outcome {
	street := in.Order.Address.Street
	city := in.Order.Address.City
	ok := Outcome{Confidence: 0.85, Explanation: "City implicitly matches or no contradictory city found in the delivery address."}

	if strings.TrimSpace(street) == "" || strings.TrimSpace(city) == "" {
		return ok
	}
	normStreet := geo.NormalizeName(street)
	normCity := geo.NormalizeName(city)
	if normCity != "" && containsPhrase(normStreet, normCity) {
		return ok
	}

	for _, found := range rs.citiesClaimed(street) {
		if rs.gazetteer.SameCity(found, city) || strings.Contains(normCity, found) {
			continue
		}
		return Outcome{
			Triggered:  true,
			Confidence: 0.8,
			Explanation: fmt.Sprintf("City name is not matched. Delivery address implies city is %s, but the explicitly provided city is %s.",
				titleCase(found), city),
		}
	}
	return ok
}

// citiesClaimed returns the cities a street line names as the place of
// delivery: a comma-separated segment that is a city name on its own
// (numbers and postcodes aside), or a city closing the last segment ("Block 5 Karachi").
// A city inside a road name ("5 Perth Drive") is not a claim.
func (rs *RuleSet) citiesClaimed(street string) []string {
	var segments [][]string
	for _, part := range strings.Split(street, ",") {
		if words := nonNumericWords(geo.NormalizeName(part)); len(words) > 0 {
			segments = append(segments, words)
		}
	}

	var out []string
	seen := map[string]bool{}
	claim := func(words []string) bool {
		phrase := strings.Join(words, " ")
		if len(rs.gazetteer.CountriesOf(phrase)) == 0 {
			return false
		}
		if found := rs.gazetteer.CitiesIn(phrase); len(found) == 1 && !seen[found[0]] {
			seen[found[0]] = true
			out = append(out, found[0])
		}
		return true
	}

	for i, words := range segments {
		if claim(words) || i < len(segments)-1 {
			continue
		}
		for n := min(maxCityWords, len(words)-1); n >= 1; n-- {
			if claim(words[len(words)-n:]) {
				break
			}
		}
	}
	return out
}

// maxCityWords bounds the city name looked for at the end of a street line.
const maxCityWords = 3

// nonNumericWords drops house numbers and postcode tokens.
func nonNumericWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		if strings.ContainsAny(w, "0123456789") {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (rs *RuleSet) phoneStructure(in Input) Outcome {
	s := phone.CheckStructure(in.Phone)
	if s.Valid {
		return Outcome{Confidence: 0.95, Explanation: s.Explanation}
	}
	return Outcome{Triggered: true, Confidence: 0.9, Explanation: s.Explanation}
}

func (rs *RuleSet) addressDetails(in Input) Outcome {
	v := in.Address
	switch v.Status {
	case address.StatusValid:
		return Outcome{Confidence: 0.85, Explanation: fmt.Sprintf("Delivery address looks deliverable. Normalized: '%s'.", v.Normalized)}
	case address.StatusInvalid:
		return Outcome{Triggered: true, Confidence: 0.85, Explanation: "Delivery address is not plausible: " + v.Reason}
	default:
		reason := v.Reason
		if reason == "" {
			reason = "address check did not run"
		}
		return Outcome{Confidence: 0.3, Explanation: "Address validation skipped: " + reason + "."}
	}
}

func describeMatches(ms []order.IdentityMatch) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		switch {
		case m.Name != "" && m.Email != "":
			parts = append(parts, fmt.Sprintf("%s (%s)", m.Name, m.Email))
		case m.Name != "":
			parts = append(parts, m.Name)
		default:
			parts = append(parts, m.Email)
		}
	}
	return strings.Join(parts, ", ")
}

func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
