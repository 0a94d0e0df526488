package risk

import (
	"fmt"
	"strings"
)

// NoVerificationNeeded is the single suggestion for a clean order.
const NoVerificationNeeded = "No additional verification needed; the order can ship as placed."

// suggestions holds one follow-up per rule. Informational rules get a note
// that asks for no action.
var suggestions = map[int]string{
	RuleCityVerification: "For information: the delivery city could not be fully confirmed by the lookup; no action is needed before dispatch.",
	RuleHurryBooking:     "Call the customer to confirm they intended to place several orders in quick succession.",
	RuleSharedAddress:    "Verify the recipient's identity at delivery; other customers have used this address.",
	RulePostalCode:       "Ask the customer to confirm the postal code and state for the delivery address.",
	RuleDuplicateEmail:   "Contact the customer to confirm ownership of the email address shared with another identity.",
	RuleDuplicatePhone:   "Call the phone number and confirm the name of the person who answers.",
	RuleCityMismatch:     "Ask the customer which city the parcel should go to; the street and city fields disagree.",
	RulePhoneStructure:   "Request a working phone number; the one provided is not a valid mobile number.",
	RuleAddressDetails:   "Request a complete delivery address with house number, street and area.",
}

// Summarize builds a short human-readable summary of a. Only triggered
// rules for which penalizes reports true count as risk rules; other
// triggered rules are named as notes. The text depends only on the score,
// the triggered rules and the action.
func Summarize(a *Assessment, penalizes func(ruleID int) bool) string {
	var risks, notes []string
	for _, f := range a.Triggered() {
		if penalizes(f.RuleID) {
			risks = append(risks, f.RuleName)
		} else {
			notes = append(notes, f.RuleName)
		}
	}

	var b strings.Builder
	if len(risks) == 0 {
		fmt.Fprintf(&b, "Order %s scored %d/%d with no risk rules triggered.", orderLabel(a.OrderID), a.RiskScore, MaxScore)
	} else {
		noun := "rules"
		if len(risks) == 1 {
			noun = "rule"
		}
		fmt.Fprintf(&b, "Order %s scored %d/%d. %d risk %s triggered: %s.",
			orderLabel(a.OrderID), a.RiskScore, MaxScore, len(risks), noun, strings.Join(risks, ", "))
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, " Informational: %s.", strings.Join(notes, ", "))
	}
	fmt.Fprintf(&b, " Recommended action: %s.", a.RecommendedAction)
	return b.String()
}

// Suggest returns one step per triggered rule, in rule order, or
// NoVerificationNeeded when no triggered rule carries a penalty.
func Suggest(a *Assessment, penalizes func(ruleID int) bool) []string {
	var out []string
	actionable := false
	for _, f := range a.Triggered() {
		if s, ok := suggestions[f.RuleID]; ok {
			out = append(out, s)
			actionable = actionable || penalizes(f.RuleID)
		}
	}
	if !actionable {
		return append([]string{NoVerificationNeeded}, out...)
	}
	return out
}

func orderLabel(id string) string {
	if id == "" {
		return "(no id)"
	}
	return id
}
