package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var penalizes = DefaultRuleSet().Penalizes

func TestSummarize(t *testing.T) {
	a := &Assessment{OrderID: "ORD-7", RiskScore: 0, RecommendedAction: ActionShip}
	assert.Equal(t, "Order ORD-7 scored 0/40 with no risk rules triggered. Recommended action: ship.", Summarize(a, penalizes))

	a = &Assessment{
		OrderID:   "ORD-7",
		RiskScore: 10,
		RiskFlags: []RuleResult{
			{RuleID: RuleHurryBooking, RuleName: "Hurry Order Booking", Triggered: true},
			{RuleID: RuleSharedAddress, RuleName: "Different Name with Same Address"},
			{RuleID: RulePhoneStructure, RuleName: "Phone Number Structure", Triggered: true},
		},
		RecommendedAction: ActionManualReview,
	}
	assert.Equal(t,
		"Order ORD-7 scored 10/40. 2 risk rules triggered: Hurry Order Booking, Phone Number Structure. Recommended action: manual_review.",
		Summarize(a, penalizes))

	a.RiskFlags[2].Triggered = false
	assert.Contains(t, Summarize(a, penalizes), "1 risk rule triggered")
	assert.Contains(t, Summarize(&Assessment{}, penalizes), "(no id)")
}

func TestSummarize_InformationalRuleIsNotARisk(t *testing.T) {
	a := &Assessment{
		OrderID:           "ORD-8",
		RiskFlags:         []RuleResult{{RuleID: RuleCityVerification, RuleName: "Delivery City Verification", Triggered: true}},
		RecommendedAction: ActionShip,
	}
	assert.Equal(t,
		"Order ORD-8 scored 0/40 with no risk rules triggered. Informational: Delivery City Verification. Recommended action: ship.",
		Summarize(a, penalizes))
	assert.Equal(t, []string{NoVerificationNeeded, suggestions[RuleCityVerification]}, Suggest(a, penalizes))

	a.RiskScore = 5
	a.RecommendedAction = ActionManualReview
	a.RiskFlags = append(a.RiskFlags, RuleResult{RuleID: RulePostalCode, RuleName: "Postal Code Validation", Triggered: true})
	assert.Equal(t,
		"Order ORD-8 scored 5/40. 1 risk rule triggered: Postal Code Validation. Informational: Delivery City Verification. Recommended action: manual_review.",
		Summarize(a, penalizes))
	assert.Equal(t, []string{suggestions[RuleCityVerification], suggestions[RulePostalCode]}, Suggest(a, penalizes))
}

func TestSuggest(t *testing.T) {
	assert.Equal(t, []string{NoVerificationNeeded}, Suggest(&Assessment{}, penalizes))

	a := &Assessment{RiskFlags: []RuleResult{
		{RuleID: RuleSpecificIdentity, Triggered: true},
		{RuleID: RuleDuplicateEmail, Triggered: true},
		{RuleID: RuleAddressDetails, Triggered: true},
	}}
	got := Suggest(a, penalizes)
	assert.Equal(t, []string{suggestions[RuleDuplicateEmail], suggestions[RuleAddressDetails]}, got)
}
