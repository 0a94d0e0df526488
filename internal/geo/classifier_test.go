package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_Ranking(t *testing.T) {
	c := DefaultClassifier(NewGazetteer())
	ctx := context.Background()

	tests := []struct {
		name    string
		claim   CityClaim
		verdict Verdict
		source  string
	}{
		{
			name:    "primary verified",
			claim:   CityClaim{City: "Lahore", Country: "Pakistan", Lookup: Result{Status: StatusVerified, Source: SourcePrimary}},
			verdict: VerdictReal,
			source:  SourcePrimary,
		},
		{
			name:    "secondary verified",
			claim:   CityClaim{City: "Okara", Country: "Pakistan", Lookup: Result{Status: StatusVerified, Source: SourceSecondary}},
			verdict: VerdictReal,
			source:  SourceSecondary,
		},
		{
			name:    "not found but known to gazetteer",
			claim:   CityClaim{City: "Karachi", Country: "Pakistan", Lookup: Result{Status: StatusNotFound}},
			verdict: VerdictReal,
			source:  SourceGazetteer,
		},
		{
			name:    "not found and known elsewhere",
			claim:   CityClaim{City: "Dubai", Country: "Pakistan", Lookup: Result{Status: StatusNotFound}},
			verdict: VerdictWrongCountry,
			source:  SourceGazetteer,
		},
		{
			name:    "gibberish",
			claim:   CityClaim{City: "asdfgh", Country: "Pakistan", Lookup: Result{Status: StatusNotFound}},
			verdict: VerdictFake,
			source:  SourceGazetteer,
		},
		{
			name:    "not found small town is unknown",
			claim:   CityClaim{City: "Chichawatni", Country: "Pakistan", Lookup: Result{Status: StatusNotFound}},
			verdict: VerdictUnknown,
			source:  "none",
		},
		{
			name:    "error with known elsewhere is not wrong country",
			claim:   CityClaim{City: "Dubai", Country: "Pakistan", Lookup: Result{Status: StatusError, Detail: "timeout"}},
			verdict: VerdictUnknown,
			source:  "none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := c.Classify(ctx, tt.claim)
			assert.Equal(t, tt.verdict, j.Verdict)
			assert.Equal(t, tt.source, j.Source)
			assert.NotEmpty(t, j.Explanation)
			assert.GreaterOrEqual(t, j.Confidence, 0.0)
			assert.LessOrEqual(t, j.Confidence, 1.0)
		})
	}
}

func TestJudgement_Suspicious(t *testing.T) {
	assert.True(t, Judgement{Verdict: VerdictFake}.Suspicious())
	assert.True(t, Judgement{Verdict: VerdictWrongCountry}.Suspicious())
	assert.False(t, Judgement{Verdict: VerdictUnknown}.Suspicious())
	assert.False(t, Judgement{Verdict: VerdictReal}.Suspicious())
}

func TestLooksFabricated(t *testing.T) {
	for _, s := range []string{"12345", "asdf", "Lahoreeeee", "#$%@", "a1234"} {
		assert.True(t, looksFabricated(s), s)
	}
	for _, s := range []string{"Lahore", "Rahim Yar Khan", "Dera Ismail Khan", "St. John's", "Sao Paulo"} {
		assert.False(t, looksFabricated(s), s)
	}
}

func TestGazetteer(t *testing.T) {
	g := NewGazetteer()

	assert.True(t, g.Knows("lahore", "PK"))
	assert.True(t, g.Knows("Bombay", "India"))
	assert.False(t, g.Knows("Lahore", "India"))
	assert.ElementsMatch(t, []string{"IN", "PK"}, g.CountriesOf("Hyderabad"))

	assert.True(t, g.SameCity("New Delhi", "delhi"))
	assert.False(t, g.SameCity("Lahore", "Karachi"))

	assert.True(t, g.PostalFormatValid("54000", "Pakistan"))
	assert.False(t, g.PostalFormatValid("5400", "Pakistan"))
	assert.True(t, g.PostalFormatValid("K1A 0B1", "Canada"))
	assert.True(t, g.PostalFormatValid("anything", "Atlantis"))

	assert.True(t, g.SameState("CA", "California", "United States"))
	assert.True(t, g.SameState("punjab", "Punjab", "Pakistan"))
	assert.False(t, g.SameState("Sindh", "Punjab", "Pakistan"))
	assert.False(t, g.SameState("", "Punjab", "Pakistan"))

	assert.Equal(t, []string{"karachi"}, g.CitiesIn("House 12, Block 4, Gulshan, Karachi"))
	assert.Equal(t, []string{"rahim yar khan"}, g.CitiesIn("Main Bazar, Rahim Yar Khan"))
	assert.Empty(t, g.CitiesIn("House 5, Street 9"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "sao paulo", NormalizeName("  São   Paulo "))
	assert.Equal(t, "xian", NormalizeName("Xi'an"))
	assert.Equal(t, "house 12 street 4", NormalizeName("House #12, Street-4"))
}
