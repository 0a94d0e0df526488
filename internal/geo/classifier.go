package geo

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/riskguard/riskguard/internal/country"
)

// Verdict is a classifier's judgement on a claimed city.
type Verdict string

const (
	VerdictReal         Verdict = "real"
	VerdictFake         Verdict = "fake"
	VerdictWrongCountry Verdict = "wrong_country"
	VerdictUnknown      Verdict = "unknown"
)

// Judgement is the fixed classifier contract, whichever strategy decided.
type Judgement struct {
	Verdict     Verdict `json:"verdict"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
}

// Suspicious reports whether the judgement is positive evidence the city is
// fake or belongs to another country.
func (j Judgement) Suspicious() bool {
	return j.Verdict == VerdictFake || j.Verdict == VerdictWrongCountry
}

// CityClaim is what a strategy judges: the claimed city and country plus
// whatever the providers already said.
type CityClaim struct {
	City    string
	Country string
	Lookup  Result
}

// Strategy is one ranked way of judging a city claim. It returns false when
// it has nothing to say and the next strategy should be tried.
type Strategy interface {
	Name() string
	Classify(ctx context.Context, claim CityClaim) (Judgement, bool)
}

// Classifier tries its strategies in order and returns the first decisive
// judgement. When none decides, the verdict is unknown.
type Classifier struct {
	strategies []Strategy
}

// NewClassifier creates a Classifier with ranked strategies.
func NewClassifier(strategies ...Strategy) *Classifier {
	return &Classifier{strategies: strategies}
}

// DefaultClassifier ranks primary provider, secondary provider, then the
// gazetteer.
func DefaultClassifier(g *Gazetteer) *Classifier {
	return NewClassifier(
		ProviderStrategy{Source: SourcePrimary},
		ProviderStrategy{Source: SourceSecondary},
		GazetteerStrategy{Gazetteer: g},
	)
}

// Classify judges claim.
func (c *Classifier) Classify(ctx context.Context, claim CityClaim) Judgement {
	for _, s := range c.strategies {
		if j, ok := s.Classify(ctx, claim); ok {
			if j.Source == "" {
				j.Source = s.Name()
			}
			classifications.WithLabelValues(j.Source, string(j.Verdict)).Inc()
			return j
		}
	}

	j := Judgement{
		Verdict:     VerdictUnknown,
		Explanation: fmt.Sprintf("%s could not be confirmed or refuted for %s.", claim.City, claim.Country),
		Confidence:  0.3,
		Source:      "none",
	}
	if claim.Lookup.Status == StatusError {
		j.Explanation = fmt.Sprintf("City lookup unavailable (%s); benefit of the doubt given.", claim.Lookup.Detail)
	}
	classifications.WithLabelValues(j.Source, string(j.Verdict)).Inc()
	return j
}

// ProviderStrategy accepts a city that a provider verified.
type ProviderStrategy struct {
	Source string
}

func (p ProviderStrategy) Name() string { return p.Source }

func (p ProviderStrategy) Classify(_ context.Context, claim CityClaim) (Judgement, bool) {
	r := claim.Lookup
	if r.Status != StatusVerified || r.Source != p.Source {
		return Judgement{}, false
	}
	confidence := 0.95
	if p.Source == SourceSecondary {
		confidence = 0.85
	}
	return Judgement{
		Verdict:     VerdictReal,
		Explanation: fmt.Sprintf("%s verified in %s by %s lookup (%s).", claim.City, claim.Country, p.Source, r.Detail),
		Confidence:  confidence,
		Source:      p.Source,
	}, true
}

// GazetteerStrategy judges from curated knowledge. It only speaks when the
// providers did not verify the city.
type GazetteerStrategy struct {
	Gazetteer *Gazetteer
}

func (GazetteerStrategy) Name() string { return SourceGazetteer }

func (g GazetteerStrategy) Classify(_ context.Context, claim CityClaim) (Judgement, bool) {
	if g.Gazetteer == nil || claim.Lookup.Status == StatusVerified {
		return Judgement{}, false
	}
	city := strings.TrimSpace(claim.City)

	if looksFabricated(city) {
		return Judgement{
			Verdict:     VerdictFake,
			Explanation: fmt.Sprintf("%q does not look like a place name.", city),
			Confidence:  0.8,
			Source:      SourceGazetteer,
		}, true
	}

	if g.Gazetteer.Knows(city, claim.Country) {
		return Judgement{
			Verdict:     VerdictReal,
			Explanation: fmt.Sprintf("%s is a known city in %s.", city, claim.Country),
			Confidence:  0.75,
			Source:      SourceGazetteer,
		}, true
	}

	// A well-known city in some other country is evidence of a wrong-country
	// claim, but only when providers positively found nothing.
	if claim.Lookup.Status == StatusNotFound {
		if isos := g.Gazetteer.CountriesOf(city); len(isos) > 0 {
			return Judgement{
				Verdict:     VerdictWrongCountry,
				Explanation: fmt.Sprintf("%s is a known city in %s, not %s.", city, countryNames(isos), claim.Country),
				Confidence:  0.7,
				Source:      SourceGazetteer,
			}, true
		}
	}

	return Judgement{}, false
}

// looksFabricated flags names no real city has: no letters, mostly digits,
// keyboard mashes, or one character repeated.
func looksFabricated(s string) bool {
	if s == "" {
		return false
	}
	var letters, digits, others int
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case r == ' ' || r == '-' || r == '.' || r == '\'':
		default:
			others++
		}
	}
	if letters == 0 || digits > letters || others > 1 {
		return true
	}

	lower := strings.ToLower(s)
	for _, mash := range []string{"asdf", "qwer", "zxcv", "hjkl", "xxxx", "test"} {
		if strings.Contains(lower, mash) {
			return true
		}
	}

	run, prev := 1, rune(0)
	for _, r := range lower {
		if r == prev {
			run++
			if run >= 4 {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}

func countryNames(isos []string) string {
	names := make([]string, 0, len(isos))
	for _, iso := range isos {
		if c, ok := country.Lookup(iso); ok {
			names = append(names, c.Name)
		} else {
			names = append(names, iso)
		}
	}
	return strings.Join(names, "/")
}
