// Package geo checks whether a claimed delivery city and postal code are
// plausible for a claimed country.
//
// Lookups go to a primary provider (ZipcodeStack) with a secondary fallback
// (Nominatim/OpenStreetMap) for cities. Every check returns a Result with a
// tri-state status:
//
//	VERIFIED   a provider confirmed the value
//	NOT_FOUND  providers answered and had no match (evidence absent)
//	ERROR      no provider could answer (infrastructure absent)
//
// NOT_FOUND and ERROR are deliberately distinct. Scoring falls back to the
// gazetteer on NOT_FOUND and gives the benefit of the doubt on ERROR.
package geo

import (
	"context"
	"errors"
)

// Errors
var (
	ErrNoProvider     = errors.New("geo: no provider configured")
	ErrProviderStatus = errors.New("geo: provider returned non-200 status")
	ErrDecode         = errors.New("geo: could not decode provider response")
)

// Status is the tri-state outcome of a lookup.
type Status string

const (
	StatusVerified Status = "VERIFIED"
	StatusNotFound Status = "NOT_FOUND"
	StatusError    Status = "ERROR"
	// StatusSkipped marks a postal check that was not run because no code
	// was supplied.
	StatusSkipped Status = "SKIPPED"
)

// Check names the kind of lookup.
type Check string

const (
	CheckCity   Check = "city"
	CheckPostal Check = "postal"
)

// Source values recorded on VERIFIED results.
const (
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
	SourceGazetteer = "gazetteer"
)

// PostalMatch is what the postal provider knows about a code.
type PostalMatch struct {
	City        string `json:"city"`
	State       string `json:"state"`
	CountryCode string `json:"countryCode"`
}

// Result is the outcome of one enrichment check.
type Result struct {
	Check    Check        `json:"check"`
	Status   Status       `json:"status"`
	Source   string       `json:"source,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Detail   string       `json:"detail"`
	Match    *PostalMatch `json:"match,omitempty"`
}

// Cacheable reports whether the result is safe to reuse. Infrastructure
// failures are never cached.
func (r Result) Cacheable() bool {
	return r.Status == StatusVerified || r.Status == StatusNotFound
}

// CityMatch is a city provider's answer.
type CityMatch struct {
	Found       bool
	DisplayName string
}

// CityLookup searches a provider for a city within a country.
type CityLookup interface {
	Name() string
	LookupCity(ctx context.Context, city, country string) (CityMatch, error)
}

// PostalLookup resolves a postal code within a country. A nil match with a
// nil error means the provider has no record of the code.
type PostalLookup interface {
	Name() string
	LookupPostal(ctx context.Context, code, country string) (*PostalMatch, error)
}
