// Package phone converts raw customer phone input into E.164 form and checks
// the result against a closed per-country structural table.
//
// Normalization is best effort: it never fails the request. An input that
// cannot be normalized comes back with OK=false and the raw value untouched,
// and the structural rule then flags it.
package phone

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/riskguard/riskguard/internal/country"
)

// Errors
var (
	ErrEmpty           = errors.New("phone: empty input")
	ErrInvalidChars    = errors.New("phone: input contains characters other than digits and separators")
	ErrUnknownCountry  = errors.New("phone: claimed country has no calling code in the supported table")
	ErrNoNationalDigit = errors.New("phone: no national digits after removing trunk prefix")
)

// Phone is the outcome of normalization.
type Phone struct {
	Raw    string `json:"raw"`
	E164   string `json:"e164,omitempty"` // set when OK
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"` // set when !OK
}

// Value returns the normalized number, or the raw input when normalization
// failed.
func (p Phone) Value() string {
	if p.OK {
		return p.E164
	}
	return p.Raw
}

// Normalizer turns a raw phone string and a claimed country into a Phone.
// Implementations must not return an unusable zero value: on failure they
// return Phone{Raw: raw, OK: false}.
type Normalizer interface {
	Normalize(ctx context.Context, raw, claimedCountry string) Phone
}

// TableNormalizer normalizes using the closed calling-code table.
type TableNormalizer struct{}

// NewTableNormalizer creates a deterministic normalizer.
func NewTableNormalizer() *TableNormalizer {
	return &TableNormalizer{}
}

// Normalize implements Normalizer.
func (TableNormalizer) Normalize(_ context.Context, raw, claimedCountry string) Phone {
	e164, err := ToE164(raw, claimedCountry)
	if err != nil {
		return Phone{Raw: raw, Reason: err.Error()}
	}
	return Phone{Raw: raw, E164: e164, OK: true}
}

// ToE164 strips separators, drops a local trunk prefix and prepends the
// calling code of claimedCountry. Input that already starts with "+" is
// trusted as-is once separators are removed.
func ToE164(raw, claimedCountry string) (string, error) {
	s := stripSeparators(raw)
	if s == "" {
		return "", ErrEmpty
	}

	if strings.HasPrefix(s, "+") {
		digits := s[1:]
		if digits == "" || !allDigits(digits) {
			return "", ErrInvalidChars
		}
		return "+" + digits, nil
	}

	if !allDigits(s) {
		return "", ErrInvalidChars
	}

	c, ok := country.Lookup(claimedCountry)
	if !ok {
		return "", ErrUnknownCountry
	}

	national := strings.TrimPrefix(s, "00")
	if len(national) == len(s) {
		national = strings.TrimPrefix(s, "0")
	}
	if national == "" {
		return "", ErrNoNationalDigit
	}
	return "+" + c.CallingCode + national, nil
}

func stripSeparators(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsSpace(r), r == '-', r == '.', r == '(', r == ')':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
