package phone

import (
	"fmt"
	"strings"

	"github.com/riskguard/riskguard/internal/country"
)

// MaxE164Digits is the ITU ceiling on country code plus national number.
const MaxE164Digits = 15

// pattern is the structural rule for one calling code.
type pattern struct {
	label      string
	minDigits  int
	maxDigits  int
	leading    string // permissible first national digits; empty = any
	secondFrom byte   // optional lower bound on the second digit (China mobiles)
}

// patterns covers the calling codes that carry a national format. Codes in the
// country table without a row fall back to the total-length check only.
var patterns = map[string]pattern{
	"92":  {label: "Pakistan", minDigits: 10, maxDigits: 10, leading: "3"},
	"91":  {label: "India", minDigits: 10, maxDigits: 10, leading: "6789"},
	"1":   {label: "US/Canada", minDigits: 10, maxDigits: 10},
	"44":  {label: "UK", minDigits: 9, maxDigits: 10, leading: "7"},
	"61":  {label: "Australia", minDigits: 9, maxDigits: 9, leading: "4"},
	"971": {label: "UAE", minDigits: 9, maxDigits: 9, leading: "5"},
	"966": {label: "Saudi Arabia", minDigits: 9, maxDigits: 9, leading: "5"},
	"880": {label: "Bangladesh", minDigits: 10, maxDigits: 10, leading: "1"},
	"234": {label: "Nigeria", minDigits: 10, maxDigits: 10},
	"27":  {label: "South Africa", minDigits: 9, maxDigits: 9},
	"86":  {label: "China", minDigits: 11, maxDigits: 11, leading: "1", secondFrom: '3'},
	"55":  {label: "Brazil", minDigits: 10, maxDigits: 11},
}

// Structure is the verdict of CheckStructure.
type Structure struct {
	Valid       bool
	CallingCode string
	Country     string
	National    string
	Explanation string
}

// CheckStructure validates a normalized phone against the structural table.
// Unparseable input is always invalid.
func CheckStructure(p Phone) Structure {
	if !p.OK {
		return Structure{Explanation: "Input phone number is invalid or ambiguous."}
	}

	digits := strings.TrimPrefix(p.E164, "+")
	if len(digits) < 2 || len(digits) > MaxE164Digits {
		return Structure{Explanation: fmt.Sprintf(
			"Phone number %s has %d digits; E.164 numbers carry between 2 and %d.",
			p.E164, len(digits), MaxE164Digits)}
	}

	code, ok := country.MatchCallingCode(digits)
	if !ok {
		return Structure{
			Valid:       true,
			National:    digits,
			Explanation: fmt.Sprintf("Phone number %s has an unlisted calling code; total length of %d digits is within E.164 limits.", p.E164, len(digits)),
		}
	}
	national := digits[len(code):]

	pat, ok := patterns[code]
	if !ok {
		label := labelFor(code)
		return Structure{
			Valid:       len(national) > 0,
			CallingCode: code,
			Country:     label,
			National:    national,
			Explanation: fmt.Sprintf("Phone number %s belongs to %s (code +%s). Total length is within E.164 limits.", p.E164, label, code),
		}
	}

	st := Structure{CallingCode: code, Country: pat.label, National: national}
	switch {
	case len(national) < pat.minDigits || len(national) > pat.maxDigits:
		st.Explanation = fmt.Sprintf("%s numbers must have %s after +%s, but %d found.",
			pat.label, digitCount(pat), code, len(national))
	case pat.leading != "" && !strings.ContainsRune(pat.leading, rune(national[0])):
		st.Explanation = fmt.Sprintf("%s numbers must start with %s after +%s, but %s starts with %c.",
			pat.label, leadingList(pat.leading), code, national, national[0])
	case pat.secondFrom != 0 && national[1] < pat.secondFrom:
		st.Explanation = fmt.Sprintf("%s mobile prefix %s is outside the 130-199 range.", pat.label, national[:3])
	default:
		st.Valid = true
		st.Explanation = fmt.Sprintf("Phone number %s belongs to %s (code +%s). Phone number and customer country are matched.",
			p.E164, pat.label, code)
	}
	return st
}

func labelFor(code string) string {
	cs := country.ByCallingCode(code)
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		names = append(names, c.Name)
	}
	return strings.Join(names, "/")
}

func digitCount(p pattern) string {
	if p.minDigits == p.maxDigits {
		return fmt.Sprintf("exactly %d digits", p.minDigits)
	}
	return fmt.Sprintf("%d or %d digits", p.minDigits, p.maxDigits)
}

func leadingList(s string) string {
	parts := strings.Split(s, "")
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
}
