// Package country holds the closed table of countries the service can
// prefix phone numbers for and compare addresses against.
package country

import "strings"

// Country is one supported country.
type Country struct {
	Name        string `json:"name"`
	ISO2        string `json:"iso2"`
	CallingCode string `json:"callingCode"` // digits only, no "+"
}

// The calling-code table is closed. US and Canada share +1.
var table = []Country{
	{Name: "Pakistan", ISO2: "PK", CallingCode: "92"},
	{Name: "India", ISO2: "IN", CallingCode: "91"},
	{Name: "United States", ISO2: "US", CallingCode: "1"},
	{Name: "Canada", ISO2: "CA", CallingCode: "1"},
	{Name: "United Kingdom", ISO2: "GB", CallingCode: "44"},
	{Name: "Australia", ISO2: "AU", CallingCode: "61"},
	{Name: "United Arab Emirates", ISO2: "AE", CallingCode: "971"},
	{Name: "Saudi Arabia", ISO2: "SA", CallingCode: "966"},
	{Name: "Germany", ISO2: "DE", CallingCode: "49"},
	{Name: "France", ISO2: "FR", CallingCode: "33"},
	{Name: "Brazil", ISO2: "BR", CallingCode: "55"},
	{Name: "China", ISO2: "CN", CallingCode: "86"},
	{Name: "Nigeria", ISO2: "NG", CallingCode: "234"},
	{Name: "South Africa", ISO2: "ZA", CallingCode: "27"},
	{Name: "Bangladesh", ISO2: "BD", CallingCode: "880"},
	{Name: "Italy", ISO2: "IT", CallingCode: "39"},
	{Name: "Japan", ISO2: "JP", CallingCode: "81"},
	{Name: "Turkey", ISO2: "TR", CallingCode: "90"},
	{Name: "Egypt", ISO2: "EG", CallingCode: "20"},
	{Name: "Argentina", ISO2: "AR", CallingCode: "54"},
	{Name: "Mexico", ISO2: "MX", CallingCode: "52"},
}

// aliases maps alternate spellings to ISO2 codes.
var aliases = map[string]string{
	"usa":                      "US",
	"us":                       "US",
	"u.s.":                     "US",
	"u.s.a.":                   "US",
	"united states of america": "US",
	"america":                  "US",
	"us/canada":                "US",
	"uk":                       "GB",
	"u.k.":                     "GB",
	"great britain":            "GB",
	"britain":                  "GB",
	"england":                  "GB",
	"scotland":                 "GB",
	"wales":                    "GB",
	"uae":                      "AE",
	"u.a.e.":                   "AE",
	"emirates":                 "AE",
	"ksa":                      "SA",
	"kingdom of saudi arabia":  "SA",
	"deutschland":              "DE",
	"brasil":                   "BR",
	"prc":                      "CN",
	"türkiye":                  "TR",
	"turkiye":                  "TR",
	"méxico":                   "MX",

	"people's republic of china": "CN",
}

var (
	byISO  = make(map[string]Country, len(table))
	byName = make(map[string]Country, len(table))
)

func init() {
	for _, c := range table {
		byISO[c.ISO2] = c
		byName[strings.ToLower(c.Name)] = c
	}
}

// Lookup resolves a country by name, ISO2 code or common alias,
// case-insensitively.
func Lookup(s string) (Country, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return Country{}, false
	}
	if c, ok := byName[key]; ok {
		return c, true
	}
	if iso, ok := aliases[key]; ok {
		return byISO[iso], true
	}
	if c, ok := byISO[strings.ToUpper(key)]; ok {
		return c, true
	}
	return Country{}, false
}

// Same reports whether a and b name the same country. Unknown names fall back
// to a case-insensitive comparison.
func Same(a, b string) bool {
	ca, okA := Lookup(a)
	cb, okB := Lookup(b)
	if okA && okB {
		return ca.ISO2 == cb.ISO2
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ByCallingCode returns the table entries whose calling code is code.
func ByCallingCode(code string) []Country {
	var out []Country
	for _, c := range table {
		if c.CallingCode == code {
			out = append(out, c)
		}
	}
	return out
}

// MatchCallingCode finds the calling code that prefixes digits (an E.164
// number without "+"). Longest match wins.
func MatchCallingCode(digits string) (string, bool) {
	best := ""
	for _, c := range table {
		if strings.HasPrefix(digits, c.CallingCode) && len(c.CallingCode) > len(best) {
			best = c.CallingCode
		}
	}
	return best, best != ""
}

// All returns a copy of the table.
func All() []Country {
	out := make([]Country, len(table))
	copy(out, table)
	return out
}
