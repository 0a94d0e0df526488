package address

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	maxDigitRun     = 8
	maxConsonantRun = 5
	minWords        = 2
)

var (
	reFloat      = regexp.MustCompile(`\d+\.\d+`)
	reDigitRun   = regexp.MustCompile(fmt.Sprintf(`\d{%d,}`, maxDigitRun+1))
	reSymbolRun  = regexp.MustCompile(`[!?.,\-]{3,}|!{2,}`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reCommaSpace = regexp.MustCompile(`\s*,\s*`)
)

// symbols that never appear in a real delivery address.
const noiseSymbols = "!@$%^*=<>{}[]|~`\\;?_+"

var keyboardMashes = []string{
	"asdf", "sdfg", "dfgh", "fghj", "ghjk", "hjkl", "qwer",
	"zxcv", "xcvb", "cvbn", "vbnm", "kjhg", "jhgf", "hgfd", "gfds",
}

// abbreviations expanded in the normalized form.
var abbreviations = map[string]string{
	"st":    "Street",
	"str":   "Street",
	"rd":    "Road",
	"ave":   "Avenue",
	"av":    "Avenue",
	"blvd":  "Boulevard",
	"ln":    "Lane",
	"dr":    "Drive",
	"ct":    "Court",
	"pl":    "Place",
	"sq":    "Square",
	"apt":   "Apartment",
	"bldg":  "Building",
	"hse":   "House",
	"blk":   "Block",
	"sec":   "Sector",
	"ph":    "Phase",
	"no":    "No.",
}

// vowelless tokens that are still legitimate in addresses.
var allowedVowelless = map[string]bool{
	"st": true, "rd": true, "blvd": true, "ln": true, "dr": true, "ct": true, "pl": true,
	"sq": true, "bldg": true, "blk": true, "ph": true, "nw": true, "ne": true, "sw": true,
	"se": true, "n": true, "s": true, "w": true, "dha": true, "pkwy": true, "hwy": true,
	"cdmx": true, "nyc": true, "pk": true, "uk": true, "us": true, "kp": true, "kpk": true,
	"ajk": true, "ict": true, "nsw": true, "qld": true, "sp": true, "rj": true,
	"mg": true, "gt": true, "jv": true, "ff": true, "grd": true, "flr": true, "fl": true,
}

// HeuristicChecker is a deterministic address checker. It rejects inputs
// that carry gibberish, unnaturally long numbers, decimal numbers or symbol
// noise, and tolerates a missing name, state or postal code.
type HeuristicChecker struct{}

// NewHeuristicChecker creates a HeuristicChecker.
func NewHeuristicChecker() *HeuristicChecker { return &HeuristicChecker{} }

// Check implements Checker.
func (HeuristicChecker) Check(_ context.Context, fullAddress string) Verdict {
	v := Verdict{Input: fullAddress, Checker: "heuristic"}
	s := strings.TrimSpace(fullAddress)

	if reason := rejectReason(s); reason != "" {
		v.Status = StatusInvalid
		v.Reason = reason
		return v
	}

	v.Status = StatusValid
	v.Normalized = Normalize(s)
	return v
}

func rejectReason(s string) string {
	if s == "" {
		return "Address is empty."
	}
	if m := reDigitRun.FindString(s); m != "" {
		return fmt.Sprintf("Address contains an unnaturally long number (%s).", m)
	}
	if m := reFloat.FindString(s); m != "" {
		return fmt.Sprintf("Address contains an irrelevant decimal number (%s).", m)
	}
	if strings.ContainsAny(s, noiseSymbols) || reSymbolRun.MatchString(s) {
		return "Address contains symbol noise that is not part of a delivery address."
	}

	var words int
	var garbled []string
	for _, tok := range tokens(s) {
		if hasLetter(tok) {
			words++
		}
		if isGarbled(tok) {
			garbled = append(garbled, tok)
		}
	}
	if len(garbled) > 0 {
		return fmt.Sprintf("Address contains non-understandable text: %s.", quoteAll(garbled))
	}
	if words < minWords {
		return "Address has too little information for a courier to locate it."
	}
	return ""
}

// isGarbled flags keyboard mashes, long consonant clusters and letter runs
// fused onto numbers (e.g. "8998sfgdfs"). Short ordinals like "3rd" or unit
// suffixes like "11A" are fine.
func isGarbled(tok string) bool {
	lower := strings.ToLower(tok)
	letters := lettersOnly(lower)
	if letters == "" {
		return false
	}
	for _, m := range keyboardMashes {
		if strings.Contains(letters, m) {
			return true
		}
	}
	if hasDigit(lower) && len(letters) >= 4 {
		return true
	}
	if consonantRun(letters) > maxConsonantRun {
		return true
	}
	if len(letters) >= 4 && !hasVowel(letters) && !allowedVowelless[letters] {
		return true
	}
	return false
}

// Normalize produces the canonical single-line form: collapsed whitespace,
// ", " separators, title case and expanded street abbreviations.
func Normalize(s string) string {
	s = reSpaces.ReplaceAllString(strings.TrimSpace(s), " ")
	s = reCommaSpace.ReplaceAllString(s, ", ")
	s = strings.Trim(s, ", ")

	parts := strings.Split(s, ", ")
	for i, part := range parts {
		words := strings.Fields(part)
		for j, w := range words {
			words[j] = normalizeWord(w)
		}
		parts[i] = strings.Join(words, " ")
	}
	return strings.Join(parts, ", ")
}

func normalizeWord(w string) string {
	core := strings.TrimRight(w, ".")
	if full, ok := abbreviations[strings.ToLower(core)]; ok {
		return full
	}
	if isUpperToken(w) {
		// Roman numerals, state and postal codes stay as typed.
		return w
	}
	if hasDigit(w) {
		return w
	}
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	for i := 1; i < len(r); i++ {
		if r[i-1] == '-' {
			r[i] = unicode.ToUpper(r[i])
		}
	}
	return string(r)
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(",/()-.#:", r)
	})
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func consonantRun(s string) int {
	best, run := 0, 0
	for _, r := range s {
		if isVowel(r) || !unicode.IsLetter(r) || r > unicode.MaxASCII {
			run = 0
			continue
		}
		run++
		if run > best {
			best = run
		}
	}
	return best
}

func isVowel(r rune) bool { return strings.ContainsRune("aeiouy", r) }

func hasVowel(s string) bool {
	for _, r := range s {
		if isVowel(r) || r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool { return strings.IndexFunc(s, unicode.IsLetter) >= 0 }

func hasDigit(s string) bool { return strings.IndexFunc(s, unicode.IsDigit) >= 0 }

func isUpperToken(s string) bool {
	return len(s) > 1 && hasLetter(s) && strings.ToUpper(s) == s && !hasDigit(s)
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = "'" + s + "'"
	}
	return strings.Join(q, ", ")
}
