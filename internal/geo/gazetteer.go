package geo

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/riskguard/riskguard/internal/country"
)

// Gazetteer is a curated, read-only table of major cities, postal code
// formats and state abbreviations for the supported countries. It is the
// last-resort knowledge source when providers return nothing.
type Gazetteer struct {
	cities   map[string][]string // normalized city -> ISO2 codes
	aliases  map[string]string   // normalized alias -> normalized canonical city
	postal   map[string]*regexp.Regexp
	states   map[string]map[string]string // ISO2 -> abbreviation -> full name
	maxWords int
}

var majorCities = map[string][]string{
	"PK": {"Karachi", "Lahore", "Islamabad", "Rawalpindi", "Faisalabad", "Multan", "Peshawar", "Quetta",
		"Sialkot", "Gujranwala", "Hyderabad", "Sargodha", "Bahawalpur", "Sukkur", "Abbottabad", "Mardan",
		"Larkana", "Sheikhupura", "Rahim Yar Khan", "Gujrat", "Sahiwal", "Okara", "Mirpur", "Muzaffarabad", "Gilgit"},
	"IN": {"Mumbai", "Delhi", "Bangalore", "Hyderabad", "Chennai", "Kolkata", "Pune",
		"Ahmedabad", "Jaipur", "Surat", "Lucknow", "Kanpur", "Nagpur", "Indore", "Bhopal", "Patna", "Chandigarh", "Amritsar"},
	"US": {"New York", "Los Angeles", "Chicago", "Houston", "Phoenix", "Philadelphia", "San Antonio", "San Diego",
		"Dallas", "San Jose", "Austin", "Seattle", "Denver", "Boston", "Miami", "Atlanta", "San Francisco",
		"Las Vegas", "Portland", "Detroit", "Springfield", "Columbus", "Birmingham"},
	"CA": {"Toronto", "Montreal", "Vancouver", "Calgary", "Edmonton", "Ottawa", "Winnipeg", "Quebec City",
		"Hamilton", "Halifax", "Victoria", "Mississauga", "Brampton"},
	"GB": {"London", "Manchester", "Birmingham", "Liverpool", "Leeds", "Glasgow", "Edinburgh", "Bristol",
		"Sheffield", "Cardiff", "Belfast", "Newcastle", "Nottingham", "Leicester", "Bradford"},
	"AU": {"Sydney", "Melbourne", "Brisbane", "Perth", "Adelaide", "Canberra", "Hobart", "Darwin", "Gold Coast", "Newcastle"},
	"AE": {"Dubai", "Abu Dhabi", "Sharjah", "Ajman", "Al Ain", "Ras Al Khaimah", "Fujairah"},
	"SA": {"Riyadh", "Jeddah", "Mecca", "Medina", "Dammam", "Khobar", "Taif", "Tabuk"},
	"DE": {"Berlin", "Hamburg", "Munich", "Cologne", "Frankfurt", "Stuttgart", "Dusseldorf", "Leipzig", "Dortmund", "Bremen"},
	"FR": {"Paris", "Marseille", "Lyon", "Toulouse", "Nantes", "Strasbourg", "Montpellier", "Bordeaux", "Lille"},
	"BR": {"Sao Paulo", "Rio de Janeiro", "Brasilia", "Salvador", "Fortaleza", "Belo Horizonte", "Manaus", "Curitiba", "Recife", "Porto Alegre"},
	"CN": {"Beijing", "Shanghai", "Guangzhou", "Shenzhen", "Chengdu", "Chongqing", "Tianjin", "Wuhan", "Hangzhou", "Nanjing", "Xian"},
	"NG": {"Lagos", "Abuja", "Kano", "Ibadan", "Port Harcourt", "Benin City", "Kaduna", "Enugu"},
	"ZA": {"Johannesburg", "Cape Town", "Durban", "Pretoria", "Port Elizabeth", "Bloemfontein", "Soweto"},
	"BD": {"Dhaka", "Chittagong", "Khulna", "Rajshahi", "Sylhet", "Barisal", "Rangpur", "Comilla"},
	"IT": {"Rome", "Milan", "Naples", "Turin", "Palermo", "Genoa", "Bologna", "Florence", "Venice"},
	"JP": {"Tokyo", "Osaka", "Yokohama", "Nagoya", "Sapporo", "Kobe", "Kyoto", "Fukuoka", "Hiroshima"},
	"TR": {"Istanbul", "Ankara", "Izmir", "Bursa", "Antalya", "Adana", "Konya"},
	"EG": {"Cairo", "Alexandria", "Giza", "Luxor", "Aswan", "Port Said", "Suez"},
	"AR": {"Buenos Aires", "Cordoba", "Rosario", "Mendoza", "La Plata", "Mar del Plata"},
	"MX": {"Mexico City", "Guadalajara", "Monterrey", "Puebla", "Tijuana", "Cancun", "Merida"},
}

var cityAliases = map[string]string{
	"bombay":     "mumbai",
	"calcutta":   "kolkata",
	"madras":     "chennai",
	"pindi":      "rawalpindi",
	"nyc":        "new york",
	"peking":     "beijing",
	"canton":     "guangzhou",
	"jiddah":     "jeddah",
	"munchen":    "munich",
	"koln":       "cologne",
	"roma":       "rome",
	"milano":     "milan",
	"cdmx":       "mexico city",
	"sao paolo":  "sao paulo",
	"new delhi":  "delhi",
	"bengaluru":  "bangalore",
	"makkah":     "mecca",
	"madinah":    "medina",
	"chattogram": "chittagong",
}

var postalFormats = map[string]string{
	"PK": `^\d{5}$`,
	"IN": `^[1-9]\d{5}$`,
	"US": `^\d{5}(-\d{4})?$`,
	"CA": `^[A-Za-z]\d[A-Za-z] ?\d[A-Za-z]\d$`,
	"GB": `^[A-Za-z]{1,2}\d[A-Za-z\d]? ?\d[A-Za-z]{2}$`,
	"AU": `^\d{4}$`,
	"AE": `^\d{5,6}$`,
	"SA": `^\d{5}(-\d{4})?$`,
	"DE": `^\d{5}$`,
	"FR": `^\d{5}$`,
	"BR": `^\d{5}-?\d{3}$`,
	"CN": `^\d{6}$`,
	"NG": `^\d{6}$`,
	"ZA": `^\d{4}$`,
	"BD": `^\d{4}$`,
	"IT": `^\d{5}$`,
	"JP": `^\d{3}-?\d{4}$`,
	"TR": `^\d{5}$`,
	"EG": `^\d{5}$`,
	"AR": `^([A-Za-z]\d{4}[A-Za-z]{3}|\d{4})$`,
	"MX": `^\d{5}$`,
}

var stateAbbreviations = map[string]map[string]string{
	"US": {
		"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas", "ca": "california",
		"co": "colorado", "ct": "connecticut", "de": "delaware", "fl": "florida", "ga": "georgia",
		"hi": "hawaii", "id": "idaho", "il": "illinois", "in": "indiana", "ia": "iowa",
		"ks": "kansas", "ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
		"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi", "mo": "missouri",
		"mt": "montana", "ne": "nebraska", "nv": "nevada", "nh": "new hampshire", "nj": "new jersey",
		"nm": "new mexico", "ny": "new york", "nc": "north carolina", "nd": "north dakota", "oh": "ohio",
		"ok": "oklahoma", "or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
		"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah", "vt": "vermont",
		"va": "virginia", "wa": "washington", "wv": "west virginia", "wi": "wisconsin", "wy": "wyoming",
		"dc": "district of columbia",
	},
	"CA": {
		"ab": "alberta", "bc": "british columbia", "mb": "manitoba", "nb": "new brunswick",
		"nl": "newfoundland and labrador", "ns": "nova scotia", "on": "ontario", "pe": "prince edward island",
		"qc": "quebec", "sk": "saskatchewan", "nt": "northwest territories", "nu": "nunavut", "yt": "yukon",
	},
	"PK": {
		"kp": "khyber pakhtunkhwa", "kpk": "khyber pakhtunkhwa", "ict": "islamabad capital territory",
		"ajk": "azad kashmir", "gb": "gilgit-baltistan",
	},
	"AU": {
		"nsw": "new south wales", "vic": "victoria", "qld": "queensland", "wa": "western australia",
		"sa": "south australia", "tas": "tasmania", "act": "australian capital territory", "nt": "northern territory",
	},
}

// NewGazetteer builds the default gazetteer.
func NewGazetteer() *Gazetteer {
	g := &Gazetteer{
		cities:  make(map[string][]string),
		aliases: make(map[string]string, len(cityAliases)),
		postal:  make(map[string]*regexp.Regexp, len(postalFormats)),
		states:  stateAbbreviations,
	}
	for iso, names := range majorCities {
		for _, name := range names {
			n := NormalizeName(name)
			g.cities[n] = append(g.cities[n], iso)
			if w := len(strings.Fields(n)); w > g.maxWords {
				g.maxWords = w
			}
		}
	}
	for _, isos := range g.cities {
		sort.Strings(isos)
	}
	for alias, canonical := range cityAliases {
		g.aliases[NormalizeName(alias)] = NormalizeName(canonical)
	}
	for iso, pattern := range postalFormats {
		g.postal[iso] = regexp.MustCompile(pattern)
	}
	return g
}

// CountriesOf returns the ISO2 codes of countries known to have a city
// with this name. Aliases resolve to their canonical city.
func (g *Gazetteer) CountriesOf(city string) []string {
	n := g.canonical(city)
	return g.cities[n]
}

// Knows reports whether the gazetteer lists city in the given country.
func (g *Gazetteer) Knows(city, countryName string) bool {
	c, ok := country.Lookup(countryName)
	if !ok {
		return false
	}
	for _, iso := range g.CountriesOf(city) {
		if iso == c.ISO2 {
			return true
		}
	}
	return false
}

// SameCity reports whether a and b name the same city after normalization
// and alias resolution.
func (g *Gazetteer) SameCity(a, b string) bool {
	ca, cb := g.canonical(a), g.canonical(b)
	return ca != "" && ca == cb
}

// PostalFormatKnown reports whether a postal format is on file for country.
func (g *Gazetteer) PostalFormatKnown(countryName string) bool {
	c, ok := country.Lookup(countryName)
	if !ok {
		return false
	}
	_, ok = g.postal[c.ISO2]
	return ok
}

// PostalFormatValid reports whether code matches the country's postal
// format. Countries without a known format accept any code.
func (g *Gazetteer) PostalFormatValid(code, countryName string) bool {
	c, ok := country.Lookup(countryName)
	if !ok {
		return true
	}
	re, ok := g.postal[c.ISO2]
	if !ok {
		return true
	}
	return re.MatchString(strings.TrimSpace(code))
}

// SameState compares a caller-supplied state with a provider's state,
// expanding known abbreviations for the country.
func (g *Gazetteer) SameState(a, b, countryName string) bool {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	if c, ok := country.Lookup(countryName); ok {
		if abbr, ok := g.states[c.ISO2]; ok {
			if full, ok := abbr[na]; ok {
				na = full
			}
			if full, ok := abbr[nb]; ok {
				nb = full
			}
		}
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

// CitiesIn returns every known city named in free text, as normalized
// canonical names, longest match first at each position.
func (g *Gazetteer) CitiesIn(text string) []string {
	words := strings.Fields(NormalizeName(text))
	var found []string
	seen := map[string]bool{}
	for i := 0; i < len(words); {
		matched := 0
		for n := min(g.maxWords, len(words)-i); n >= 1; n-- {
			candidate := g.canonical(strings.Join(words[i:i+n], " "))
			if _, ok := g.cities[candidate]; ok {
				if !seen[candidate] {
					seen[candidate] = true
					found = append(found, candidate)
				}
				matched = n
				break
			}
		}
		if matched == 0 {
			matched = 1
		}
		i += matched
	}
	return found
}

func (g *Gazetteer) canonical(name string) string {
	n := NormalizeName(name)
	if c, ok := g.aliases[n]; ok {
		return c
	}
	return n
}

// NormalizeName lowercases s, folds common Latin accents, turns punctuation
// into spaces and collapses whitespace.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if f, ok := accentFold[r]; ok {
			r = f
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
			// drop apostrophes so "xi'an" matches "xian"
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var accentFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n',
}
