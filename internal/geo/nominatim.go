package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/riskguard/riskguard/internal/retry"
)

const (
	DefaultNominatimURL       = "https://nominatim.openstreetmap.org"
	DefaultNominatimUserAgent = "riskguard-fraud-detection/1.0"
)

// Nominatim is the secondary city provider. The public instance allows one
// request per second, so calls go through a shared limiter.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewNominatim creates a Nominatim client limited to rps requests per second.
func NewNominatim(baseURL, userAgent string, timeout time.Duration, rps float64) *Nominatim {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if userAgent == "" {
		userAgent = DefaultNominatimUserAgent
	}
	if rps <= 0 {
		rps = 1
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Name implements CityLookup.
func (n *Nominatim) Name() string { return "nominatim" }

type nominatimPlace struct {
	DisplayName string `json:"display_name"`
}

// LookupCity implements CityLookup.
func (n *Nominatim) LookupCity(ctx context.Context, city, countryName string) (CityMatch, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return CityMatch{}, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("city", city)
	q.Set("country", countryName)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return CityMatch{}, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	var places []nominatimPlace
	if err := doJSON(n.client, req, &places); err != nil {
		return CityMatch{}, err
	}
	if len(places) == 0 {
		return CityMatch{}, nil
	}
	return CityMatch{Found: true, DisplayName: places[0].DisplayName}, nil
}
