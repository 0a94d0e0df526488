package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/riskguard/riskguard/internal/country"
	"github.com/riskguard/riskguard/internal/retry"
)

const (
	DefaultZipcodeStackURL = "https://api.zipcodestack.com/v1"

	maxResponseSize = 1 << 20
)

// ZipcodeStack is the primary city and postal provider.
type ZipcodeStack struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewZipcodeStack creates a ZipcodeStack client. The per-call deadline comes
// from the caller's context; timeout is a transport-level ceiling.
func NewZipcodeStack(baseURL, apiKey string, timeout time.Duration) *ZipcodeStack {
	if baseURL == "" {
		baseURL = DefaultZipcodeStackURL
	}
	return &ZipcodeStack{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements CityLookup and PostalLookup.
func (z *ZipcodeStack) Name() string { return "zipcodestack" }

type zipPostalEntry struct {
	PostalCode  string `json:"postal_code"`
	City        string `json:"city"`
	State       string `json:"state"`
	CountryCode string `json:"country_code"`
}

type zipSearchResponse struct {
	Results json.RawMessage `json:"results"`
}

// LookupCity implements CityLookup.
func (z *ZipcodeStack) LookupCity(ctx context.Context, city, countryName string) (CityMatch, error) {
	q := url.Values{}
	q.Set("city", city)
	q.Set("country", isoOrRaw(countryName))

	var resp zipSearchResponse
	if err := z.get(ctx, q, &resp); err != nil {
		return CityMatch{}, err
	}
	return CityMatch{Found: nonEmptyJSON(resp.Results)}, nil
}

// LookupPostal implements PostalLookup.
func (z *ZipcodeStack) LookupPostal(ctx context.Context, code, countryName string) (*PostalMatch, error) {
	q := url.Values{}
	q.Set("codes", code)
	q.Set("country", isoOrRaw(countryName))

	var resp zipSearchResponse
	if err := z.get(ctx, q, &resp); err != nil {
		return nil, err
	}

	// "results" is an object keyed by code when there are hits and an empty
	// array when there are none.
	trimmed := bytes.TrimSpace(resp.Results)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	var byCode map[string][]zipPostalEntry
	if err := json.Unmarshal(trimmed, &byCode); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	entries := byCode[code]
	if len(entries) == 0 {
		return nil, nil
	}
	e := entries[0]
	return &PostalMatch{City: e.City, State: e.State, CountryCode: e.CountryCode}, nil
}

func (z *ZipcodeStack) get(ctx context.Context, q url.Values, out any) error {
	q.Set("apikey", z.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(z.client, req, out)
}

// doJSON executes req and decodes a 200 body into out. Statuses retry
// cannot fix are marked permanent so the verifier gives up immediately.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: HTTP %d", ErrProviderStatus, resp.StatusCode)
		if !retry.RetryableStatus(resp.StatusCode) {
			return retry.Permanent(err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("%w: %v", ErrDecode, err))
	}
	return nil
}

func nonEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		return json.Unmarshal(trimmed, &arr) == nil && len(arr) > 0
	case '{':
		var obj map[string]json.RawMessage
		return json.Unmarshal(trimmed, &obj) == nil && len(obj) > 0
	default:
		return false
	}
}

func isoOrRaw(name string) string {
	if c, ok := country.Lookup(name); ok {
		return c.ISO2
	}
	return name
}
