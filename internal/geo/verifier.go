package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/riskguard/riskguard/internal/circuitbreaker"
	"github.com/riskguard/riskguard/internal/retry"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
)

// Options configures a Verifier. Providers left nil are treated as
// unavailable.
type Options struct {
	Primary   CityLookup
	Secondary CityLookup
	Postal    PostalLookup

	Breaker *circuitbreaker.Breaker
	Cache   *Cache
	Logger  *slog.Logger

	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
}

// Verifier runs city and postal checks against the configured providers.
// It never returns an error: every failure becomes an ERROR result.
type Verifier struct {
	primary   CityLookup
	secondary CityLookup
	postal    PostalLookup

	breaker *circuitbreaker.Breaker
	cache   *Cache
	logger  *slog.Logger

	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) *Verifier {
	v := &Verifier{
		primary:     opts.Primary,
		secondary:   opts.Secondary,
		postal:      opts.Postal,
		breaker:     opts.Breaker,
		cache:       opts.Cache,
		logger:      opts.Logger,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
	}
	if v.breaker == nil {
		v.breaker = circuitbreaker.New(5, 30*time.Second)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	if v.timeout <= 0 {
		v.timeout = DefaultTimeout
	}
	if v.maxAttempts <= 0 {
		v.maxAttempts = DefaultMaxAttempts
	}
	if v.baseDelay <= 0 {
		v.baseDelay = DefaultBaseDelay
	}
	return v
}

// Breaker exposes the provider circuit breaker for health reporting.
func (v *Verifier) Breaker() *circuitbreaker.Breaker { return v.breaker }

// Providers returns the names of configured providers.
func (v *Verifier) Providers() []string {
	var names []string
	seen := map[string]bool{}
	for _, p := range []interface{ Name() string }{v.primary, v.secondary, v.postal} {
		if isNil(p) || seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		names = append(names, p.Name())
	}
	return names
}

// VerifyCity checks that city exists in country. The primary provider is
// asked first; the secondary is asked when the primary is empty or fails.
func (v *Verifier) VerifyCity(ctx context.Context, city, country string) Result {
	city = strings.TrimSpace(city)
	if city == "" {
		return v.observe(Result{Check: CheckCity, Status: StatusNotFound, Detail: "no city supplied"})
	}

	key := cacheKey(CheckCity, city, country)
	if r, ok := v.cache.Get(key); ok {
		cacheHits.WithLabelValues(string(CheckCity)).Inc()
		return v.observe(r)
	}

	var (
		answered bool
		failures []string
	)

	for _, step := range []struct {
		lookup CityLookup
		source string
	}{
		{v.primary, SourcePrimary},
		{v.secondary, SourceSecondary},
	} {
		if isNil(step.lookup) {
			continue
		}
		var match CityMatch
		err := v.call(ctx, step.lookup.Name(), func(ctx context.Context) error {
			var err error
			match, err = step.lookup.LookupCity(ctx, city, country)
			return err
		})
		if err != nil {
			v.logger.Warn("city lookup failed",
				"provider", step.lookup.Name(), "city", city, "country", country, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", step.lookup.Name(), err))
			continue
		}
		answered = true
		if match.Found {
			detail := fmt.Sprintf("%s found in %s by %s", city, country, step.lookup.Name())
			if match.DisplayName != "" {
				detail = match.DisplayName
			}
			r := Result{
				Check:    CheckCity,
				Status:   StatusVerified,
				Source:   step.source,
				Provider: step.lookup.Name(),
				Detail:   detail,
			}
			v.cache.Set(key, r)
			return v.observe(r)
		}
	}

	var r Result
	switch {
	case answered:
		r = Result{Check: CheckCity, Status: StatusNotFound, Detail: fmt.Sprintf("%s not found in %s by any provider", city, country)}
		v.cache.Set(key, r)
	case len(failures) == 0:
		r = Result{Check: CheckCity, Status: StatusError, Detail: ErrNoProvider.Error()}
	default:
		r = Result{Check: CheckCity, Status: StatusError, Detail: strings.Join(failures, "; ")}
	}
	return v.observe(r)
}

// VerifyPostal resolves code within country. A blank code is SKIPPED.
func (v *Verifier) VerifyPostal(ctx context.Context, code, country string) Result {
	code = strings.TrimSpace(code)
	if code == "" {
		return v.observe(Result{Check: CheckPostal, Status: StatusSkipped, Detail: "no postal code supplied"})
	}
	if isNil(v.postal) {
		return v.observe(Result{Check: CheckPostal, Status: StatusError, Detail: ErrNoProvider.Error()})
	}

	key := cacheKey(CheckPostal, code, country)
	if r, ok := v.cache.Get(key); ok {
		cacheHits.WithLabelValues(string(CheckPostal)).Inc()
		return v.observe(r)
	}

	var match *PostalMatch
	err := v.call(ctx, v.postal.Name(), func(ctx context.Context) error {
		var err error
		match, err = v.postal.LookupPostal(ctx, code, country)
		return err
	})
	if err != nil {
		v.logger.Warn("postal lookup failed",
			"provider", v.postal.Name(), "postal_code", code, "country", country, "error", err)
		return v.observe(Result{Check: CheckPostal, Status: StatusError, Provider: v.postal.Name(), Detail: err.Error()})
	}

	var r Result
	if match == nil {
		r = Result{
			Check:    CheckPostal,
			Status:   StatusNotFound,
			Provider: v.postal.Name(),
			Detail:   fmt.Sprintf("postal code %s not found for %s", code, country),
		}
	} else {
		r = Result{
			Check:    CheckPostal,
			Status:   StatusVerified,
			Source:   SourcePrimary,
			Provider: v.postal.Name(),
			Detail:   fmt.Sprintf("%s, %s, %s", match.City, match.State, match.CountryCode),
			Match:    match,
		}
	}
	v.cache.Set(key, r)
	return v.observe(r)
}

// call runs fn with a per-attempt timeout, bounded retries and the
// provider's circuit breaker.
func (v *Verifier) call(ctx context.Context, provider string, fn func(context.Context) error) error {
	start := time.Now()
	err := retry.Do(ctx, v.maxAttempts, v.baseDelay, func() error {
		err := v.breaker.Do(provider, func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, v.timeout)
			defer cancel()
			return fn(attemptCtx)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerDuration.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
	return err
}

func (v *Verifier) observe(r Result) Result {
	lookupsTotal.WithLabelValues(string(r.Check), string(r.Status)).Inc()
	return r
}

// isNil catches typed-nil providers stored in interface fields.
func isNil(p interface{ Name() string }) bool {
	if p == nil {
		return true
	}
	switch t := p.(type) {
	case *ZipcodeStack:
		return t == nil
	case *Nominatim:
		return t == nil
	}
	return false
}
