// Package address decides whether free-text delivery addresses are
// plausible enough for a courier to find.
package address

import (
	"context"
	"errors"
	"strings"
)

var ErrEmptyReply = errors.New("address: checker returned no verdict")

// Status is the outcome of an address check.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
	// StatusError means the checker could not run. It is never scored as a
	// rejection.
	StatusError Status = "ERROR"
)

// Verdict carries the status plus a normalized form (VALID), a reason
// (INVALID) or an unavailability note (ERROR).
type Verdict struct {
	Input      string `json:"input"`
	Status     Status `json:"status"`
	Normalized string `json:"normalizedAddress,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Checker    string `json:"checker"`
}

// Checker classifies a full address string.
type Checker interface {
	Check(ctx context.Context, fullAddress string) Verdict
}

// Parts is the structured address the checker input is built from.
type Parts struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Join builds the single-line address checked by a Checker: the non-blank
// parts in street, city, state, postal code, country order.
func (p Parts) Join() string {
	var out []string
	for _, s := range []string{p.Street, p.City, p.State, p.PostalCode, p.Country} {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}

// Fallback tries primary and uses secondary when primary reports ERROR.
type Fallback struct {
	Primary   Checker
	Secondary Checker
}

// Check implements Checker.
func (f Fallback) Check(ctx context.Context, fullAddress string) Verdict {
	v := f.Primary.Check(ctx, fullAddress)
	if v.Status != StatusError || f.Secondary == nil {
		return v
	}
	return f.Secondary.Check(ctx, fullAddress)
}
