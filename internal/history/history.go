// Package history derives the historical context of an order from past
// orders: how fast the same email is ordering, who else ships to the same
// address, and which other identities share the email or phone.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/riskguard/riskguard/internal/order"
	"github.com/riskguard/riskguard/internal/validation"
)

var (
	ErrInvalidRecord = errors.New("history: order record requires an email")
	ErrNotFound      = errors.New("history: order not found")
)

// ActionPending marks a recorded order whose scoring has not finished.
const ActionPending = "pending"

// Velocity windows.
const (
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
)

// OrderRecord is one scored order as remembered for later lookups.
type OrderRecord struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"orderId"`
	UserID            string    `json:"userId,omitempty"`
	FullName          string    `json:"fullName"`
	Email             string    `json:"email"`
	Phone             string    `json:"phone"`
	Street            string    `json:"street"`
	City              string    `json:"city"`
	State             string    `json:"state"`
	PostalCode        string    `json:"postalCode"`
	Country           string    `json:"country"`
	TotalAmount       float64   `json:"totalAmount"`
	RiskScore         int       `json:"riskScore"`
	RecommendedAction string    `json:"recommendedAction"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Profile is a customer identity. The first order for a user creates it and
// later orders reuse it.
type Profile struct {
	UserID   string `json:"userId,omitempty"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Country  string `json:"country"`
}

// Key identifies the profile: the user ID, or the email for guest orders.
func (p Profile) Key() string {
	if p.UserID != "" {
		return "user:" + p.UserID
	}
	return "email:" + p.Email
}

// NewRecord builds the record for a scored order.
func NewRecord(id string, oc order.Context, at time.Time) *OrderRecord {
	return &OrderRecord{
		ID:          id,
		OrderID:     oc.OrderID,
		UserID:      oc.Customer.UserID,
		FullName:    strings.TrimSpace(oc.Customer.Name),
		Email:       validation.SanitizeEmail(oc.Customer.Email),
		Phone:       strings.TrimSpace(oc.Customer.Phone),
		Street:      strings.TrimSpace(oc.Address.Street),
		City:        strings.TrimSpace(oc.Address.City),
		State:       strings.TrimSpace(oc.Address.State),
		PostalCode:  strings.TrimSpace(oc.Address.PostalCode),
		Country:     strings.TrimSpace(oc.Address.Country),
		TotalAmount: oc.TotalAmount(),
		CreatedAt:   at,
	}
}

// ProfileOf returns the profile an order record implies.
func ProfileOf(r *OrderRecord) Profile {
	return Profile{UserID: r.UserID, FullName: r.FullName, Email: r.Email, Phone: r.Phone, Country: r.Country}
}

// CustomerHistory is one page of a customer's orders, newest first, with
// totals across all of them.
type CustomerHistory struct {
	Email       string         `json:"email"`
	TotalOrders int            `json:"totalOrders"`
	TotalSpent  float64        `json:"totalSpent"`
	Orders      []*OrderRecord `json:"orders"`
	NextCursor  string         `json:"nextCursor,omitempty"`
	HasMore     bool           `json:"hasMore"`
}

// Provider resolves the historical context for an order that is about to be
// scored. The order itself must not yet be recorded.
type Provider interface {
	Lookup(ctx context.Context, oc order.Context) (order.HistoricalContext, error)
}

// Recorder remembers orders. An order is recorded as soon as it is admitted
// for scoring so that concurrent orders count it; Complete fills in the
// outcome and Discard drops an order whose scoring failed.
type Recorder interface {
	Record(ctx context.Context, rec *OrderRecord) error
	Complete(ctx context.Context, id string, riskScore int, action string) error
	Discard(ctx context.Context, id string) error
}

// OrderPage is one page of every recorded order, newest first.
type OrderPage struct {
	Orders     []*OrderRecord `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

// Store is a Provider and Recorder that can also list and delete orders.
type Store interface {
	Provider
	Recorder
	CustomerOrders(ctx context.Context, email string, limit int, cursor string) (*CustomerHistory, error)
	ListOrders(ctx context.Context, limit int, cursor string) (*OrderPage, error)
	// DeleteOrder removes every record of an order and reports how many
	// were removed. Profiles left without orders go with them.
	DeleteOrder(ctx context.Context, orderID string) (int, error)
}

// Build derives the historical context of oc at time now from past orders
// and known profiles.
func Build(now time.Time, oc order.Context, orders []*OrderRecord, profiles []Profile) order.HistoricalContext {
	email := validation.SanitizeEmail(oc.Customer.Email)
	name := strings.TrimSpace(oc.Customer.Name)

	h := order.HistoricalContext{
		SamePersonOrders: sameEmailOrders(now, email, orders),
	}
	h.SamePersonOrders.FullName = name
	h.AddressHistory.OtherNamesAtThisAddress = otherNamesAt(oc.Address, email, orders)

	for _, p := range profiles {
		if email != "" && p.Email == email && p.UserID != oc.Customer.UserID && differentName(p.FullName, name) {
			h.DuplicateEmailMatches = append(h.DuplicateEmailMatches, matchOf(p))
		}
		phone := strings.TrimSpace(oc.Customer.Phone)
		if phone != "" && p.Phone == phone && p.Email != email && differentName(p.FullName, name) {
			h.DuplicatePhoneMatches = append(h.DuplicatePhoneMatches, matchOf(p))
		}
	}
	return h.Normalized()
}

func sameEmailOrders(now time.Time, email string, orders []*OrderRecord) order.SamePersonOrders {
	sp := order.SamePersonOrders{Email: email}
	if email == "" {
		return sp
	}
	var last time.Time
	for _, o := range orders {
		if o.Email != email {
			continue
		}
		sp.TotalPastOrders++
		if !o.CreatedAt.Before(now.Add(-Window24h)) {
			sp.OrdersLast24h++
		}
		if !o.CreatedAt.Before(now.Add(-Window7d)) {
			sp.OrdersLast7d++
		}
		if o.CreatedAt.After(last) {
			last = o.CreatedAt
		}
	}
	if sp.TotalPastOrders > 0 {
		ts := last
		minutes := MinutesBetween(last, now)
		sp.LastOrderTimestamp = &ts
		sp.MinutesSinceLastOrder = &minutes
	}
	return sp
}

func otherNamesAt(addr order.Address, email string, orders []*OrderRecord) []string {
	street := strings.TrimSpace(addr.Street)
	if street == "" {
		return nil
	}
	matching := make([]*OrderRecord, 0)
	for _, o := range orders {
		if o.Email != "" && o.Email != email &&
			strings.EqualFold(o.Street, street) &&
			strings.EqualFold(o.City, strings.TrimSpace(addr.City)) &&
			strings.EqualFold(o.PostalCode, strings.TrimSpace(addr.PostalCode)) {
			matching = append(matching, o)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].CreatedAt.Before(matching[j].CreatedAt) })

	var names []string
	seen := map[string]bool{}
	for _, o := range matching {
		entry := DescribeIdentity(o.FullName, o.Email)
		if !seen[entry] {
			seen[entry] = true
			names = append(names, entry)
		}
	}
	return names
}

// DescribeIdentity renders "Full Name (email)".
func DescribeIdentity(name, email string) string {
	return fmt.Sprintf("%s (%s)", strings.TrimSpace(name), email)
}

// MinutesBetween returns the whole minutes from then to now, rounded to the
// nearest minute.
func MinutesBetween(then, now time.Time) int {
	return int(math.Round(now.Sub(then).Minutes()))
}

func differentName(a, b string) bool {
	return !strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func matchOf(p Profile) order.IdentityMatch {
	return order.IdentityMatch{Name: p.FullName, Email: p.Email, Phone: p.Phone}
}
