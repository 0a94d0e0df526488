// Package order holds the scoring request: the open-ended payload the caller
// sends and the typed, read-only snapshot the scoring pipeline works from.
package order

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/riskguard/riskguard/internal/validation"
)

// Payload is the inbound JSON body. Every section except
// historical_context is required but free-form.
type Payload struct {
	UserProfile       map[string]any     `json:"user_profile" binding:"required"`
	OrderDetails      map[string]any     `json:"order_details" binding:"required"`
	Address           map[string]any     `json:"address" binding:"required"`
	IPInfo            map[string]any     `json:"ip_info" binding:"required"`
	History           map[string]any     `json:"history" binding:"required"`
	HistoricalContext *HistoricalContext `json:"historical_context,omitempty"`
}

// HistoricalContext is what the order database knows about this customer,
// address and contact details.
type HistoricalContext struct {
	SamePersonOrders      SamePersonOrders `json:"same_person_orders"`
	AddressHistory        AddressHistory   `json:"address_history"`
	DuplicateEmailMatches []IdentityMatch  `json:"duplicate_email_matches"`
	DuplicatePhoneMatches []IdentityMatch  `json:"duplicate_phone_matches"`
}

// SamePersonOrders summarizes earlier orders placed with the same email.
type SamePersonOrders struct {
	Email                 string     `json:"email"`
	FullName              string     `json:"full_name"`
	TotalPastOrders       int        `json:"total_past_orders"`
	OrdersLast24h         int        `json:"orders_last_24h"`
	OrdersLast7d          int        `json:"orders_last_7d"`
	LastOrderTimestamp    *time.Time `json:"last_order_timestamp"`
	MinutesSinceLastOrder *int       `json:"minutes_since_last_order"` // nil on a first order
}

// AddressHistory lists other customers who ordered to the same address.
type AddressHistory struct {
	OtherNamesAtThisAddress []string `json:"other_names_at_this_address"`
}

// IdentityMatch is another profile sharing an email or phone.
type IdentityMatch struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Normalized returns a copy whose match lists are empty rather than nil.
func (h HistoricalContext) Normalized() HistoricalContext {
	if h.AddressHistory.OtherNamesAtThisAddress == nil {
		h.AddressHistory.OtherNamesAtThisAddress = []string{}
	}
	if h.DuplicateEmailMatches == nil {
		h.DuplicateEmailMatches = []IdentityMatch{}
	}
	if h.DuplicatePhoneMatches == nil {
		h.DuplicatePhoneMatches = []IdentityMatch{}
	}
	return h
}

// Customer is the typed view of user_profile.
type Customer struct {
	UserID  string `json:"userId,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Country string `json:"country"`
}

// Address is the typed view of the delivery address.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// IPInfo is the typed view of ip_info.
type IPInfo struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

// Context is the immutable snapshot of one scoring request.
type Context struct {
	OrderID  string
	Customer Customer
	Address  Address
	IP       IPInfo
	Payload  Payload
	// History is nil when the caller sent no historical_context.
	History *HistoricalContext
}

// FromPayload builds a Context. The claimed country is the profile's
// country, falling back to the address country.
func FromPayload(p Payload) Context {
	c := Context{
		OrderID: firstString(p.OrderDetails, "order_id", "orderId", "id"),
		Customer: Customer{
			UserID: firstString(p.UserProfile, "user_id", "userId", "id"),
			Name:   firstString(p.UserProfile, "full_name", "fullName", "name"),
			Email:  firstString(p.UserProfile, "email"),
			Phone:  firstString(p.UserProfile, "phone", "phone_number"),
		},
		Address: Address{
			Street:     firstString(p.Address, "street", "address", "delivery_address"),
			City:       firstString(p.Address, "city"),
			State:      firstString(p.Address, "state", "province"),
			PostalCode: firstString(p.Address, "postal_code", "postalCode", "zip"),
			Country:    firstString(p.Address, "country"),
		},
		IP: IPInfo{
			City:    firstString(p.IPInfo, "ip_city"),
			Region:  firstString(p.IPInfo, "ip_region"),
			Country: firstString(p.IPInfo, "ip_country"),
		},
		Payload: p,
	}

	c.Customer.Country = firstString(p.UserProfile, "country")
	if c.Customer.Country == "" {
		c.Customer.Country = c.Address.Country
	}
	if c.Address.Country == "" {
		c.Address.Country = c.Customer.Country
	}

	if p.HistoricalContext != nil {
		h := p.HistoricalContext.Normalized()
		c.History = &h
	}
	return c
}

// WithHistory returns a copy of c carrying h.
func (c Context) WithHistory(h HistoricalContext) Context {
	h = h.Normalized()
	c.History = &h
	return c
}

// HistoryOrEmpty returns the attached history or an empty one.
func (c Context) HistoryOrEmpty() HistoricalContext {
	if c.History == nil {
		return HistoricalContext{}.Normalized()
	}
	return *c.History
}

// TotalAmount returns order_details.total_amount (or amount), 0 when absent
// or not numeric.
func (c Context) TotalAmount() float64 {
	for _, k := range []string{"total_amount", "totalAmount", "amount"} {
		switch v := c.Payload.OrderDetails[k].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// ExplicitState reports whether the caller supplied a real state value.
// Blank and "unknown"-style placeholders do not count.
func (a Address) ExplicitState() bool {
	switch strings.ToLower(strings.TrimSpace(a.State)) {
	case "", "unknown", "none", "null", "n/a", "na", "-":
		return false
	}
	return true
}

// Validate checks the identity fields the pipeline depends on.
func (c Context) Validate() validation.ValidationErrors {
	return validation.Validate(
		validation.MaxLength("user_profile.email", c.Customer.Email, 320),
		validation.ValidEmail("user_profile.email", c.Customer.Email),
		validation.MaxLength("user_profile.phone", c.Customer.Phone, 64),
		validation.MaxLength("address.street", c.Address.Street, 1000),
		validation.MaxLength("address.city", c.Address.City, 200),
		validation.ValidOrderID("order_details.order_id", c.OrderID),
	)
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return validation.SanitizeString(t, validation.MaxStringLength)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
