package order

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "user_profile": {"full_name": "Ali Khan", "email": "ali@example.com", "phone": "0301-2345678", "country": "Pakistan", "user_id": 42},
  "order_details": {"order_id": "ORD-1001", "amount": 2500},
  "address": {"street": "House 11, Street 5, Gulberg III", "city": "Lahore", "state": "", "postal_code": "54660"},
  "ip_info": {"ip_city": "Lahore", "ip_region": "Punjab", "ip_country": "PK"},
  "history": {},
  "historical_context": {
    "same_person_orders": {"email": "ali@example.com", "orders_last_24h": 1, "orders_last_7d": 3, "minutes_since_last_order": 42},
    "duplicate_email_matches": [{"name": "Jane Doe", "email": "x@y.com", "phone": "+10000000000"}]
  }
}`

func TestFromPayload(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &p))

	c := FromPayload(p)
	assert.Equal(t, "ORD-1001", c.OrderID)
	assert.Equal(t, "42", c.Customer.UserID)
	assert.Equal(t, "Ali Khan", c.Customer.Name)
	assert.Equal(t, "0301-2345678", c.Customer.Phone)
	assert.Equal(t, "Pakistan", c.Customer.Country)
	assert.Equal(t, "Pakistan", c.Address.Country, "address country falls back to profile country")
	assert.Equal(t, "54660", c.Address.PostalCode)
	assert.Equal(t, "PK", c.IP.Country)

	require.NotNil(t, c.History)
	require.NotNil(t, c.History.SamePersonOrders.MinutesSinceLastOrder)
	assert.Equal(t, 42, *c.History.SamePersonOrders.MinutesSinceLastOrder)
	assert.NotNil(t, c.History.AddressHistory.OtherNamesAtThisAddress)
	assert.Empty(t, c.History.AddressHistory.OtherNamesAtThisAddress)
	assert.NotNil(t, c.History.DuplicatePhoneMatches)
	assert.Len(t, c.History.DuplicateEmailMatches, 1)
}

func TestFromPayload_NoHistory(t *testing.T) {
	c := FromPayload(Payload{UserProfile: map[string]any{"country": "India"}})
	assert.Nil(t, c.History)

	h := c.HistoryOrEmpty()
	assert.Nil(t, h.SamePersonOrders.MinutesSinceLastOrder)
	assert.NotNil(t, h.DuplicateEmailMatches)

	c2 := c.WithHistory(HistoricalContext{SamePersonOrders: SamePersonOrders{TotalPastOrders: 2}})
	require.NotNil(t, c2.History)
	assert.Equal(t, 2, c2.History.SamePersonOrders.TotalPastOrders)
	assert.Nil(t, c.History, "WithHistory must not modify the receiver")
}

func TestAddress_ExplicitState(t *testing.T) {
	for _, s := range []string{"", "  ", "unknown", "Unknown", "N/A", "none"} {
		assert.False(t, Address{State: s}.ExplicitState(), s)
	}
	assert.True(t, Address{State: "Punjab"}.ExplicitState())
}

func TestContext_Validate(t *testing.T) {
	c := Context{Customer: Customer{Email: "not-an-email"}}
	errs := c.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "user_profile.email", errs[0].Field)

	assert.Empty(t, Context{Customer: Customer{Email: "a@b.co"}}.Validate())
	assert.Empty(t, Context{}.Validate(), "email is optional")
}

func TestContext_TotalAmount(t *testing.T) {
	c := FromPayload(Payload{OrderDetails: map[string]any{"total_amount": 2500.5}})
	assert.Equal(t, 2500.5, c.TotalAmount())

	c = FromPayload(Payload{OrderDetails: map[string]any{"amount": " 99 "}})
	assert.Equal(t, 99.0, c.TotalAmount())

	assert.Zero(t, FromPayload(Payload{}).TotalAmount())
}
