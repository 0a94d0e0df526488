package country

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		in   string
		iso2 string
		code string
	}{
		{"Pakistan", "PK", "92"},
		{" pakistan ", "PK", "92"},
		{"PK", "PK", "92"},
		{"USA", "US", "1"},
		{"Canada", "CA", "1"},
		{"UK", "GB", "44"},
		{"uae", "AE", "971"},
		{"Bangladesh", "BD", "880"},
		{"people's republic of china", "CN", "86"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, ok := Lookup(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.iso2, c.ISO2)
			assert.Equal(t, tt.code, c.CallingCode)
		})
	}

	_, ok := Lookup("Atlantis")
	assert.False(t, ok)
	_, ok = Lookup("")
	assert.False(t, ok)
}

func TestTableIsClosed(t *testing.T) {
	want := map[string]string{
		"Pakistan": "92", "India": "91", "United States": "1", "Canada": "1", "United Kingdom": "44",
		"Australia": "61", "United Arab Emirates": "971", "Saudi Arabia": "966", "Germany": "49",
		"France": "33", "Brazil": "55", "China": "86", "Nigeria": "234", "South Africa": "27",
		"Bangladesh": "880", "Italy": "39", "Japan": "81", "Turkey": "90", "Egypt": "20",
		"Argentina": "54", "Mexico": "52",
	}
	all := All()
	require.Len(t, all, len(want))
	for _, c := range all {
		assert.Equal(t, want[c.Name], c.CallingCode, c.Name)
	}
}

func TestSame(t *testing.T) {
	assert.True(t, Same("PK", "Pakistan"))
	assert.True(t, Same("United Kingdom", "england"))
	assert.False(t, Same("US", "Canada"))
	assert.True(t, Same("Narnia", " narnia"))
}

func TestMatchCallingCode(t *testing.T) {
	code, ok := MatchCallingCode("8801712345678")
	require.True(t, ok)
	assert.Equal(t, "880", code)

	code, ok = MatchCallingCode("923001234567")
	require.True(t, ok)
	assert.Equal(t, "92", code)

	_, ok = MatchCallingCode("999")
	assert.False(t, ok)

	assert.Len(t, ByCallingCode("1"), 2)
}
