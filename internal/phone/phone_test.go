package phone

import (
	"context"
	"errors"
	"testing"

	"github.com/riskguard/riskguard/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToE164(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
		wantErr error
	}{
		{"pakistan local with trunk zero", "03012345678", "Pakistan", "+923012345678", nil},
		{"separators stripped", "0301-234 5678", "pakistan", "+923012345678", nil},
		{"double zero trunk", "00301234567", "PK", "+92301234567", nil},
		{"plus prefix trusted", "+44 7911-123 456", "Pakistan", "+447911123456", nil},
		{"parentheses and dots", "(415) 555.2671", "USA", "+14155552671", nil},
		{"short plus number kept", "+9233", "Pakistan", "+9233", nil},
		{"unknown country", "03012345678", "Atlantis", "", ErrUnknownCountry},
		{"letters rejected", "0300-CALL-ME", "Pakistan", "", ErrInvalidChars},
		{"plus then letters", "+92abc", "Pakistan", "", ErrInvalidChars},
		{"empty", "   ", "Pakistan", "", ErrEmpty},
		{"only trunk", "0", "India", "", ErrNoNationalDigit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToE164(tt.raw, tt.country)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableNormalizer_FailureKeepsRaw(t *testing.T) {
	p := NewTableNormalizer().Normalize(context.Background(), "0300 1234567", "Narnia")
	assert.False(t, p.OK)
	assert.Equal(t, "0300 1234567", p.Value())
	assert.NotEmpty(t, p.Reason)
}

func TestCheckStructure(t *testing.T) {
	tests := []struct {
		name  string
		e164  string
		valid bool
	}{
		{"pakistan mobile", "+923012345678", true},
		{"pakistan too short", "+9233", false},
		{"pakistan wrong leading digit", "+924212345678", false},
		{"india mobile", "+919812345678", true},
		{"india leading 5", "+915812345678", false},
		{"uk mobile", "+447911123456", true},
		{"uk landline leading 2", "+442071234567", false},
		{"us any leading digit", "+12125550100", true},
		{"australia mobile", "+61412345678", true},
		{"uae mobile", "+971501234567", true},
		{"saudi wrong length", "+96650123456", false},
		{"bangladesh mobile", "+8801712345678", true},
		{"china mobile", "+8613812345678", true},
		{"china below 130", "+8612812345678", false},
		{"brazil 11 digits", "+5511912345678", true},
		{"brazil 10 digits", "+551133334444", true},
		{"south africa", "+27821234567", true},
		{"nigeria", "+2348031234567", true},
		{"germany length only", "+4915112345678", true},
		{"over fifteen digits", "+9230123456789012", false},
		{"unlisted code", "+3531234567", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := CheckStructure(Phone{Raw: tt.e164, E164: tt.e164, OK: true})
			assert.Equal(t, tt.valid, st.Valid, st.Explanation)
			assert.NotEmpty(t, st.Explanation)
		})
	}
}

func TestCheckStructure_PakistanScenario(t *testing.T) {
	p := NewTableNormalizer().Normalize(context.Background(), "03012345678", "Pakistan")
	require.True(t, p.OK)
	assert.Equal(t, "+923012345678", p.E164)

	st := CheckStructure(p)
	assert.True(t, st.Valid)
	assert.Equal(t, "3012345678", st.National)
	assert.Contains(t, st.Explanation, "Pakistan (code +92)")
}

func TestCheckStructure_ShortPakistanNumber(t *testing.T) {
	p := NewTableNormalizer().Normalize(context.Background(), "+9233", "Pakistan")
	st := CheckStructure(p)
	assert.False(t, st.Valid)
	assert.Contains(t, st.Explanation, "exactly 10 digits")
	assert.Contains(t, st.Explanation, "2 found")
}

func TestCheckStructure_Unparseable(t *testing.T) {
	st := CheckStructure(Phone{Raw: "garbage"})
	assert.False(t, st.Valid)
	assert.Equal(t, "Input phone number is invalid or ambiguous.", st.Explanation)
}

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(context.Context, llm.Request) (string, error) {
	return f.reply, f.err
}

func TestModelNormalizer(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts e164 reply", func(t *testing.T) {
		m := NewModelNormalizer(&fakeCompleter{reply: "+923012345678"}, "m", NewTableNormalizer(), nil)
		p := m.Normalize(ctx, "0301 2345678", "Pakistan")
		assert.True(t, p.OK)
		assert.Equal(t, "+923012345678", p.E164)
	})

	t.Run("invalid sentinel is unparseable", func(t *testing.T) {
		m := NewModelNormalizer(&fakeCompleter{reply: "Invalid phone number"}, "m", NewTableNormalizer(), nil)
		p := m.Normalize(ctx, "12", "Pakistan")
		assert.False(t, p.OK)
		assert.Equal(t, "12", p.Value())
	})

	t.Run("chatty reply falls back to table", func(t *testing.T) {
		m := NewModelNormalizer(&fakeCompleter{reply: "Sure! The number is +92..."}, "m", NewTableNormalizer(), nil)
		p := m.Normalize(ctx, "03012345678", "Pakistan")
		assert.True(t, p.OK)
		assert.Equal(t, "+923012345678", p.E164)
	})

	t.Run("upstream error without fallback keeps raw", func(t *testing.T) {
		m := NewModelNormalizer(&fakeCompleter{err: errors.New("boom")}, "m", nil, nil)
		p := m.Normalize(ctx, "0301 2345678", "Pakistan")
		assert.False(t, p.OK)
		assert.Equal(t, "0301 2345678", p.Value())
	})
}
