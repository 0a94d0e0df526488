package phone

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/riskguard/riskguard/internal/llm"
)

// invalidReply is the exact sentinel the model is told to return.
const invalidReply = "Invalid phone number"

const e164Instructions = `You are a phone number validation and formatting assistant.
Only accept and output phone numbers in strict E.164 international format.

Rules:
1. A valid phone number starts with a single plus sign '+'.
2. After '+', it contains only digits.
3. The next 1 to 3 digits are a valid ITU country calling code.
4. National digits follow with no local trunk prefix (drop a leading 0).
5. Total digits (excluding '+') are between 2 and 15.
6. No spaces, hyphens, parentheses, letters or other symbols.
7. If the input cannot be formatted, respond exactly with: Invalid phone number

Output only the E.164 number (e.g. +14155552671) or the exact string: Invalid phone number`

// ModelNormalizer asks a chat-completion model for the E.164 form and falls
// back to Fallback when the model is unreachable or answers off-script.
type ModelNormalizer struct {
	client   llm.Completer
	model    string
	fallback Normalizer
	logger   *slog.Logger
}

// NewModelNormalizer creates a model-backed normalizer. A nil fallback means
// the raw input is passed through on failure.
func NewModelNormalizer(client llm.Completer, model string, fallback Normalizer, logger *slog.Logger) *ModelNormalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelNormalizer{client: client, model: model, fallback: fallback, logger: logger}
}

// Normalize implements Normalizer.
func (m *ModelNormalizer) Normalize(ctx context.Context, raw, claimedCountry string) Phone {
	reply, err := m.client.Complete(ctx, llm.Request{
		Model: m.model,
		Messages: []llm.Message{
			{Role: "system", Content: e164Instructions},
			{Role: "user", Content: fmt.Sprintf("Phone input: %s\nCountry: %s\nConvert to E.164 format following all rules above.", raw, claimedCountry)},
		},
		Temperature: 0,
		MaxTokens:   30,
	})
	if err != nil {
		m.logger.Warn("phone model unavailable, using fallback", "error", err)
		return m.fallbackFor(ctx, raw, claimedCountry)
	}

	switch {
	case reply == invalidReply:
		return Phone{Raw: raw, Reason: "model rejected the number"}
	case strings.HasPrefix(reply, "+") && allDigits(reply[1:]) && len(reply) > 1:
		return Phone{Raw: raw, E164: reply, OK: true}
	default:
		// Off-script answer; don't trust it.
		return m.fallbackFor(ctx, raw, claimedCountry)
	}
}

func (m *ModelNormalizer) fallbackFor(ctx context.Context, raw, claimedCountry string) Phone {
	if m.fallback == nil {
		return Phone{Raw: raw, Reason: "normalization unavailable"}
	}
	return m.fallback.Normalize(ctx, raw, claimedCountry)
}
