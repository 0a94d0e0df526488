package address

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/riskguard/riskguard/internal/llm"
)

const validationInstructions = `You are a global delivery address validation expert.

Decide whether the input text is a plausible, real-world delivery address that a local courier could find.

Rules:
1. A valid address has enough structure for its region: street or house number, street, area/block/town where that region uses them, and a city.
2. Do NOT reject for a missing customer name, state/province or postal code.
3. Reject (INVALID) any input with random characters or keyboard mashes (e.g. 'asdfgh').
4. Reject irrelevant tokens mixed into the address: unnaturally long numbers, decimal numbers, stray symbols.
5. A single minor typo is acceptable; multiple garbled words are INVALID.

Respond ONLY with a JSON object:
{"input": "original input text", "status": "VALID" or "INVALID", "normalized_address": "standardized address without the customer name", "reason": "why it was rejected, empty when VALID"}`

type modelReply struct {
	Input             string `json:"input"`
	Status            string `json:"status"`
	NormalizedAddress string `json:"normalized_address"`
	Reason            string `json:"reason"`
}

// ModelChecker asks a chat-completion model for a verdict. Any failure to
// reach or parse the model is an ERROR verdict, never a rejection.
type ModelChecker struct {
	client llm.Completer
	model  string
	logger *slog.Logger
}

// NewModelChecker creates a model-backed checker.
func NewModelChecker(client llm.Completer, model string, logger *slog.Logger) *ModelChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelChecker{client: client, model: model, logger: logger}
}

// Check implements Checker.
func (m *ModelChecker) Check(ctx context.Context, fullAddress string) Verdict {
	v := Verdict{Input: fullAddress, Checker: "model"}

	raw, err := m.client.Complete(ctx, llm.Request{
		Model: m.model,
		Messages: []llm.Message{
			{Role: "system", Content: validationInstructions},
			{Role: "user", Content: fullAddress},
		},
		Temperature: 0,
		MaxTokens:   250,
		JSON:        true,
	})
	if err != nil {
		m.logger.Warn("address model unavailable", "error", err)
		v.Status = StatusError
		v.Reason = fmt.Sprintf("address validation unavailable: %v", err)
		return v
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(llm.StripFences(raw)), &reply); err != nil {
		m.logger.Warn("address model returned malformed JSON", "error", err)
		v.Status = StatusError
		v.Reason = fmt.Sprintf("address validation returned malformed output: %v", err)
		return v
	}

	switch strings.ToUpper(strings.TrimSpace(reply.Status)) {
	case string(StatusValid):
		v.Status = StatusValid
		v.Normalized = reply.NormalizedAddress
		if v.Normalized == "" {
			v.Normalized = Normalize(fullAddress)
		}
	case string(StatusInvalid):
		v.Status = StatusInvalid
		v.Reason = reply.Reason
		if v.Reason == "" {
			v.Reason = "Address could not be validated."
		}
	default:
		v.Status = StatusError
		v.Reason = fmt.Sprintf("%v: status %q", ErrEmptyReply, reply.Status)
	}
	return v
}
