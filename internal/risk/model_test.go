package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskguard/riskguard/internal/llm"
)

// chatServer answers every chat completion with content and records the
// prompt it was sent.
type chatServer struct {
	mu      sync.Mutex
	content string
	status  int
	prompt  string
	format  string
}

func (c *chatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []llm.Message `json:"messages"`
		Format   *struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.mu.Lock()
	if len(req.Messages) > 1 {
		c.prompt = req.Messages[1].Content
	}
	if req.Format != nil {
		c.format = req.Format.Type
	}
	c.mu.Unlock()

	if c.status != 0 {
		w.WriteHeader(c.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": c.content}}},
	})
}

func (c *chatServer) sent() (prompt, format string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt, c.format
}

// flagsReply builds a risk_flags document covering ids with the given
// rules triggered.
func flagsReply(ids []int, triggered ...int) string {
	on := map[int]bool{}
	for _, id := range triggered {
		on[id] = true
	}
	var parts []string
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(`{"rule_id":%d,"triggered":%t,"confidence":0.9,"explanation":" rule %d checked "}`, id, on[id], id))
	}
	return `{"risk_flags":[` + strings.Join(parts, ",") + `]}`
}

func allRuleIDs() []int {
	ids := make([]int, 0, 10)
	for id := RuleSpecificIdentity; id <= RuleAddressDetails; id++ {
		ids = append(ids, id)
	}
	return ids
}

func modelEvaluator(t *testing.T, cs *chatServer) *Evaluator {
	t.Helper()
	srv := httptest.NewServer(cs)
	t.Cleanup(srv.Close)
	rs := DefaultRuleSet()
	client := llm.NewClient(srv.URL, "test-key", time.Second)
	return NewEvaluator(rs, NewModelBackend(rs, client, "m", nil))
}

func TestModelBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("scores from the model's flags", func(t *testing.T) {
		cs := &chatServer{content: flagsReply(allRuleIDs(), RuleDuplicatePhone, RuleCityMismatch)}
		e := modelEvaluator(t, cs)
		assert.Equal(t, "model", e.Backend())

		a, err := e.Evaluate(ctx, cleanInput())
		require.NoError(t, err)
		assert.Equal(t, 10, a.RiskScore)
		assert.Equal(t, ActionManualReview, a.RecommendedAction)
		require.Len(t, a.RiskFlags, 10)
		assert.Equal(t, "City Name Mismatch", a.RiskFlags[RuleCityMismatch-1].RuleName)
		assert.Equal(t, "rule 8 checked", a.RiskFlags[RuleCityMismatch-1].Explanation)

		prompt, format := cs.sent()
		assert.Equal(t, "json_object", format)
		assert.Contains(t, prompt, "8. City Name Mismatch (weight 5)")
		assert.Contains(t, prompt, DefaultVelocityExpr)
		assert.Contains(t, prompt, `"order_id": "ORD-1001"`)
		assert.Contains(t, prompt, `"city_judgement"`)
	})

	t.Run("fenced reply is accepted", func(t *testing.T) {
		cs := &chatServer{content: "```json\n" + flagsReply(allRuleIDs()) + "\n```"}
		a, err := modelEvaluator(t, cs).Evaluate(ctx, cleanInput())
		require.NoError(t, err)
		assert.Zero(t, a.RiskScore)
		assert.Equal(t, ActionShip, a.RecommendedAction)
	})

	t.Run("informational rules add nothing", func(t *testing.T) {
		cs := &chatServer{content: flagsReply(allRuleIDs(), RuleSpecificIdentity, RuleCityVerification)}
		a, err := modelEvaluator(t, cs).Evaluate(ctx, cleanInput())
		require.NoError(t, err)
		assert.Zero(t, a.RiskScore)
	})

	failures := []struct {
		name string
		cs   *chatServer
	}{
		{"unreachable model", &chatServer{status: http.StatusServiceUnavailable}},
		{"malformed reply", &chatServer{content: "every rule passed"}},
		{"empty flags", &chatServer{content: `{"risk_flags":[]}`}},
		{"partial coverage", &chatServer{content: flagsReply(allRuleIDs()[:7])}},
		{"unknown rule", &chatServer{content: flagsReply(append(allRuleIDs(), 11))}},
		{"missing trigger", &chatServer{content: strings.Replace(flagsReply(allRuleIDs()), `"triggered":false,`, "", 1)}},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			a, err := modelEvaluator(t, tt.cs).Evaluate(ctx, cleanInput())
			assert.ErrorIs(t, err, ErrEvaluationFailure)
			assert.Nil(t, a)
		})
	}
}
