package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"nof0-api/pkg/llm"
)

// fakeLLM returns a fixed chat completion whose content the DecisionValidator
// (parser.go) must extract and classify.
type fakeLLM struct {
	content string
	err     error
}

func (f *fakeLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: f.content}}},
	}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	return nil, nil
}

func (f *fakeLLM) ChatStructured(_ context.Context, _ *llm.ChatRequest, target interface{}) (interface{}, error) {
	return nil, nil
}

func (f *fakeLLM) GetConfig() *llm.Config { return &llm.Config{} }
func (f *fakeLLM) Close() error           { return nil }

const validDecisionJSON = `{
  "signal":"buy_to_enter",
  "symbol":"BTC",
  "leverage":5,
  "position_size_usd":200,
  "entry_price":100,
  "stop_loss":95,
  "take_profit":115,
  "risk_usd":10,
  "confidence":90,
  "invalidation_condition":"below EMA20",
  "reasoning":"clear uptrend"
}`

func newTestConfig() *Config {
	return &Config{
		MajorCoinLeverage:      20,
		AltcoinLeverage:        10,
		MinConfidence:          75,
		MinRiskReward:          3.0,
		MaxPositions:           4,
		DecisionIntervalRaw:    "3m",
		DecisionTimeoutRaw:     "60s",
		DecisionTimeout:        60 * time.Second,
		MaxConcurrentDecisions: 1,
	}
}

func TestExecutor_GetFullDecision(t *testing.T) {
	cfg := newTestConfig()
	client := &fakeLLM{content: validDecisionJSON}
	templatePath := filepath.Join("..", "..", "etc", "prompts", "executor", "default_prompt.tmpl")

	exec, err := NewExecutor(cfg, client, templatePath, "")
	assert.NoError(t, err, "NewExecutor should not error")
	assert.NotNil(t, exec, "executor should not be nil")

	ctx := &Context{CurrentTime: "2025-01-01T00:00:00Z"}
	out, err := exec.GetFullDecision(ctx)
	assert.NoError(t, err, "GetFullDecision should not error")
	assert.NotNil(t, out, "decision output should not be nil")
	assert.Equal(t, ParseStatusOK, out.ParseStatus)
	assert.Equal(t, "primary", out.ModelUsed)
	assert.Len(t, out.Decisions, 1, "should have exactly one decision")

	d := out.Decisions[0]
	assert.Equal(t, "open_long", d.Action, "action should be open_long")
	assert.Equal(t, "BTC", d.Symbol, "symbol should be BTC")
	assert.GreaterOrEqual(t, d.Confidence, 75, "confidence should be >= 75")
	assert.NotEmpty(t, out.UserPrompt, "UserPrompt should be populated")
}

// TestExecutor_GetFullDecision_Malformed exercises spec.md §8's testable
// property: non-JSON model text yields parse_status=MALFORMED, zero actions.
func TestExecutor_GetFullDecision_Malformed(t *testing.T) {
	cfg := newTestConfig()
	client := &fakeLLM{content: "sure, here's my analysis: the market looks bullish today."}
	templatePath := filepath.Join("..", "..", "etc", "prompts", "executor", "default_prompt.tmpl")

	exec, err := NewExecutor(cfg, client, templatePath, "")
	assert.NoError(t, err)

	out, err := exec.GetFullDecision(&Context{CurrentTime: "2025-01-01T00:00:00Z"})
	assert.NoError(t, err)
	assert.Equal(t, ParseStatusMalformed, out.ParseStatus)
	assert.Empty(t, out.Decisions)
}

// multiModelLLM fails every call routed to the primary alias and succeeds on
// the fallback alias, exercising the fallback-model path (spec.md §4.3 step 3).
type multiModelLLM struct {
	content string
}

func (m *multiModelLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Model == "fallback-model" {
		return &llm.ChatResponse{Choices: []llm.Choice{{Message: llm.Message{Content: m.content}}}}, nil
	}
	return nil, assertError("primary model unavailable")
}
func (m *multiModelLLM) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	return nil, nil
}
func (m *multiModelLLM) ChatStructured(_ context.Context, _ *llm.ChatRequest, target interface{}) (interface{}, error) {
	return nil, nil
}
func (m *multiModelLLM) GetConfig() *llm.Config { return &llm.Config{} }
func (m *multiModelLLM) Close() error           { return nil }

func TestExecutor_GetFullDecision_FallbackRouting(t *testing.T) {
	cfg := newTestConfig()
	client := &multiModelLLM{content: validDecisionJSON}
	templatePath := filepath.Join("..", "..", "etc", "prompts", "executor", "default_prompt.tmpl")

	exec, err := NewExecutor(cfg, client, templatePath, "primary-model", WithFallbackModel("fallback-model"))
	assert.NoError(t, err)

	out, err := exec.GetFullDecision(&Context{CurrentTime: "2025-01-01T00:00:00Z"})
	assert.NoError(t, err)
	assert.Equal(t, "fallback", out.ModelUsed)
	assert.Equal(t, ParseStatusOK, out.ParseStatus)
}

type assertErrorType string

func (e assertErrorType) Error() string { return string(e) }

func assertError(msg string) error { return assertErrorType(msg) }
