package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ordex/internal/common"
	"ordex/internal/config"
	"ordex/internal/events"
	"ordex/internal/provider"
	"ordex/internal/ratelimit"
)

// scriptedClient returns canned outcomes in order, repeating the last
// one once the script runs out
type scriptedClient struct {
	mu      sync.Mutex
	script  []func() (*provider.Completion, error)
	calls   int
	prompts []provider.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	c.prompts = append(c.prompts, req)
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	step := c.script[idx]
	c.mu.Unlock()
	return step()
}

func (c *scriptedClient) ModelName() string { return "scripted" }

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func succeedWith(text string, promptTokens, completionTokens int) func() (*provider.Completion, error) {
	return func() (*provider.Completion, error) {
		return &provider.Completion{
			Text: text,
			Usage: provider.TokenUsage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
			},
		}, nil
	}
}

func failWith(err error) func() (*provider.Completion, error) {
	return func() (*provider.Completion, error) { return nil, err }
}

func testModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Name:          "gpt-4o",
		Provider:      "openai",
		RateLimit:     10000,
		MaxConcurrent: 2,
		MaxRetries:    2,
	}
}

func startLLMService(t *testing.T, cfg config.ModelConfig, client provider.Client, limiter *ratelimit.Limiter, bus events.EventBus) Service {
	t.Helper()
	svc := NewLLMService(cfg, client, limiter, bus, zaptest.NewLogger(t))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Drain() })
	return svc
}

func TestLLMService_SuccessPublishesCallCompleted(t *testing.T) {
	client := &scriptedClient{script: []func() (*provider.Completion, error){
		succeedWith(`{"answer": "yes"}`, 120, 30),
	}}
	limiter := ratelimit.NewLimiter(10000, nil, zaptest.NewLogger(t))
	bus := events.NewEventBus(zaptest.NewLogger(t))

	completed := make(chan events.CallCompleted, 1)
	require.NoError(t, bus.Subscribe(events.TopicCallCompleted, func(evt events.CallCompleted) {
		completed <- evt
	}))

	svc := startLLMService(t, testModelConfig(), client, limiter, bus)

	resultCh, err := svc.Submit(context.Background(), newTestRequest(common.TaskDecisionTreeQuestion))
	require.NoError(t, err)

	result := <-resultCh
	require.NoError(t, result.Err)
	assert.Equal(t, `{"answer": "yes"}`, result.Text)
	assert.Equal(t, 150, result.Usage.Total())

	select {
	case evt := <-completed:
		assert.Equal(t, "gpt-4o", evt.Model)
		assert.Equal(t, common.TaskDecisionTreeQuestion.String(), evt.TaskLabel)
		assert.Equal(t, 120, evt.PromptTokens)
		assert.Equal(t, 30, evt.CompletionTokens)
	case <-time.After(time.Second):
		t.Fatal("no CallCompleted event published")
	}
}

func TestLLMService_RetryableErrorIsRetried(t *testing.T) {
	client := &scriptedClient{script: []func() (*provider.Completion, error){
		failWith(provider.NewAPIError(503, "server_error", "upstream overloaded", "")),
		succeedWith("recovered", 50, 10),
	}}
	limiter := ratelimit.NewLimiter(10000, nil, zaptest.NewLogger(t))

	svc := startLLMService(t, testModelConfig(), client, limiter, events.NewEventBus(zaptest.NewLogger(t)))

	resultCh, err := svc.Submit(context.Background(), newTestRequest(common.TaskValueExtraction))
	require.NoError(t, err)

	result := <-resultCh
	require.NoError(t, result.Err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, 2, client.callCount())
}

func TestLLMService_NonRetryableErrorFailsFast(t *testing.T) {
	client := &scriptedClient{script: []func() (*provider.Completion, error){
		failWith(provider.NewAPIError(401, "unauthorized", "bad api key", "")),
	}}
	limiter := ratelimit.NewLimiter(10000, nil, zaptest.NewLogger(t))
	bus := events.NewEventBus(zaptest.NewLogger(t))

	failed := make(chan events.CallFailed, 1)
	require.NoError(t, bus.Subscribe(events.TopicCallFailed, func(evt events.CallFailed) {
		failed <- evt
	}))

	svc := startLLMService(t, testModelConfig(), client, limiter, bus)

	resultCh, err := svc.Submit(context.Background(), newTestRequest(common.TaskValueExtraction))
	require.NoError(t, err)

	result := <-resultCh
	require.Error(t, result.Err)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, result.Err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, client.callCount())

	select {
	case evt := <-failed:
		assert.Equal(t, "gpt-4o", evt.Model)
	case <-time.After(time.Second):
		t.Fatal("no CallFailed event published")
	}
}

func TestLLMService_ReconcilesEstimateAgainstReportedUsage(t *testing.T) {
	client := &scriptedClient{script: []func() (*provider.Completion, error){
		succeedWith("short answer", 80, 20),
	}}
	clock := common.NewMockClock(time.Now())
	limiter := ratelimit.NewLimiter(1000, clock, zaptest.NewLogger(t))

	svc := startLLMService(t, testModelConfig(), client, limiter, events.NewEventBus(zaptest.NewLogger(t)))

	req := newTestRequest(common.TaskOrdinanceTextExtraction)
	req.EstimatedTokens = 600

	resultCh, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	result := <-resultCh
	require.NoError(t, result.Err)

	// The over-estimate was refunded: only the reported 100 tokens
	// stay deducted. The clock is frozen so no refill interferes.
	assert.InDelta(t, 900, limiter.Available(), 0.001)
}

func TestLLMService_FailedCallKeepsBudgetDeducted(t *testing.T) {
	client := &scriptedClient{script: []func() (*provider.Completion, error){
		failWith(provider.NewAPIError(400, "invalid_request", "malformed prompt", "")),
	}}
	clock := common.NewMockClock(time.Now())
	limiter := ratelimit.NewLimiter(1000, clock, zaptest.NewLogger(t))

	svc := startLLMService(t, testModelConfig(), client, limiter, events.NewEventBus(zaptest.NewLogger(t)))

	req := newTestRequest(common.TaskOrdinanceTextExtraction)
	req.EstimatedTokens = 400

	resultCh, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	result := <-resultCh
	require.Error(t, result.Err)

	assert.InDelta(t, 600, limiter.Available(), 0.001)
}
