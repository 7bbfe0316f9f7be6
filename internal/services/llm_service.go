package services

import (
	"time"

	"context"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"ordex/internal/config"
	"ordex/internal/events"
	"ordex/internal/provider"
	"ordex/internal/ratelimit"
)

// llmService executes requests against one LLM model deployment.
// Admission passes two gates: the service concurrency cap from
// baseService and the model's token-bucket rate limiter.
type llmService struct {
	*baseService
	limiter  *ratelimit.Limiter
	client   provider.Client
	eventBus events.EventBus
	cfg      config.ModelConfig
}

// NewLLMService creates the service for one configured model
func NewLLMService(cfg config.ModelConfig, client provider.Client, limiter *ratelimit.Limiter, eventBus events.EventBus, logger *zap.Logger) Service {
	s := &llmService{
		limiter:  limiter,
		client:   client,
		eventBus: eventBus,
		cfg:      cfg,
	}
	s.baseService = newBaseService(cfg.Name, int64(cfg.MaxConcurrent), s.execute, logger)
	return s
}

// execute runs one admitted request: waits for token budget, calls
// the provider with bounded backoff, reconciles the estimate against
// reported usage, and notifies observers.
func (s *llmService) execute(ctx context.Context, req *Request) Result {
	if err := s.limiter.Acquire(ctx, req.EstimatedTokens); err != nil {
		return Result{RequestID: req.ID, Err: err}
	}

	start := time.Now()
	completion, err := s.callWithRetry(ctx, req)
	if err != nil {
		// The grant was spent even though the call failed; leave the
		// budget deducted so failures cannot be used to burst.
		s.publishFailed(req, err)
		return Result{RequestID: req.ID, Err: err}
	}

	s.limiter.Reconcile(req.EstimatedTokens, completion.Usage.Total())
	s.publishCompleted(req, completion, time.Since(start))

	return Result{
		RequestID: req.ID,
		Text:      completion.Text,
		Usage:     completion.Usage,
	}
}

// callWithRetry retries transient provider failures with exponential
// backoff up to the configured attempt limit. Non-retryable errors
// stop immediately.
func (s *llmService) callWithRetry(ctx context.Context, req *Request) (*provider.Completion, error) {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 1 * time.Second
	strategy.MaxInterval = 30 * time.Second
	strategy.MaxElapsedTime = 2 * time.Minute
	strategy.Multiplier = 2.0

	maxRetries := uint64(s.cfg.MaxRetries)
	policy := backoff.WithContext(backoff.WithMaxRetries(strategy, maxRetries), ctx)

	var completion *provider.Completion
	attempts := 0

	operation := func() error {
		attempts++
		result, err := s.client.Complete(ctx, req.Prompt)
		if err != nil {
			if provider.IsRetryable(err) {
				s.logger.Warn("Retryable provider error, will retry",
					zap.String("request_id", string(req.ID)),
					zap.Int("attempt", attempts),
					zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		completion = result
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		s.logger.Error("Provider call failed after retries",
			zap.String("request_id", string(req.ID)),
			zap.String("task", req.Label.String()),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, NewRetryExhaustedError(attempts, err)
	}

	return completion, nil
}

func (s *llmService) publishCompleted(req *Request, completion *provider.Completion, elapsed time.Duration) {
	if s.eventBus == nil {
		return
	}
	evt := events.CallCompleted{
		Event:            events.NewEvent(),
		Model:            s.cfg.Name,
		TaskLabel:        req.Label.String(),
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		DurationMs:       elapsed.Milliseconds(),
	}
	if err := s.eventBus.Publish(events.TopicCallCompleted, evt); err != nil {
		s.logger.Error("Failed to publish CallCompleted event", zap.Error(err))
	}
}

func (s *llmService) publishFailed(req *Request, callErr error) {
	if s.eventBus == nil {
		return
	}
	evt := events.CallFailed{
		Event:     events.NewEvent(),
		Model:     s.cfg.Name,
		TaskLabel: req.Label.String(),
		Reason:    callErr.Error(),
	}
	if err := s.eventBus.Publish(events.TopicCallFailed, evt); err != nil {
		s.logger.Error("Failed to publish CallFailed event", zap.Error(err))
	}
}
