// Package services provides the queue-backed workers that multiplex
// the pipeline's LLM and pooled-resource calls, plus the run scope
// that bounds their lifetime. Each service owns one inbound queue for
// one resource; requests are admitted through the resource's gates
// (rate limiter, concurrency cap) and executed as independent
// goroutines so slow calls do not block unrelated ones.
package services

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ordex/internal/common"
	"ordex/internal/provider"
)

// Service defines the interface for a queue-backed worker bound to
// one resource (an LLM model or a pooled resource such as browsers)
type Service interface {
	// Name identifies the service in logs and the registry
	Name() string
	// Start begins the processing loop
	Start(ctx context.Context) error
	// Submit enqueues a request; the returned channel delivers
	// exactly one Result once the call finishes or fails
	Submit(ctx context.Context, req *Request) (<-chan Result, error)
	// Cancel removes a request before execution starts; it is a
	// no-op once dispatch has begun
	Cancel(req *Request) bool
	// Drain refuses new submissions, completes all queued and
	// in-flight work, and stops the processing loop
	Drain() error
}

// Request is one unit of work destined for a single service. It is
// consumed exactly once; the result or failure is delivered on the
// channel returned by Submit and the request is not reused.
type Request struct {
	ID              common.RequestID
	Label           common.TaskLabel
	Prompt          provider.Request
	EstimatedTokens int

	ctx       context.Context
	resultCh  chan Result
	cancelled atomic.Bool
	started   atomic.Bool
}

// NewRequest creates a request for a task label and prompt
func NewRequest(label common.TaskLabel, prompt provider.Request) *Request {
	return &Request{
		ID:     common.RequestID(common.NewID()),
		Label:  label,
		Prompt: prompt,
	}
}

// Result carries a completed call's text and usage, or its error.
type Result struct {
	RequestID common.RequestID
	Text      string
	Usage     provider.TokenUsage
	Err       error
}

// executor runs one admitted request. LLM services wrap the provider
// call with rate limiting and retries; pool services run the caller's
// handler under the concurrency cap alone.
type executor func(ctx context.Context, req *Request) Result

// baseService implements the queue, the concurrency gate, and the
// drain protocol shared by every service kind.
type baseService struct {
	name     string
	queue    *requestQueue
	sem      *semaphore.Weighted
	exec     executor
	logger   *zap.Logger
	wg       sync.WaitGroup
	loopDone chan struct{}
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
}

func newBaseService(name string, maxConcurrent int64, exec executor, logger *zap.Logger) *baseService {
	return &baseService{
		name:     name,
		queue:    newRequestQueue(),
		sem:      semaphore.NewWeighted(maxConcurrent),
		exec:     exec,
		logger:   logger.With(zap.String("service", name)),
		loopDone: make(chan struct{}),
	}
}

func (s *baseService) Name() string {
	return s.name
}

// Start begins the processing loop
func (s *baseService) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return NewServiceError(ErrServiceAlreadyRunning, "service "+s.name+" is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("Starting service processing loop")

	go s.loop()
	return nil
}

// Submit enqueues a request for execution. ctx governs the caller's
// wait for this individual call; it does not affect other requests.
func (s *baseService) Submit(ctx context.Context, req *Request) (<-chan Result, error) {
	if !s.running.Load() {
		return nil, NewServiceError(ErrServiceNotRunning, "service "+s.name+" is not running")
	}

	req.ctx = ctx
	req.resultCh = make(chan Result, 1)
	if req.EstimatedTokens <= 0 {
		req.EstimatedTokens = provider.EstimateTokens(req.Prompt)
	}

	if err := s.queue.push(req); err != nil {
		return nil, err
	}

	s.logger.Debug("Request enqueued",
		zap.String("request_id", string(req.ID)),
		zap.String("task", req.Label.String()),
		zap.Int("estimated_tokens", req.EstimatedTokens))

	return req.resultCh, nil
}

// Cancel marks a request cancelled. Returns true when the request had
// not started executing; after dispatch begins it is a no-op.
func (s *baseService) Cancel(req *Request) bool {
	if req.started.Load() {
		return false
	}
	req.cancelled.Store(true)
	return !req.started.Load()
}

// Drain completes all queued and in-flight work and stops the loop.
// Safe to call more than once.
func (s *baseService) Drain() error {
	if !s.running.Load() {
		return nil
	}

	s.logger.Info("Draining service", zap.Int("queued", s.queue.len()))
	s.queue.closeForSubmit()

	// The loop exits once the queue is exhausted, then in-flight
	// executions are awaited.
	<-s.loopDone
	s.wg.Wait()

	s.running.Store(false)
	s.cancel()
	s.logger.Info("Service drained")
	return nil
}

// loop pulls requests in submission order and hands each to its own
// goroutine once the concurrency gate admits it.
func (s *baseService) loop() {
	defer close(s.loopDone)

	for {
		req, ok := s.queue.pop(s.ctx)
		if !ok {
			return
		}

		if req.cancelled.Load() {
			req.resultCh <- Result{
				RequestID: req.ID,
				Err:       NewServiceError(ErrRequestCancelled, "request cancelled before dispatch"),
			}
			continue
		}

		// Both gates must pass: the semaphore here caps in-flight
		// executions, and LLM executors additionally wait on the
		// model's token budget.
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			req.resultCh <- Result{RequestID: req.ID, Err: err}
			continue
		}

		// Mark the request started before the final cancellation
		// check: either Cancel observes started and reports failure,
		// or this check observes the cancellation.
		req.started.Store(true)
		if req.cancelled.Load() {
			s.sem.Release(1)
			req.resultCh <- Result{
				RequestID: req.ID,
				Err:       NewServiceError(ErrRequestCancelled, "request cancelled before dispatch"),
			}
			continue
		}

		s.wg.Add(1)
		go func(req *Request) {
			defer s.wg.Done()
			defer s.sem.Release(1)

			ctx := req.ctx
			if ctx == nil {
				ctx = s.ctx
			}
			req.resultCh <- s.exec(ctx, req)
		}(req)
	}
}

// requestQueue is the unbounded inbound queue for one service.
// Backpressure comes from the admission gates downstream, not from
// the queue itself.
type requestQueue struct {
	mu     sync.Mutex
	items  []*Request
	signal chan struct{}
	closed bool
}

func newRequestQueue() *requestQueue {
	return &requestQueue{signal: make(chan struct{}, 1)}
}

func (q *requestQueue) push(req *Request) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return NewServiceError(ErrServiceDraining, "service is draining, submission refused")
	}
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until a request is available. Returns ok=false when the
// queue is closed and exhausted, or ctx ends.
func (q *requestQueue) pop(ctx context.Context) (*Request, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return req, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}

func (q *requestQueue) closeForSubmit() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
