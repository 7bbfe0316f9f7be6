package services

import (
	"context"

	"go.uber.org/zap"
)

// PoolHandler executes one request against a pooled resource (a
// browser instance, a search client). It runs only once the pool's
// concurrency cap admits the request.
type PoolHandler func(ctx context.Context, req *Request) (string, error)

// NewPoolService creates a service for a non-LLM pooled resource.
// Admission is gated by the concurrency cap alone; there is no token
// budget involved.
func NewPoolService(name string, maxConcurrent int, handler PoolHandler, logger *zap.Logger) Service {
	s := &poolService{handler: handler}
	s.baseService = newBaseService(name, int64(maxConcurrent), s.execute, logger)
	return s
}

type poolService struct {
	*baseService
	handler PoolHandler
}

func (s *poolService) execute(ctx context.Context, req *Request) Result {
	text, err := s.handler(ctx, req)
	if err != nil {
		s.logger.Warn("Pool handler failed",
			zap.String("request_id", string(req.ID)),
			zap.Error(err))
		return Result{RequestID: req.ID, Err: err}
	}
	return Result{RequestID: req.ID, Text: text}
}
