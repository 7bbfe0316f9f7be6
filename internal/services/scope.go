package services

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"ordex/internal/common"
)

// Resolver maps a task label to the service responsible for it. The
// dispatcher implements this over the validated configuration.
type Resolver interface {
	Route(label common.TaskLabel) (Service, error)
}

// Scope is a bounded lifetime during which a set of services accept
// work. Begin starts every processing loop; Close drains and stops
// them all, on error paths included. Lookup outside an active scope
// fails rather than falling back to a global.
type Scope struct {
	resolver Resolver
	all      []Service
	logger   *zap.Logger
	closed   atomic.Bool
}

// Begin starts every service and returns the active scope. Callers
// must pair it with a deferred Close. If any service fails to start,
// the ones already running are drained before the error is returned.
func Begin(ctx context.Context, resolver Resolver, all []Service, logger *zap.Logger) (*Scope, error) {
	started := make([]Service, 0, len(all))
	for _, svc := range all {
		if err := svc.Start(ctx); err != nil {
			for _, s := range started {
				if derr := s.Drain(); derr != nil {
					logger.Error("Failed to drain service during aborted start",
						zap.String("service", s.Name()), zap.Error(derr))
				}
			}
			return nil, err
		}
		started = append(started, svc)
	}

	logger.Info("Run scope active", zap.Int("services", len(all)))
	return &Scope{resolver: resolver, all: all, logger: logger}, nil
}

// ServiceFor returns the service routed for a task label. Fails once
// the scope is closed.
func (s *Scope) ServiceFor(label common.TaskLabel) (Service, error) {
	if s.closed.Load() {
		return nil, NewServiceError(ErrScopeClosed, "run scope is closed")
	}
	return s.resolver.Route(label)
}

// Close drains every service, awaiting queued and in-flight work.
// Idempotent; later calls are no-ops.
func (s *Scope) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.logger.Info("Closing run scope")

	var firstErr error
	for _, svc := range s.all {
		if err := svc.Drain(); err != nil {
			s.logger.Error("Failed to drain service",
				zap.String("service", svc.Name()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.logger.Info("Run scope closed")
	return firstErr
}

// Active reports whether the scope still accepts lookups
func (s *Scope) Active() bool {
	return !s.closed.Load()
}

type scopeContextKey struct{}

// WithScope returns a context carrying the scope so pipeline code can
// dispatch work without threading service references through every
// signature. Independent scopes can coexist in one process.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// FromContext retrieves the active scope. Returns a configuration
// error when no scope is active on this context.
func FromContext(ctx context.Context) (*Scope, error) {
	scope, ok := ctx.Value(scopeContextKey{}).(*Scope)
	if !ok || scope == nil {
		return nil, NewServiceError(ErrNoActiveScope, "no run scope active on this context")
	}
	if !scope.Active() {
		return nil, NewServiceError(ErrScopeClosed, "run scope is closed")
	}
	return scope, nil
}
