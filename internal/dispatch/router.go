// Package dispatch resolves task labels to services over the
// validated model configuration. Resolution is pure and total:
// explicit assignment wins, the single default profile covers the
// rest, and coverage of every pipeline label is checked before a run
// starts.
package dispatch

import (
	"context"
	"fmt"

	"ordex/internal/common"
	"ordex/internal/config"
	"ordex/internal/provider"
	"ordex/internal/services"
)

// Router maps task labels to the services responsible for them
type Router struct {
	routes     map[common.TaskLabel]services.Service
	defaultSvc services.Service
}

// NewRouter builds the routing table from the configuration and the
// started services, keyed by model name. Fails fast when a model has
// no service, when no default exists, or when a pipeline label would
// be unroutable.
func NewRouter(cfg *config.Config, byModel map[string]services.Service, pipelineLabels []common.TaskLabel) (*Router, error) {
	r := &Router{routes: make(map[common.TaskLabel]services.Service)}

	for i := range cfg.Models {
		m := &cfg.Models[i]
		svc, ok := byModel[m.Name]
		if !ok {
			return nil, config.NewValidationError(m.Name, "no service registered for configured model")
		}
		for _, task := range m.Tasks {
			label := common.TaskLabel(task)
			if label == common.DefaultTaskLabel {
				if r.defaultSvc != nil {
					return nil, config.NewValidationError("models", "more than one model carries the \"default\" task assignment")
				}
				r.defaultSvc = svc
				continue
			}
			if _, dup := r.routes[label]; dup {
				return nil, config.NewValidationError("tasks", fmt.Sprintf("task %q assigned to more than one model", task))
			}
			r.routes[label] = svc
		}
	}

	if r.defaultSvc == nil {
		return nil, config.NewValidationError("models", "no model carries the \"default\" task assignment")
	}

	// Totality: every label the pipeline will ever issue resolves.
	// With a default present this cannot fail, but the check keeps
	// the guarantee mechanical rather than implicit.
	for _, label := range pipelineLabels {
		if _, err := r.Route(label); err != nil {
			return nil, config.NewValidationError("tasks", fmt.Sprintf("task %q is unroutable: %v", label, err))
		}
	}

	return r, nil
}

// Route returns the service for a task label: the explicit
// assignment when one exists, the default profile otherwise. Pure
// and stateless; performs no I/O.
func (r *Router) Route(label common.TaskLabel) (services.Service, error) {
	if svc, ok := r.routes[label]; ok {
		return svc, nil
	}
	if r.defaultSvc != nil {
		return r.defaultSvc, nil
	}
	return nil, services.NewServiceError(services.ErrUnroutableTask, "no service for task "+label.String())
}

// Call submits a prompt for a task label through the active scope and
// waits for the result. This is the single entry point pipeline code
// uses to reach an LLM.
func Call(ctx context.Context, label common.TaskLabel, prompt provider.Request) (services.Result, error) {
	scope, err := services.FromContext(ctx)
	if err != nil {
		return services.Result{}, err
	}

	svc, err := scope.ServiceFor(label)
	if err != nil {
		return services.Result{}, err
	}

	req := services.NewRequest(label, prompt)
	resultCh, err := svc.Submit(ctx, req)
	if err != nil {
		return services.Result{}, err
	}

	select {
	case <-ctx.Done():
		svc.Cancel(req)
		return services.Result{}, ctx.Err()
	case result := <-resultCh:
		return result, nil
	}
}
