package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ordex/internal/common"
	"ordex/internal/config"
	"ordex/internal/provider"
	"ordex/internal/services"
)

func echoService(t *testing.T, name string) services.Service {
	return services.NewPoolService(name, 2, func(ctx context.Context, req *services.Request) (string, error) {
		return name, nil
	}, zaptest.NewLogger(t))
}

func routingConfig(models ...config.ModelConfig) *config.Config {
	return &config.Config{Models: models}
}

func TestNewRouter_ExplicitAssignmentWinsOverDefault(t *testing.T) {
	cfg := routingConfig(
		config.ModelConfig{Name: "gpt-4o", Tasks: []string{"default"}},
		config.ModelConfig{Name: "gpt-4o-mini", Tasks: []string{common.TaskDocumentContentValidation.String()}},
	)
	big := echoService(t, "gpt-4o")
	small := echoService(t, "gpt-4o-mini")

	router, err := NewRouter(cfg, map[string]services.Service{
		"gpt-4o":      big,
		"gpt-4o-mini": small,
	}, common.PipelineTaskLabels())
	require.NoError(t, err)

	svc, err := router.Route(common.TaskDocumentContentValidation)
	require.NoError(t, err)
	assert.Equal(t, small, svc)

	// Everything else falls through to the default profile
	svc, err = router.Route(common.TaskDecisionTreeQuestion)
	require.NoError(t, err)
	assert.Equal(t, big, svc)
}

func TestNewRouter_RouteIsStable(t *testing.T) {
	cfg := routingConfig(config.ModelConfig{Name: "gpt-4o", Tasks: []string{"default"}})
	svc := echoService(t, "gpt-4o")

	router, err := NewRouter(cfg, map[string]services.Service{"gpt-4o": svc}, common.PipelineTaskLabels())
	require.NoError(t, err)

	first, err := router.Route(common.TaskValueExtraction)
	require.NoError(t, err)
	second, err := router.Route(common.TaskValueExtraction)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewRouter_RejectsMissingDefault(t *testing.T) {
	cfg := routingConfig(
		config.ModelConfig{Name: "gpt-4o", Tasks: []string{common.TaskValueExtraction.String()}},
	)

	_, err := NewRouter(cfg, map[string]services.Service{"gpt-4o": echoService(t, "gpt-4o")}, common.PipelineTaskLabels())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default")
}

func TestNewRouter_RejectsDuplicateDefault(t *testing.T) {
	cfg := routingConfig(
		config.ModelConfig{Name: "gpt-4o", Tasks: []string{"default"}},
		config.ModelConfig{Name: "gpt-4o-mini", Tasks: []string{"default"}},
	)

	_, err := NewRouter(cfg, map[string]services.Service{
		"gpt-4o":      echoService(t, "gpt-4o"),
		"gpt-4o-mini": echoService(t, "gpt-4o-mini"),
	}, common.PipelineTaskLabels())
	require.Error(t, err)
}

func TestNewRouter_RejectsDuplicateTaskAssignment(t *testing.T) {
	cfg := routingConfig(
		config.ModelConfig{Name: "gpt-4o", Tasks: []string{"default", common.TaskValueExtraction.String()}},
		config.ModelConfig{Name: "gpt-4o-mini", Tasks: []string{common.TaskValueExtraction.String()}},
	)

	_, err := NewRouter(cfg, map[string]services.Service{
		"gpt-4o":      echoService(t, "gpt-4o"),
		"gpt-4o-mini": echoService(t, "gpt-4o-mini"),
	}, common.PipelineTaskLabels())
	require.Error(t, err)
}

func TestNewRouter_RejectsModelWithoutService(t *testing.T) {
	cfg := routingConfig(config.ModelConfig{Name: "gpt-4o", Tasks: []string{"default"}})

	_, err := NewRouter(cfg, map[string]services.Service{}, common.PipelineTaskLabels())
	require.Error(t, err)
}

func TestRouter_DefaultUnusedWhenEveryLabelAssigned(t *testing.T) {
	labels := common.PipelineTaskLabels()
	tasks := make([]string, 0, len(labels))
	for _, l := range labels {
		tasks = append(tasks, l.String())
	}

	cfg := routingConfig(
		config.ModelConfig{Name: "fallback", Tasks: []string{"default"}},
		config.ModelConfig{Name: "worker", Tasks: tasks},
	)
	fallback := echoService(t, "fallback")
	worker := echoService(t, "worker")

	router, err := NewRouter(cfg, map[string]services.Service{
		"fallback": fallback,
		"worker":   worker,
	}, labels)
	require.NoError(t, err)

	for _, label := range labels {
		svc, rerr := router.Route(label)
		require.NoError(t, rerr)
		assert.Equal(t, worker, svc, "label %s should route to the explicit assignment", label)
	}
}

func TestCall_ResolvesThroughScope(t *testing.T) {
	cfg := routingConfig(config.ModelConfig{Name: "gpt-4o", Tasks: []string{"default"}})
	svc := services.NewPoolService("gpt-4o", 2, func(ctx context.Context, req *services.Request) (string, error) {
		return "routed:" + req.Label.String(), nil
	}, zaptest.NewLogger(t))

	router, err := NewRouter(cfg, map[string]services.Service{"gpt-4o": svc}, common.PipelineTaskLabels())
	require.NoError(t, err)

	scope, err := services.Begin(context.Background(), router, []services.Service{svc}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer scope.Close()

	ctx := services.WithScope(context.Background(), scope)
	result, err := Call(ctx, common.TaskValueExtraction, provider.Request{UserPrompt: "extract"})
	require.NoError(t, err)
	assert.Equal(t, "routed:"+common.TaskValueExtraction.String(), result.Text)
}

func TestCall_FailsWithoutScope(t *testing.T) {
	_, err := Call(context.Background(), common.TaskValueExtraction, provider.Request{UserPrompt: "extract"})
	require.Error(t, err)

	var serr services.ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, services.ErrNoActiveScope, serr.Code())
}
