package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ordex/internal/common"
	"ordex/internal/extraction"
	"ordex/internal/services"
)

type singleResolver struct {
	svc services.Service
}

func (r singleResolver) Route(label common.TaskLabel) (services.Service, error) {
	return r.svc, nil
}

func TestProcessDirectory_LoadsThroughPool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ia_polk.txt"), []byte("nothing relevant here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "il_macon.txt"), []byte("no ordinance content either"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("skipped"), 0o644))

	logger := zaptest.NewLogger(t)
	llm := services.NewPoolService("scripted", 4, func(ctx context.Context, req *services.Request) (string, error) {
		return `{"summary": "boilerplate", "contains_ord_info": false}`, nil
	}, logger)
	loader := services.NewPoolService("document_loader", 2, loadDocument, logger)

	scope, err := services.Begin(context.Background(), singleResolver{svc: llm}, []services.Service{llm, loader}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = scope.Close() })
	ctx := services.WithScope(context.Background(), scope)

	pipeline := extraction.NewPipeline(extraction.NewCollector(8000, 0, 1, logger), nil, 3, logger)

	results, err := processDirectory(ctx, pipeline, loader, dir, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	codes := []string{results[0].Jurisdiction.Code, results[1].Jurisdiction.Code}
	assert.ElementsMatch(t, []string{"ia_polk", "il_macon"}, codes)
	for _, res := range results {
		assert.Equal(t, extraction.StatusComplete, res.Status)
	}
}
