package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"ordex/internal/common"
	"ordex/internal/config"
	"ordex/internal/dispatch"
	"ordex/internal/doc"
	"ordex/internal/events"
	"ordex/internal/extraction"
	"ordex/internal/provider"
	"ordex/internal/ratelimit"
	"ordex/internal/services"
	"ordex/internal/usage"
	"ordex/pkg/logger"
)

func main() {
	// Initialize logger
	logger := logger.New()
	defer logger.Sync()

	// Get the underlying zap logger for services
	zapLogger := logger.SugaredLogger.Desugar()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <documents-dir>", os.Args[0])
	}
	docsDir := os.Args[1]

	// Load and validate the feature rubric before any task runs
	features, err := extraction.LoadFeatures(cfg.Extraction.TreePath)
	if err != nil {
		logger.Fatalw("Failed to load feature rubric", "error", err)
	}

	// Initialize event bus and the cost tracker observing it
	eventBus := events.NewEventBus(zapLogger)
	defer eventBus.Close()

	var ledger *usage.Store
	if cfg.Usage.LedgerPath != "" {
		ledger, err = usage.OpenStore(cfg.Usage.LedgerPath)
		if err != nil {
			logger.Fatalw("Failed to open usage ledger", "error", err)
		}
		defer ledger.Close()
	}
	tracker := usage.NewTracker(cfg.Pricing, ledger, zapLogger)
	if err := tracker.Attach(eventBus); err != nil {
		logger.Fatalw("Failed to attach usage tracker", "error", err)
	}

	// One service per configured model, each with its own rate limiter
	clock := common.NewRealClock()
	byModel := make(map[string]services.Service, len(cfg.Models))
	all := make([]services.Service, 0, len(cfg.Models))
	for _, modelCfg := range cfg.Models {
		client, err := provider.NewClient(modelCfg, zapLogger)
		if err != nil {
			logger.Fatalw("Failed to create provider client", "model", modelCfg.Name, "error", err)
		}
		limiter := ratelimit.NewLimiter(modelCfg.RateLimit, clock, zapLogger)
		svc := services.NewLLMService(modelCfg, client, limiter, eventBus, zapLogger)
		byModel[modelCfg.Name] = svc
		all = append(all, svc)
	}

	// Document loading runs through its own bounded pool, the slot
	// a browser pool fills when documents come off the web
	loader := services.NewPoolService("document_loader", cfg.Pools.MaxBrowsers, loadDocument, zapLogger)
	all = append(all, loader)

	router, err := dispatch.NewRouter(cfg, byModel, common.PipelineTaskLabels())
	if err != nil {
		logger.Fatalw("Failed to build task router", "error", err)
	}

	ctx := context.Background()
	scope, err := services.Begin(ctx, router, all, zapLogger)
	if err != nil {
		logger.Fatalw("Failed to start run scope", "error", err)
	}
	defer func() {
		if err := scope.Close(); err != nil {
			logger.Errorw("Failed to close run scope", "error", err)
		}
	}()
	ctx = services.WithScope(ctx, scope)

	// Chunking parameters follow the default model's profile
	defaultModel := cfg.DefaultModel()
	collector := extraction.NewCollector(
		defaultModel.ChunkSize,
		defaultModel.ChunkOverlap,
		cfg.Extraction.NumChunksRecall,
		zapLogger,
	)
	pipeline := extraction.NewPipeline(collector, features, cfg.Extraction.MaxNodeAttempts, zapLogger)

	results, err := processDirectory(ctx, pipeline, loader, docsDir, cfg.Pools.MaxJurisdictions)
	if err != nil {
		logger.Fatalw("Extraction run failed", "error", err)
	}

	if err := writeResults(cfg.Directories.Output, results); err != nil {
		logger.Fatalw("Failed to write results", "error", err)
	}

	report := tracker.Report()
	logger.Infow("Run complete",
		"jurisdictions", len(results),
		"total_tokens", report.TotalTokens,
		"total_cost", fmt.Sprintf("%.4f", report.TotalCost))
}

// taskDocumentLoad labels loader pool requests in logs; it is never
// routed to a model.
const taskDocumentLoad = common.TaskLabel("document_load")

// loadDocument reads one document file for the loader pool; the path
// arrives as the request's user prompt
func loadDocument(ctx context.Context, req *services.Request) (string, error) {
	data, err := os.ReadFile(req.Prompt.UserPrompt)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", req.Prompt.UserPrompt, err)
	}
	return string(data), nil
}

// processDirectory runs the pipeline over every document file,
// bounded by the jurisdiction concurrency cap. Documents are loaded
// through the loader pool; one jurisdiction's extraction failure is
// recorded in its result, never propagated.
func processDirectory(ctx context.Context, pipeline *extraction.Pipeline, loader services.Service, dir string, maxConcurrent int) ([]extraction.JurisdictionResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	results := make([]extraction.JurisdictionResult, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			ch, err := loader.Submit(ctx, services.NewRequest(taskDocumentLoad, provider.Request{UserPrompt: path}))
			if err != nil {
				return fmt.Errorf("failed to enqueue load of %s: %w", path, err)
			}

			var loaded services.Result
			select {
			case loaded = <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			if loaded.Err != nil {
				return fmt.Errorf("failed to load %s: %w", path, loaded.Err)
			}

			code := strings.TrimSuffix(filepath.Base(path), ".txt")
			jur := extraction.Jurisdiction{Code: code}
			document := doc.New(loaded.Text)
			results[i] = pipeline.ProcessDocument(ctx, jur, document)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// writeResults serializes the per-jurisdiction results for the
// downstream output-writing glue
func writeResults(outDir string, results []extraction.JurisdictionResult) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "extraction_results.json"), data, 0o644)
}
