package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"prodscout/internal/config"
	"prodscout/internal/infra/llm"
	"prodscout/internal/infra/notifier"
	"prodscout/internal/infra/renderer"
	"prodscout/internal/infra/scraper"
	"prodscout/internal/infra/transcriber"
	"prodscout/internal/infra/xclient"
	"prodscout/internal/usecase/enrich"
	"prodscout/internal/usecase/fetch"
	"prodscout/internal/usecase/organize"
	"prodscout/internal/usecase/pipeline"
	"prodscout/internal/usecase/write"
	pkgconfig "prodscout/pkg/config"
)

// partialFailureRatio is the errored-source fraction above which the run
// exits with the partial-failure code.
const partialFailureRatio = 0.10

// llmBackend is what the organizer and the transcript optimizer both need
// from a provider.
type llmBackend interface {
	organize.Classifier
	transcriber.Optimizer
}

func newPipelineCmd(logger *slog.Logger) *cobra.Command {
	var schedule string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the full fetch-enrich-organize-write pipeline",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runPipelineCommand(logger, schedule, metricsAddr))
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression; run on a schedule instead of once")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for the Prometheus /metrics endpoint")
	return cmd
}

func runPipelineCommand(logger *slog.Logger, schedule, metricsAddr string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("configuration error", slog.Any("error", err))
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr, logger)
	}

	if schedule == "" {
		return runOnce(ctx, cfg, logger)
	}

	// Scheduled worker mode: run the pipeline on every cron tick until
	// interrupted.
	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		code := runOnce(ctx, cfg, logger)
		if code != exitOK {
			logger.Warn("scheduled run finished with errors", slog.Int("exit_code", code))
		}
	})
	if err != nil {
		logger.Error("invalid cron schedule", slog.String("schedule", schedule), slog.Any("error", err))
		return exitConfigError
	}
	c.Start()
	logger.Info("scheduled worker started", slog.String("schedule", schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	return exitOK
}

// runOnce executes one batch and maps the outcome onto an exit code.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	batchID := pipeline.NewBatchID(time.Now())
	coordinator, cleanup, err := buildPipeline(cfg, batchID, logger)
	if err != nil {
		logger.Error("pipeline setup failed", slog.Any("error", err))
		return exitConfigError
	}
	defer cleanup()

	summary, runErr := coordinator.Run(ctx)
	printSummary(summary)

	if notify := notifier.NewWebhookNotifier(cfg.Notify, logger); notify != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Timeout)
		defer cancel()
		notify.NotifyRunComplete(notifyCtx, summary)
	}

	switch {
	case runErr != nil:
		return exitFatal
	case summary.SourcesTotal > 0 &&
		float64(summary.SourcesErrored)/float64(summary.SourcesTotal) > partialFailureRatio:
		return exitPartialFailure
	default:
		return exitOK
	}
}

// buildPipeline constructs the stages for one batch. The returned cleanup
// releases the browser allocator and the error log.
func buildPipeline(cfg *config.Config, batchID string, logger *slog.Logger) (*pipeline.Coordinator, func(), error) {
	batchDir := filepath.Join(cfg.DataDir, batchID)
	rawDir := filepath.Join(batchDir, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create batch directory: %w", err)
	}

	errLog := pipeline.NewErrorLog(batchDir)

	feedFetcher := scraper.NewRSSFetcher(newFeedHTTPClient())

	var microblog fetch.MicroblogFetcher
	if cfg.XScraper.Enabled {
		xs, err := buildScraper(cfg, logger)
		if err != nil {
			errLog.Close()
			return nil, nil, err
		}
		microblog = xs
	}

	backend := newLLMBackend(cfg.LLM, logger)

	webRenderer := renderer.NewChromeRenderer(logger)
	videoTranscriber := transcriber.NewService(
		transcriber.NewYTDLPExtractor(),
		transcriber.NewWhisperASR(cfg.LLM),
		backend,
		rawDir,
		logger,
	)

	fetchStage := fetch.NewStage(cfg.Fetcher, cfg.Sources, feedFetcher, microblog, rawDir, errLog, logger)
	enrichStage := enrich.NewStage(cfg.Enricher, webRenderer, videoTranscriber, errLog, logger)
	organizeStage := organize.NewStage(cfg.Organizer, backend, errLog, logger)
	writer := write.NewWriter(cfg.DataDir, batchID, cfg.Entities, errLog, logger)

	coordinator := pipeline.NewCoordinator(cfg, batchID, fetchStage, enrichStage, organizeStage, writer, errLog, logger)

	cleanup := func() {
		webRenderer.Close()
		errLog.Close()
	}
	return coordinator, cleanup, nil
}

// buildScraper wires the credential pool, GraphQL client, and scraper.
func buildScraper(cfg *config.Config, logger *slog.Logger) (*xclient.Scraper, error) {
	envFile := pkgconfig.GetEnvString("X_CREDENTIALS_FILE", ".env")
	creds, err := xclient.LoadCredentials(envFile, cfg.XScraper.AuthCredentials)
	if err != nil {
		return nil, err
	}
	pool, err := xclient.NewPool(creds, logger)
	if err != nil {
		return nil, err
	}
	client, err := xclient.NewClient(pool, cfg.XScraper, logger)
	if err != nil {
		return nil, err
	}
	return xclient.NewScraper(client, cfg.XScraper, cfg.Fetcher.LookbackDays, logger), nil
}

// newLLMBackend selects the provider configured in [llm].
func newLLMBackend(cfg config.LLMConfig, logger *slog.Logger) llmBackend {
	if cfg.Provider == "claude" {
		return llm.NewClaude(cfg, logger)
	}
	return llm.NewOpenAI(cfg, logger)
}

// printSummary writes the human-readable run summary to stderr.
func printSummary(summary *pipeline.Summary) {
	fmt.Fprintf(os.Stderr, "batch %s finished in %s\n", summary.BatchID, summary.Elapsed.Round(time.Second))
	if summary.Cancelled {
		fmt.Fprintln(os.Stderr, "run was cancelled; results are partial")
	}
	fmt.Fprintf(os.Stderr, "sources: %d total, %d errored\n", summary.SourcesTotal, summary.SourcesErrored)
	for sourceType, n := range summary.CountsBySourceType {
		fmt.Fprintf(os.Stderr, "  %-14s %d\n", sourceType, n)
	}
	fmt.Fprintf(os.Stderr, "quality buckets:\n")
	for bucket, n := range summary.CountsByQuality {
		fmt.Fprintf(os.Stderr, "  %-14s %d\n", bucket, n)
	}
	if len(summary.ErrorsByKind) > 0 {
		fmt.Fprintf(os.Stderr, "errors:\n")
		for kind, n := range summary.ErrorsByKind {
			fmt.Fprintf(os.Stderr, "  %-14s %d\n", kind, n)
		}
	}
}

// startMetricsServer exposes /metrics for scheduled worker deployments.
func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("metrics server started", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// newFeedHTTPClient creates the HTTP client for RSS fetching with
// timeouts, pooling, and TLS 1.2+ enforced.
func newFeedHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}
