// Package pipeline wires the four stages and three bounded queues into a
// run and orchestrates the cascading sentinel shutdown: the coordinator
// waits for the fetcher, then pushes one nil sentinel per enricher worker
// onto the fetch queue, waits for the enrichers, repeats for the
// organizers, and finally signals the single writer, whose last act is
// the batch manifest. Every in-flight post is processed before shutdown.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/usecase/enrich"
	"prodscout/internal/usecase/fetch"
	"prodscout/internal/usecase/organize"
	"prodscout/internal/usecase/write"
)

// queueCapacity bounds each inter-stage queue. Back-pressure from a slow
// downstream stage propagates naturally through blocked sends.
const queueCapacity = 128

// drainTimeout bounds sentinel delivery once the run context has been
// cancelled. Past it the coordinator forcibly discards pipeline state
// instead of waiting on full queues whose workers already exited.
const drainTimeout = 30 * time.Second

// Summary is the result of one pipeline run.
type Summary struct {
	BatchID            string
	Elapsed            time.Duration
	Cancelled          bool
	SourcesTotal       int
	SourcesErrored     int
	CountsBySourceType map[string]int
	CountsByQuality    map[string]int
	ErrorsByKind       map[string]int
}

// Coordinator assembles the stages for one batch.
type Coordinator struct {
	cfg      *config.Config
	batchID  string
	fetcher  *fetch.Stage
	enricher *enrich.Stage
	organize *organize.Stage
	writer   *write.Writer
	errLog   *ErrorLog
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator over already-constructed stages.
func NewCoordinator(
	cfg *config.Config,
	batchID string,
	fetcher *fetch.Stage,
	enricher *enrich.Stage,
	organizer *organize.Stage,
	writer *write.Writer,
	errLog *ErrorLog,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		batchID:  batchID,
		fetcher:  fetcher,
		enricher: enricher,
		organize: organizer,
		writer:   writer,
		errLog:   errLog,
		logger:   logger,
	}
}

// Run executes the full pipeline to completion and returns the run
// summary. Only coordinator-level failures surface as an error; source
// and item failures are recorded in the error log.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	c.logger.Info("pipeline started",
		slog.String("batch_id", c.batchID),
		slog.Int("sources", len(c.cfg.Sources)))

	qf := make(chan *entity.Post, queueCapacity)
	qe := make(chan *entity.Post, queueCapacity)
	qw := make(chan *entity.Post, queueCapacity)

	numEnrichers := c.cfg.Enricher.PoolSize
	numOrganizers := c.cfg.Organizer.PoolSize

	var enrichers, organizers errgroup.Group
	for i := 0; i < numEnrichers; i++ {
		enrichers.Go(func() error {
			return c.enricher.Worker(ctx, qf, qe)
		})
	}
	for i := 0; i < numOrganizers; i++ {
		organizers.Go(func() error {
			return c.organize.Worker(ctx, qe, qw)
		})
	}

	writerDone := make(chan writerResult, 1)
	go func() {
		stats, err := c.writer.Run(ctx, qw)
		writerDone <- writerResult{stats: stats, err: err}
	}()

	// Stage 1: run the fetcher to completion.
	fetchStats, fetchErr := c.fetcher.Run(ctx, qf)
	if fetchErr != nil && ctx.Err() == nil {
		c.logger.Error("fetch stage failed", slog.Any("error", fetchErr))
	}

	// Stage 2: one sentinel per enricher worker, then wait.
	c.sendSentinels(ctx, qf, numEnrichers)
	if err := enrichers.Wait(); err != nil && ctx.Err() == nil {
		c.logger.Error("enrich stage failed", slog.Any("error", err))
	}

	// Stage 3: one sentinel per organizer worker, then wait.
	c.sendSentinels(ctx, qe, numOrganizers)
	if err := organizers.Wait(); err != nil && ctx.Err() == nil {
		c.logger.Error("organize stage failed", slog.Any("error", err))
	}

	// Stage 4: single sentinel for the writer; the manifest is its last
	// act.
	c.sendSentinels(ctx, qw, 1)
	result := <-writerDone
	if result.err != nil {
		c.errLog.Report("write", "", result.err)
		c.logger.Error("writer failed", slog.Any("error", result.err))
	}

	summary := &Summary{
		BatchID:            c.batchID,
		Elapsed:            time.Since(start),
		Cancelled:          ctx.Err() != nil,
		CountsBySourceType: map[string]int{},
		CountsByQuality:    map[string]int{},
		ErrorsByKind:       c.errLog.CountsByKind(),
	}
	if fetchStats != nil {
		summary.SourcesTotal = fetchStats.Sources
		summary.SourcesErrored = fetchStats.SourcesErrored
	}
	if result.stats != nil {
		summary.CountsBySourceType = result.stats.BySourceType
		summary.CountsByQuality = result.stats.ByBucket
	}

	c.logger.Info("pipeline completed",
		slog.String("batch_id", summary.BatchID),
		slog.Duration("elapsed", summary.Elapsed),
		slog.Bool("cancelled", summary.Cancelled),
		slog.Int("sources", summary.SourcesTotal),
		slog.Int("sources_errored", summary.SourcesErrored),
		slog.Any("counts_by_quality", summary.CountsByQuality))

	return summary, result.err
}

// sendSentinels delivers n nil sentinels. Sends block in the normal path
// so no in-flight post is skipped; once the run context is cancelled each
// send is bounded by the drain window, after which remaining sentinels are
// abandoned together with the queued items.
func (c *Coordinator) sendSentinels(ctx context.Context, ch chan<- *entity.Post, n int) {
	for i := 0; i < n; i++ {
		if ctx.Err() == nil {
			ch <- nil
			continue
		}
		select {
		case ch <- nil:
		case <-time.After(drainTimeout):
			c.logger.Warn("sentinel delivery timed out, discarding queue",
				slog.Int("undelivered", n-i))
			return
		}
	}
}

type writerResult struct {
	stats *write.Stats
	err   error
}

// NewBatchID derives the batch identifier from the wall clock.
func NewBatchID(now time.Time) string {
	return now.Format("20060102_150405")
}
