// Package fetch implements the first pipeline stage: polling every
// configured source, normalizing items into posts, and pushing them onto
// the fetch queue. General sources run on a bounded parallel pool;
// microblog sources run serially on a restricted pool with randomized
// pauses, because the target platform rate-limits per credential and per
// IP.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/observability/metrics"
)

// FeedItem represents a single item from an RSS/Atom feed.
type FeedItem struct {
	Title       string
	URL         string
	Content     string
	PublishedAt time.Time
}

// FeedFetcher is an interface for fetching RSS/Atom feeds from a URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]FeedItem, error)
}

// MicroblogFetcher fetches a user's recent posts through the direct
// scraper. SleepBetweenUsers applies the configured randomized pause
// between consecutive users on the restricted pool.
type MicroblogFetcher interface {
	FetchUserPosts(ctx context.Context, handle, sourceName string) ([]*entity.Post, error)
	SleepBetweenUsers(ctx context.Context) error
}

// ErrorReporter records a recoverable error into the per-run error log.
type ErrorReporter interface {
	Report(stage, source string, err error)
}

// Stats summarizes a fetch stage run.
type Stats struct {
	Sources        int
	SourcesErrored int
	Posts          int
}

// Stage is the fetch stage. It owns the two scheduling pools and the
// lookback date filter.
type Stage struct {
	cfg       config.FetcherConfig
	sources   []config.SourceConfig
	feeds     FeedFetcher
	microblog MicroblogFetcher // nil when the direct scraper is disabled
	rawDir    string           // data/<batch>/raw
	reporter  ErrorReporter
	logger    *slog.Logger
}

// NewStage creates the fetch stage. microblog may be nil; microblog
// sources configured with a feed URL then still work through the feed
// fetcher on the restricted pool.
func NewStage(
	cfg config.FetcherConfig,
	sources []config.SourceConfig,
	feeds FeedFetcher,
	microblog MicroblogFetcher,
	rawDir string,
	reporter ErrorReporter,
	logger *slog.Logger,
) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		cfg:       cfg,
		sources:   sources,
		feeds:     feeds,
		microblog: microblog,
		rawDir:    rawDir,
		reporter:  reporter,
		logger:    logger.With(slog.String("stage", "fetch")),
	}
}

// Run fetches all sources and pushes their posts onto out. It returns when
// every source task has finished; the caller then enqueues the shutdown
// sentinels. A source failure is logged and skipped, never fatal.
func (s *Stage) Run(ctx context.Context, out chan<- *entity.Post) (*Stats, error) {
	stats := &Stats{Sources: len(s.sources)}

	var general, restricted []config.SourceConfig
	for _, src := range s.sources {
		if src.Type == entity.SourceMicroblog {
			restricted = append(restricted, src)
		} else {
			general = append(general, src)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	results := make(chan sourceResult, len(s.sources))

	// Restricted pool: strictly serial, randomized pause before each task.
	eg.Go(func() error {
		for i, src := range restricted {
			if err := sleepCtx(egCtx, uniformDelay(s.cfg.DelayMin, s.cfg.DelayMax)); err != nil {
				return err
			}
			n, err := s.fetchMicroblogSource(egCtx, src, out)
			results <- sourceResult{src: src, posts: n, err: err}
			if i < len(restricted)-1 && s.microblog != nil {
				if err := s.microblog.SleepBetweenUsers(egCtx); err != nil {
					return err
				}
			}
		}
		return nil
	})

	// General pool: bounded parallel fetch of all other source types.
	sem := make(chan struct{}, s.cfg.GeneralPoolSize)
	for _, source := range general {
		src := source
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			n, err := s.fetchFeedSource(egCtx, src, out)
			results <- sourceResult{src: src, posts: n, err: err}
			return nil
		})
	}

	err := eg.Wait()
	close(results)
	for r := range results {
		if r.err != nil {
			stats.SourcesErrored++
			continue
		}
		stats.Posts += r.posts
	}

	s.logger.Info("fetch stage completed",
		slog.Int("sources", stats.Sources),
		slog.Int("errored", stats.SourcesErrored),
		slog.Int("posts", stats.Posts))
	return stats, err
}

type sourceResult struct {
	src   config.SourceConfig
	posts int
	err   error
}

// fetchMicroblogSource fetches one microblog source, preferring the direct
// scraper for bare handles and falling back to the feed fetcher for feed
// URLs.
func (s *Stage) fetchMicroblogSource(ctx context.Context, src config.SourceConfig, out chan<- *entity.Post) (int, error) {
	if isFeedURL(src.Feed) {
		return s.fetchFeedSource(ctx, src, out)
	}
	if s.microblog == nil {
		err := fmt.Errorf("%w: source %s needs the direct scraper but [x_scraper] is disabled", entity.ErrSource, src.Name)
		s.reportSourceError(src, err)
		return 0, err
	}

	posts, err := s.microblog.FetchUserPosts(ctx, strings.TrimPrefix(src.Feed, "@"), src.Name)
	if err != nil {
		s.reportSourceError(src, fmt.Errorf("%w: %s: %v", entity.ErrSource, src.Name, err))
		// Posts collected before the failure are still emitted below.
		if len(posts) == 0 {
			return 0, err
		}
	}

	emitted, emitErr := s.emitPosts(ctx, src, posts, out)
	if emitErr != nil {
		return emitted, emitErr
	}
	return emitted, err
}

// fetchFeedSource fetches one RSS/Atom-style source.
func (s *Stage) fetchFeedSource(ctx context.Context, src config.SourceConfig, out chan<- *entity.Post) (int, error) {
	items, err := s.feeds.Fetch(ctx, src.Feed)
	if err != nil {
		s.reportSourceError(src, fmt.Errorf("%w: %s: %v", entity.ErrSource, src.Name, err))
		return 0, err
	}

	posts := make([]*entity.Post, 0, len(items))
	for _, item := range items {
		if item.PublishedAt.IsZero() {
			s.logger.Warn("dropping item with unparseable date",
				slog.String("source", src.Name),
				slog.String("url", item.URL))
			continue
		}
		posts = append(posts, &entity.Post{
			Title:      item.Title,
			Date:       item.PublishedAt.Format("2006-01-02"),
			Link:       item.URL,
			SourceType: src.Type,
			SourceName: src.Name,
			Content:    item.Content,
		})
	}

	return s.emitPosts(ctx, src, posts, out)
}

// emitPosts applies the lookback filter, validates, persists the raw
// payload, and pushes posts downstream.
func (s *Stage) emitPosts(ctx context.Context, src config.SourceConfig, posts []*entity.Post, out chan<- *entity.Post) (int, error) {
	now := time.Now()
	kept := make([]*entity.Post, 0, len(posts))
	for _, post := range posts {
		within, err := post.WithinLookback(now, s.cfg.LookbackDays)
		if err != nil {
			s.logger.Warn("dropping post with unparseable date",
				slog.String("source", src.Name),
				slog.String("link", post.Link),
				slog.String("date", post.Date))
			continue
		}
		if !within {
			continue
		}
		if err := post.Validate(); err != nil {
			s.logger.Warn("dropping invalid post",
				slog.String("source", src.Name),
				slog.Any("error", err))
			continue
		}
		kept = append(kept, post)
	}

	s.saveRaw(src, kept)
	metrics.RecordPostsFetched(src.Name, src.Type, len(kept))

	for _, post := range kept {
		select {
		case out <- post:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.logger.Info("source fetched",
		slog.String("source", src.Name),
		slog.String("source_type", string(src.Type)),
		slog.Int("posts", len(kept)),
		slog.Int("dropped", len(posts)-len(kept)))
	return len(kept), nil
}

// saveRaw persists the normalized source payload under raw/.
func (s *Stage) saveRaw(src config.SourceConfig, posts []*entity.Post) {
	if s.rawDir == "" || len(posts) == 0 {
		return
	}
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		s.logger.Warn("marshal raw payload failed",
			slog.String("source", src.Name),
			slog.Any("error", err))
		return
	}
	path := filepath.Join(s.rawDir, sanitizeFilename(src.Name)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("write raw payload failed",
			slog.String("source", src.Name),
			slog.String("path", path),
			slog.Any("error", err))
	}
}

func (s *Stage) reportSourceError(src config.SourceConfig, err error) {
	s.logger.Warn("source failed, skipping",
		slog.String("source", src.Name),
		slog.String("source_type", string(src.Type)),
		slog.Any("error", err))
	metrics.RecordSourceError(src.Name, entity.ErrorKind(err))
	if s.reporter != nil {
		s.reporter.Report("fetch", src.Name, err)
	}
}

// isFeedURL distinguishes feed URLs from bare account handles.
func isFeedURL(feed string) bool {
	return strings.HasPrefix(feed, "http://") || strings.HasPrefix(feed, "https://")
}

// sanitizeFilename replaces path-hostile characters in a source name.
func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

func uniformDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	// #nosec G404 -- pacing jitter only.
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
