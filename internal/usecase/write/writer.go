// Package write implements the final pipeline stage: persisting each post
// into the canonical on-disk layout, maintaining run statistics, and
// emitting the batch manifest as its last act. The writer is
// single-threaded; serializing writes keeps the directory tree consistent
// without locking.
package write

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/observability/metrics"
)

// otherEntity is the fallback bucket for posts matching no configured
// entity.
const otherEntity = "Others"

// ErrorReporter records a recoverable error into the per-run error log.
type ErrorReporter interface {
	Report(stage, source string, err error)
}

// Stats holds the writer's running counters.
type Stats struct {
	Written       int            `json:"written"`
	BySourceType  map[string]int `json:"counts_by_source_type"`
	ByBucket      map[string]int `json:"counts_by_bucket"`
	ByDomain      map[string]int `json:"counts_by_domain"`
	ByEntity      map[string]int `json:"counts_by_entity"`
	WriteFailures int            `json:"write_failures"`
}

// Manifest is the batch manifest written after the last post.
type Manifest struct {
	BatchID            string         `json:"batch_id"`
	StartedAt          time.Time      `json:"started_at"`
	EndedAt            time.Time      `json:"ended_at"`
	Cancelled          bool           `json:"cancelled"`
	CountsBySourceType map[string]int `json:"counts_by_source_type"`
	CountsByBucket     map[string]int `json:"counts_by_bucket"`
	CountsByDomain     map[string]int `json:"counts_by_domain"`
	CountsByEntity     map[string]int `json:"counts_by_entity"`
}

// latestPointer is the data/latest_batch.json payload.
type latestPointer struct {
	BatchID string `json:"batch_id"`
	Path    string `json:"path"`
}

// Writer is the write stage.
type Writer struct {
	dataDir   string
	batchID   string
	batchDir  string
	entities  []config.EntityConfig
	stats     Stats
	startedAt time.Time
	written   map[string]bool // file paths, duplicate-write guard
	reporter  ErrorReporter
	logger    *slog.Logger
}

// NewWriter creates the write stage for one batch.
func NewWriter(dataDir, batchID string, entities []config.EntityConfig, reporter ErrorReporter, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		dataDir:  dataDir,
		batchID:  batchID,
		batchDir: filepath.Join(dataDir, batchID),
		entities: entities,
		stats: Stats{
			BySourceType: make(map[string]int),
			ByBucket:     make(map[string]int),
			ByDomain:     make(map[string]int),
			ByEntity:     make(map[string]int),
		},
		startedAt: time.Now(),
		written:   make(map[string]bool),
		reporter:  reporter,
		logger:    logger.With(slog.String("stage", "write")),
	}
}

// BatchDir returns the batch directory path.
func (w *Writer) BatchDir() string {
	return w.batchDir
}

// Run consumes posts from in until it reads the nil sentinel, then writes
// the manifest and the latest-batch pointer. cancelled is recorded in the
// manifest when the run context was cancelled.
func (w *Writer) Run(ctx context.Context, in <-chan *entity.Post) (*Stats, error) {
	for post := range in {
		if post == nil {
			break
		}
		w.writePost(post)
	}

	cancelled := ctx.Err() != nil
	if err := w.writeManifest(cancelled); err != nil {
		return &w.stats, err
	}
	w.logger.Info("writer finished",
		slog.Int("written", w.stats.Written),
		slog.Int("write_failures", w.stats.WriteFailures),
		slog.Bool("cancelled", cancelled))
	return &w.stats, nil
}

// writePost persists one post under By-Domain and By-Entity. A failed
// write is retried once; a post that still fails is dropped with an error
// record.
func (w *Writer) writePost(post *entity.Post) {
	post.ContentHash = post.HashLink()

	err := w.doWrite(post)
	if err != nil {
		w.logger.Warn("post write failed, retrying once",
			slog.String("link", post.Link),
			slog.Any("error", err))
		err = w.doWrite(post)
	}
	if err != nil {
		wrapped := fmt.Errorf("%w: %s: %v", entity.ErrWrite, post.Link, err)
		w.logger.Error("post write failed, dropping",
			slog.String("link", post.Link),
			slog.Any("error", err))
		w.stats.WriteFailures++
		if w.reporter != nil {
			w.reporter.Report("write", post.SourceName, wrapped)
		}
		return
	}

	w.stats.Written++
	w.stats.BySourceType[string(post.SourceType)]++
	w.stats.ByBucket[string(post.Bucket())]++
	w.stats.ByDomain[post.Domain]++
	metrics.RecordPostWritten(post.Bucket())
}

func (w *Writer) doWrite(post *entity.Post) error {
	content := RenderMarkdown(post)
	filename := fmt.Sprintf("%s_%s_%s.md", sanitize(post.SourceName), post.Date, post.ContentHash)

	domain := post.Domain
	if domain == "" {
		domain = otherEntity
	}
	domainPath := filepath.Join(w.batchDir, "By-Domain", sanitize(domain), string(post.Bucket()), filename)
	if err := w.writeFile(domainPath, content); err != nil {
		return err
	}

	// Entity-negative posts land under Others, excluded bucket included.
	entities := w.matchEntities(post)
	for _, name := range entities {
		entityPath := filepath.Join(w.batchDir, "By-Entity", sanitize(name), filename)
		if err := w.writeFile(entityPath, content); err != nil {
			return err
		}
		w.stats.ByEntity[name]++
	}

	return nil
}

// writeFile creates parent directories and writes content once. A path
// already written in this run is an invariant violation and is skipped.
func (w *Writer) writeFile(path, content string) error {
	if w.written[path] {
		w.logger.Warn("duplicate write suppressed", slog.String("path", path))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.written[path] = true
	return nil
}

// matchEntities returns the configured entities whose aliases appear in
// the post's content, extra content, or source name. Matching is
// case-insensitive substring. No match yields the Others bucket.
func (w *Writer) matchEntities(post *entity.Post) []string {
	haystack := strings.ToLower(post.Content + "\n" + post.ExtraContent + "\n" + post.SourceName)
	var matched []string
	for _, e := range w.entities {
		aliases := e.Aliases
		if len(aliases) == 0 {
			aliases = []string{e.Name}
		}
		for _, alias := range aliases {
			if alias == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(alias)) {
				matched = append(matched, e.Name)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{otherEntity}
	}
	return matched
}

// writeManifest writes batch_manifest.json and data/latest_batch.json.
// The manifest is strictly the writer's last act.
func (w *Writer) writeManifest(cancelled bool) error {
	if err := os.MkdirAll(w.batchDir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir batch dir: %v", entity.ErrWrite, err)
	}

	manifest := Manifest{
		BatchID:            w.batchID,
		StartedAt:          w.startedAt,
		EndedAt:            time.Now(),
		Cancelled:          cancelled,
		CountsBySourceType: w.stats.BySourceType,
		CountsByBucket:     w.stats.ByBucket,
		CountsByDomain:     w.stats.ByDomain,
		CountsByEntity:     w.stats.ByEntity,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %v", entity.ErrWrite, err)
	}
	manifestPath := filepath.Join(w.batchDir, "batch_manifest.json")
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: write manifest: %v", entity.ErrWrite, err)
	}

	pointer, err := json.MarshalIndent(latestPointer{BatchID: w.batchID, Path: w.batchDir}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal latest pointer: %v", entity.ErrWrite, err)
	}
	pointerPath := filepath.Join(w.dataDir, "latest_batch.json")
	if err := os.WriteFile(pointerPath, pointer, 0o644); err != nil {
		return fmt.Errorf("%w: write latest pointer: %v", entity.ErrWrite, err)
	}

	return nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}
