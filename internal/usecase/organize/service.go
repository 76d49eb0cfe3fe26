// Package organize implements the third pipeline stage: classifying and
// scoring each enriched post with a single LLM call. Classification
// failures never stop a post; after the configured retries it is marked
// excluded and forwarded so the writer still files it.
package organize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/observability/metrics"
)

// DefaultCategories is the category enum offered to the LLM when the
// configuration does not override it.
var DefaultCategories = []string{
	"product launch", "feature update", "partnership", "funding",
	"research", "opinion", "event", "other",
}

// Request carries the prompt parameters for one classification call.
type Request struct {
	Title             string
	Date              string
	SourceName        string
	Content           string
	ExtraContent      string
	AllowedDomains    []string
	AllowedCategories []string
}

// Classification is the structured result of one LLM call.
type Classification struct {
	Event         string   `json:"event"`
	Category      string   `json:"category"`
	Domain        string   `json:"domain"`
	QualityScore  int      `json:"quality_score"`
	QualityReason string   `json:"quality_reason"`
	KeyInfo       []string `json:"key_info"`
	Detail        string   `json:"detail"`
}

// Classifier performs the LLM classification call.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Classification, error)
}

// ErrorReporter records a recoverable error into the per-run error log.
type ErrorReporter interface {
	Report(stage, source string, err error)
}

// maxKeyInfo caps the key_info list returned by the LLM.
const maxKeyInfo = 10

// Stage is the organize stage worker pool.
type Stage struct {
	cfg        config.OrganizerConfig
	classifier Classifier
	reporter   ErrorReporter
	logger     *slog.Logger
}

// NewStage creates the organize stage.
func NewStage(cfg config.OrganizerConfig, classifier Classifier, reporter ErrorReporter, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		cfg:        cfg,
		classifier: classifier,
		reporter:   reporter,
		logger:     logger.With(slog.String("stage", "organize")),
	}
}

// Worker consumes posts from in until it reads a nil sentinel, classifying
// each and forwarding it to out.
func (s *Stage) Worker(ctx context.Context, in <-chan *entity.Post, out chan<- *entity.Post) error {
	for post := range in {
		if post == nil {
			return nil
		}
		s.organizePost(ctx, post)

		select {
		case out <- post:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// organizePost runs the classification with retries and applies the
// validated result to the post.
func (s *Stage) organizePost(ctx context.Context, post *entity.Post) {
	req := Request{
		Title:             post.Title,
		Date:              post.Date,
		SourceName:        post.SourceName,
		Content:           post.Content,
		ExtraContent:      post.ExtraContent,
		AllowedDomains:    s.cfg.AllowedDomains,
		AllowedCategories: DefaultCategories,
	}

	start := time.Now()
	var result *Classification
	var err error
	for attempt := 0; attempt <= s.cfg.RetryOnFailure; attempt++ {
		result, err = s.classifier.Classify(ctx, req)
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) {
			break
		}
		s.logger.Warn("classification attempt failed",
			slog.String("link", post.Link),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	duration := time.Since(start)

	if err != nil {
		wrapped := fmt.Errorf("%w: %s: %v", entity.ErrLLM, post.Link, err)
		s.logger.Warn("classification failed, excluding post",
			slog.String("source", post.SourceName),
			slog.String("link", post.Link),
			slog.Any("error", err))
		metrics.RecordPostOrganized(false, duration)
		if s.reporter != nil {
			s.reporter.Report("organize", post.SourceName, wrapped)
		}
		post.QualityScore = 0
		post.QualityReason = "organizer_failed"
		post.Event = ""
		post.Category = ""
		post.Domain = "Others"
		post.KeyInfo = nil
		post.Detail = ""
		return
	}

	s.apply(post, result)
	metrics.RecordPostOrganized(true, duration)
	s.logger.Debug("post classified",
		slog.String("link", post.Link),
		slog.String("domain", post.Domain),
		slog.Int("quality_score", post.QualityScore))
}

// apply validates the classification and copies it onto the post:
// quality_score clamped to 0..5, domain defaulted to Others when outside
// the allowed set, key_info capped.
func (s *Stage) apply(post *entity.Post, c *Classification) {
	score := c.QualityScore
	if score < 0 {
		score = 0
	}
	if score > 5 {
		score = 5
	}

	domain := c.Domain
	if !contains(s.cfg.AllowedDomains, domain) {
		domain = "Others"
	}

	keyInfo := c.KeyInfo
	if len(keyInfo) > maxKeyInfo {
		keyInfo = keyInfo[:maxKeyInfo]
	}

	post.Event = c.Event
	post.Category = c.Category
	post.Domain = domain
	post.QualityScore = score
	post.QualityReason = c.QualityReason
	post.KeyInfo = keyInfo
	post.Detail = c.Detail
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
