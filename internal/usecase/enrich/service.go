// Package enrich implements the second pipeline stage: resolving the
// external URLs embedded in a post and transcribing linked videos, then
// accumulating the results into the post's extra content. Enrichment is
// best-effort; a post always proceeds downstream.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/observability/metrics"
)

// WebRenderer fetches a URL through a dynamically-rendering client and
// returns the main textual body.
type WebRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// VideoTranscriber produces optimized subtitle text for a video URL.
// contextText is the surrounding post content, used by the transcriber to
// correct misrecognized domain terms. A failed transcription returns an
// empty string, never an error the stage has to handle.
type VideoTranscriber interface {
	Transcribe(ctx context.Context, videoURL, contextText, sourceName string) (string, error)
}

// ErrorReporter records a recoverable error into the per-run error log.
type ErrorReporter interface {
	Report(stage, source string, err error)
}

// excerptLimit caps the text appended per embedded URL.
const excerptLimit = 3000

// selfLinkHosts lists, per source type, the hosts of the originating
// platform. Links back into the platform are dropped before enrichment.
var selfLinkHosts = map[entity.SourceType][]string{
	entity.SourceMicroblog:     {"x.com", "twitter.com", "t.co"},
	entity.SourceVideo:         {"youtube.com", "youtu.be"},
	entity.SourcePublicAccount: {"mp.weixin.qq.com"},
	entity.SourceBlog:          nil,
}

// videoHosts are the hosts of the supported video platform.
var videoHosts = []string{"youtube.com", "youtu.be"}

// Stage is the enrich stage worker pool.
type Stage struct {
	cfg         config.EnricherConfig
	renderer    WebRenderer
	transcriber VideoTranscriber
	reporter    ErrorReporter
	logger      *slog.Logger
}

// NewStage creates the enrich stage. renderer and transcriber may be nil,
// which disables the corresponding enrichment kind.
func NewStage(
	cfg config.EnricherConfig,
	renderer WebRenderer,
	transcriber VideoTranscriber,
	reporter ErrorReporter,
	logger *slog.Logger,
) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		cfg:         cfg,
		renderer:    renderer,
		transcriber: transcriber,
		reporter:    reporter,
		logger:      logger.With(slog.String("stage", "enrich")),
	}
}

// Worker consumes posts from in until it reads a nil sentinel, enriching
// each and forwarding it to out. Every post is forwarded regardless of
// enrichment outcome.
func (s *Stage) Worker(ctx context.Context, in <-chan *entity.Post, out chan<- *entity.Post) error {
	for post := range in {
		if post == nil {
			return nil
		}
		start := time.Now()
		s.enrichPost(ctx, post)
		metrics.RecordPostEnriched(time.Since(start))

		select {
		case out <- post:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// enrichPost resolves the post's embedded URLs. Order: URLs already on the
// post, then URLs scanned from its content, deduplicated, self-links
// filtered, capped at max_urls_per_post. Video-source posts additionally
// get their own link transcribed, since the self-link filter keeps it out
// of ExtraURLs.
func (s *Stage) enrichPost(ctx context.Context, post *entity.Post) {
	var sections []string

	if post.SourceType == entity.SourceVideo && s.transcriber != nil {
		if text := s.transcribe(ctx, post, post.Link); text != "" {
			sections = append(sections, "[Video Transcript]\n"+text)
		}
	}

	urls := s.collectURLs(post)
	for _, u := range urls {
		if isVideoURL(u) {
			if s.transcriber == nil {
				continue
			}
			if text := s.transcribe(ctx, post, u); text != "" {
				sections = append(sections, "[Video Transcript]\n"+text)
			}
			continue
		}

		if s.renderer == nil {
			continue
		}
		text, err := s.render(ctx, u)
		if err != nil {
			s.reportEnrichError(post, u, err)
			metrics.RecordEnrichURL("web", false)
			continue
		}
		metrics.RecordEnrichURL("web", true)
		sections = append(sections, fmt.Sprintf("[Embedded: %s]\n%s", hostOf(u), excerpt(text)))
	}

	if len(sections) > 0 {
		post.ExtraContent = strings.Join(sections, "\n\n")
	}
}

// collectURLs merges the fetcher-provided URLs with URLs scanned from the
// content, applies the self-link filter, and caps the result.
func (s *Stage) collectURLs(post *entity.Post) []string {
	for _, u := range ScanURLs(post.Content) {
		post.AddExtraURL(u)
	}

	filtered := post.ExtraURLs[:0]
	for _, u := range post.ExtraURLs {
		if isSelfLink(post.SourceType, u) {
			continue
		}
		filtered = append(filtered, u)
	}
	post.ExtraURLs = filtered

	if len(post.ExtraURLs) > s.cfg.MaxURLsPerPost {
		return post.ExtraURLs[:s.cfg.MaxURLsPerPost]
	}
	return post.ExtraURLs
}

func (s *Stage) render(ctx context.Context, u string) (string, error) {
	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.URLTimeout)
	defer cancel()
	return s.renderer.Render(renderCtx, u)
}

func (s *Stage) transcribe(ctx context.Context, post *entity.Post, videoURL string) string {
	text, err := s.transcriber.Transcribe(ctx, videoURL, post.Content, post.SourceName)
	if err != nil {
		s.reportEnrichError(post, videoURL, err)
		metrics.RecordEnrichURL("video", false)
		return ""
	}
	if text != "" {
		metrics.RecordEnrichURL("video", true)
	}
	return text
}

func (s *Stage) reportEnrichError(post *entity.Post, u string, err error) {
	wrapped := fmt.Errorf("%w: %s: %v", entity.ErrEnrich, u, err)
	s.logger.Warn("enrichment failed for url, skipping",
		slog.String("source", post.SourceName),
		slog.String("link", post.Link),
		slog.String("url", u),
		slog.Any("error", err))
	if s.reporter != nil {
		s.reporter.Report("enrich", post.SourceName, wrapped)
	}
}

// isSelfLink reports whether u points back into the originating platform.
func isSelfLink(sourceType entity.SourceType, u string) bool {
	host := hostOf(u)
	for _, self := range selfLinkHosts[sourceType] {
		if host == self || strings.HasSuffix(host, "."+self) {
			return true
		}
	}
	return false
}

// isVideoURL reports whether u points at the supported video platform.
func isVideoURL(u string) bool {
	host := hostOf(u)
	for _, v := range videoHosts {
		if host == v || strings.HasSuffix(host, "."+v) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= excerptLimit {
		return text
	}
	return string(runes[:excerptLimit]) + "…"
}
