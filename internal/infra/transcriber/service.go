// Package transcriber turns a linked video into optimized subtitle text:
// audio extraction via an external downloader, automatic speech
// recognition, and a context-aware LLM rewrite that fixes misrecognized
// domain terms. Raw and optimized transcripts are persisted as run
// artifacts.
package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"prodscout/internal/observability/metrics"
)

// defaultTimeout bounds one end-to-end transcription.
const defaultTimeout = 600 * time.Second

// Segment is one timed piece of a transcript.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcript is the raw ASR output.
type Transcript struct {
	Text     string
	Segments []Segment
}

// AudioExtractor downloads the audio-only stream of a video.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoURL, destDir string) (audioPath, videoID string, err error)
}

// ASRBackend converts an audio file into a timed transcript.
type ASRBackend interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
}

// Optimizer rewrites a raw transcript into flowing prose using the
// surrounding post content as a correction hint.
type Optimizer interface {
	OptimizeTranscript(ctx context.Context, rawTranscript, contextText string) (string, error)
}

// Service orchestrates the three transcription steps. Any sub-step
// failure yields an empty string so the enricher can continue with other
// URLs.
type Service struct {
	extractor AudioExtractor
	asr       ASRBackend
	optimizer Optimizer
	rawDir    string // data/<batch>/raw
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates the transcriber. rawDir is the batch raw artifact
// directory; per-video artifacts land under <rawDir>/<source>_<video_id>/.
func NewService(extractor AudioExtractor, asr ASRBackend, optimizer Optimizer, rawDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor: extractor,
		asr:       asr,
		optimizer: optimizer,
		rawDir:    rawDir,
		timeout:   defaultTimeout,
		logger:    logger,
	}
}

// Transcribe produces optimized subtitle text for videoURL. contextText is
// the post content that linked the video. The error return is always nil;
// failures are logged and reported as an empty transcript.
func (s *Service) Transcribe(ctx context.Context, videoURL, contextText, sourceName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	text, err := s.transcribe(ctx, videoURL, contextText, sourceName)
	if err != nil {
		s.logger.Warn("video transcription failed",
			slog.String("video_url", videoURL),
			slog.String("source", sourceName),
			slog.Any("error", err))
		return "", nil
	}
	metrics.RecordTranscription(time.Since(start))
	return text, nil
}

func (s *Service) transcribe(ctx context.Context, videoURL, contextText, sourceName string) (string, error) {
	workDir, err := os.MkdirTemp("", "prodscout-audio-*")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(workDir)
	}()

	audioPath, videoID, err := s.extractor.ExtractAudio(ctx, videoURL, workDir)
	if err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}

	transcript, err := s.asr.Transcribe(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("speech recognition: %w", err)
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return "", fmt.Errorf("speech recognition produced no text")
	}

	optimized, err := s.optimizer.OptimizeTranscript(ctx, transcript.Text, contextText)
	if err != nil {
		return "", fmt.Errorf("optimize transcript: %w", err)
	}

	s.saveArtifacts(sourceName, videoID, transcript, optimized)

	s.logger.Info("video transcribed",
		slog.String("video_id", videoID),
		slog.String("source", sourceName),
		slog.Int("raw_length", len(transcript.Text)),
		slog.Int("optimized_length", len(optimized)))
	return optimized, nil
}

// saveArtifacts persists the timed raw subtitle and the optimized text
// under <rawDir>/<source>_<video_id>/. Artifact failures are logged, not
// fatal.
func (s *Service) saveArtifacts(sourceName, videoID string, transcript *Transcript, optimized string) {
	if s.rawDir == "" || videoID == "" {
		return
	}
	dir := filepath.Join(s.rawDir, sanitize(sourceName)+"_"+sanitize(videoID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("create transcript artifact dir failed",
			slog.String("dir", dir),
			slog.Any("error", err))
		return
	}

	srtPath := filepath.Join(dir, videoID+".srt")
	if err := os.WriteFile(srtPath, []byte(FormatSRT(transcript.Segments)), 0o644); err != nil {
		s.logger.Warn("write srt artifact failed",
			slog.String("path", srtPath),
			slog.Any("error", err))
	}

	txtPath := filepath.Join(dir, videoID+".txt")
	if err := os.WriteFile(txtPath, []byte(optimized), 0o644); err != nil {
		s.logger.Warn("write transcript artifact failed",
			slog.String("path", txtPath),
			slog.Any("error", err))
	}
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
