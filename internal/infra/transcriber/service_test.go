package transcriber_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"prodscout/internal/infra/transcriber"
)

type fakeExtractor struct {
	videoID string
	err     error
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _, destDir string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	path := filepath.Join(destDir, f.videoID+".mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
		return "", "", err
	}
	return path, f.videoID, nil
}

type fakeASR struct {
	transcript *transcriber.Transcript
	err        error
}

func (f *fakeASR) Transcribe(_ context.Context, _ string) (*transcriber.Transcript, error) {
	return f.transcript, f.err
}

type fakeOptimizer struct {
	lastContext string
}

// OptimizeTranscript simulates the context-aware correction: the
// misrecognized "pythagoras theorem" is fixed when the context mentions
// the proper form.
func (f *fakeOptimizer) OptimizeTranscript(_ context.Context, raw, contextText string) (string, error) {
	f.lastContext = contextText
	if strings.Contains(contextText, "Pythagorean theorem") {
		return strings.ReplaceAll(raw, "pythagoras theorem", "Pythagorean theorem"), nil
	}
	return raw, nil
}

func TestService_ContextAwareCorrection(t *testing.T) {
	rawDir := t.TempDir()
	asr := &fakeASR{transcript: &transcriber.Transcript{
		Text: "today we prove the pythagoras theorem on the whiteboard",
		Segments: []transcriber.Segment{
			{Start: 0, End: 2 * time.Second, Text: "today we prove"},
			{Start: 2 * time.Second, End: 5 * time.Second, Text: "the pythagoras theorem on the whiteboard"},
		},
	}}
	optimizer := &fakeOptimizer{}
	svc := transcriber.NewService(&fakeExtractor{videoID: "vid123"}, asr, optimizer, rawDir, nil)

	postContent := "short clip about the Pythagorean theorem"
	text, err := svc.Transcribe(context.Background(), "https://youtu.be/vid123", postContent, "Math Channel")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	if !strings.Contains(text, "Pythagorean theorem") {
		t.Errorf("transcript not corrected: %q", text)
	}
	if optimizer.lastContext != postContent {
		t.Errorf("optimizer context = %q, want post content", optimizer.lastContext)
	}
}

func TestService_PersistsArtifacts(t *testing.T) {
	rawDir := t.TempDir()
	asr := &fakeASR{transcript: &transcriber.Transcript{
		Text: "hello world",
		Segments: []transcriber.Segment{
			{Start: 0, End: 1500 * time.Millisecond, Text: "hello world"},
		},
	}}
	svc := transcriber.NewService(&fakeExtractor{videoID: "vid9"}, asr, &fakeOptimizer{}, rawDir, nil)

	if _, err := svc.Transcribe(context.Background(), "https://youtu.be/vid9", "", "Chan"); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	srt, err := os.ReadFile(filepath.Join(rawDir, "Chan_vid9", "vid9.srt"))
	if err != nil {
		t.Fatalf("srt artifact missing: %v", err)
	}
	if !strings.Contains(string(srt), "00:00:00,000 --> 00:00:01,500") {
		t.Errorf("srt timing wrong:\n%s", srt)
	}
	if _, err := os.Stat(filepath.Join(rawDir, "Chan_vid9", "vid9.txt")); err != nil {
		t.Errorf("txt artifact missing: %v", err)
	}
}

func TestService_FailureReturnsEmpty(t *testing.T) {
	svc := transcriber.NewService(
		&fakeExtractor{err: errors.New("download blocked")},
		&fakeASR{},
		&fakeOptimizer{},
		t.TempDir(),
		nil,
	)

	text, err := svc.Transcribe(context.Background(), "https://youtu.be/x", "", "Chan")
	if err != nil {
		t.Fatalf("Transcribe() error = %v, want nil on sub-step failure", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestFormatSRT(t *testing.T) {
	out := transcriber.FormatSRT([]transcriber.Segment{
		{Start: 0, End: 1200 * time.Millisecond, Text: "one"},
		{Start: 1200 * time.Millisecond, End: 65 * time.Second, Text: "two"},
	})

	want := "1\n00:00:00,000 --> 00:00:01,200\none\n\n2\n00:00:01,200 --> 00:01:05,000\ntwo\n\n"
	if out != want {
		t.Errorf("FormatSRT() =\n%q\nwant\n%q", out, want)
	}
}
