package transcriber

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"prodscout/internal/config"
)

// WhisperASR implements ASRBackend against the audio transcription
// endpoint of an OpenAI-compatible server, reusing the [llm] credentials
// and base URL.
type WhisperASR struct {
	client *openai.Client
	model  string
}

// NewWhisperASR creates the ASR backend.
func NewWhisperASR(cfg config.LLMConfig) *WhisperASR {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &WhisperASR{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.Whisper1,
	}
}

// Transcribe runs speech recognition over the audio file, returning the
// full text and timed segments.
func (w *WhisperASR) Transcribe(ctx context.Context, audioPath string) (*Transcript, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription api error: %w", err)
	}

	transcript := &Transcript{Text: resp.Text}
	for _, seg := range resp.Segments {
		transcript.Segments = append(transcript.Segments, Segment{
			Start: time.Duration(seg.Start * float64(time.Second)),
			End:   time.Duration(seg.End * float64(time.Second)),
			Text:  seg.Text,
		})
	}
	return transcript, nil
}
