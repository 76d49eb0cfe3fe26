package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	pkgconfig "prodscout/pkg/config"
)

// YTDLPExtractor implements AudioExtractor by shelling out to yt-dlp for
// an audio-only download. The binary path can be overridden via the
// YTDLP_PATH environment variable.
type YTDLPExtractor struct {
	binary string
}

// NewYTDLPExtractor creates the extractor.
func NewYTDLPExtractor() *YTDLPExtractor {
	return &YTDLPExtractor{
		binary: pkgconfig.GetEnvString("YTDLP_PATH", "yt-dlp"),
	}
}

// ExtractAudio downloads the audio stream of videoURL into destDir and
// returns the audio file path plus the platform video id.
func (y *YTDLPExtractor) ExtractAudio(ctx context.Context, videoURL, destDir string) (string, string, error) {
	outTemplate := filepath.Join(destDir, "%(id)s.%(ext)s")

	// --print id emits the video id; --print after_move:filepath emits the
	// final audio path after post-processing.
	cmd := exec.CommandContext(ctx, y.binary,
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"-x", "--audio-format", "mp3",
		"--print", "id",
		"--print", "after_move:filepath",
		"--no-simulate",
		"-o", outTemplate,
		videoURL,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) < 2 {
		return "", "", fmt.Errorf("yt-dlp: unexpected output %q", stdout.String())
	}
	videoID := strings.TrimSpace(lines[0])
	audioPath := strings.TrimSpace(lines[len(lines)-1])
	if videoID == "" || audioPath == "" {
		return "", "", fmt.Errorf("yt-dlp: missing id or path in output %q", stdout.String())
	}

	return audioPath, videoID, nil
}
