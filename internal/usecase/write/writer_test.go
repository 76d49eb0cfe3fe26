package write_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/usecase/write"
)

func makePost(link, date string, score int, domain, sourceName, content string) *entity.Post {
	return &entity.Post{
		Title:         "t",
		Date:          date,
		Link:          link,
		SourceType:    entity.SourceBlog,
		SourceName:    sourceName,
		Content:       content,
		Event:         "event for " + link,
		Category:      "opinion",
		Domain:        domain,
		QualityScore:  score,
		QualityReason: "reason",
		KeyInfo:       []string{"first", "second"},
		Detail:        "details here",
	}
}

func runWriter(t *testing.T, w *write.Writer, posts ...*entity.Post) *write.Stats {
	t.Helper()
	in := make(chan *entity.Post, len(posts)+1)
	for _, p := range posts {
		in <- p
	}
	in <- nil
	stats, err := w.Run(context.Background(), in)
	require.NoError(t, err)
	return stats
}

func TestWriter_BucketLayout(t *testing.T) {
	dataDir := t.TempDir()
	entities := []config.EntityConfig{{Name: "Acme", Aliases: []string{"acme"}}}
	w := write.NewWriter(dataDir, "20260730_120000", entities, nil, nil)

	stats := runWriter(t, w,
		makePost("https://a/1", "2026-07-30", 5, "AI", "Blog A", "acme ships a model"),
		makePost("https://a/2", "2026-07-30", 3, "AI", "Blog A", "unrelated musings"),
		makePost("https://a/3", "2026-07-30", 0, "Gaming", "Blog A", "acme again"),
	)

	require.Equal(t, 3, stats.Written)
	require.Equal(t, 1, stats.ByBucket["high"])
	require.Equal(t, 1, stats.ByBucket["pending"])
	require.Equal(t, 1, stats.ByBucket["excluded"])

	// Bucket consistency: each file lives under the bucket its score
	// demands.
	batchDir := filepath.Join(dataDir, "20260730_120000")
	globs := map[string]string{
		"high":     filepath.Join(batchDir, "By-Domain", "AI", "high", "*.md"),
		"pending":  filepath.Join(batchDir, "By-Domain", "AI", "pending", "*.md"),
		"excluded": filepath.Join(batchDir, "By-Domain", "Gaming", "excluded", "*.md"),
	}
	for bucket, pattern := range globs {
		matches, err := filepath.Glob(pattern)
		require.NoError(t, err)
		require.Len(t, matches, 1, "bucket %s", bucket)
	}

	// Entity layout: matching posts under the entity, the rest under
	// Others (excluded posts included).
	acme, err := filepath.Glob(filepath.Join(batchDir, "By-Entity", "Acme", "*.md"))
	require.NoError(t, err)
	require.Len(t, acme, 2)
	others, err := filepath.Glob(filepath.Join(batchDir, "By-Entity", "Others", "*.md"))
	require.NoError(t, err)
	require.Len(t, others, 1)
}

func TestWriter_MarkdownShape(t *testing.T) {
	post := makePost("https://a/1", "2026-07-30", 4, "AI", "Blog A", "body")
	post.ContentHash = post.HashLink()

	md := write.RenderMarkdown(post)

	require.True(t, strings.HasPrefix(md, "# event for https://a/1\n"), "heading: %q", md)
	require.Contains(t, md, "- **Date**: 2026-07-30\n")
	require.Contains(t, md, "- **Quality**: ★★★★☆ (4/5)\n")
	require.Contains(t, md, "- **Source_Type**: Blog\n")
	require.Contains(t, md, "- **Link**: https://a/1\n")
	require.Contains(t, md, "## Key Info\n1. first<br>2. second\n")
	require.Contains(t, md, "## Details\ndetails here\n")
}

func TestWriter_FilenameIdentity(t *testing.T) {
	dataDir := t.TempDir()
	w := write.NewWriter(dataDir, "b1", nil, nil, nil)

	post := makePost("https://a/1", "2026-07-30", 5, "AI", "My Source", "x")
	runWriter(t, w, post)

	wantName := "My_Source_2026-07-30_" + post.HashLink() + ".md"
	path := filepath.Join(dataDir, "b1", "By-Domain", "AI", "high", wantName)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file at %s: %v", path, err)
	}
}

func TestWriter_ManifestWritten(t *testing.T) {
	dataDir := t.TempDir()
	w := write.NewWriter(dataDir, "b2", nil, nil, nil)

	runWriter(t, w, makePost("https://a/1", "2026-07-30", 5, "AI", "S", "x"))

	var manifest write.Manifest
	data, err := os.ReadFile(filepath.Join(dataDir, "b2", "batch_manifest.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &manifest))

	require.Equal(t, "b2", manifest.BatchID)
	require.False(t, manifest.Cancelled)
	require.Equal(t, 1, manifest.CountsByBucket["high"])
	require.Equal(t, 1, manifest.CountsBySourceType["Blog"])

	var pointer struct {
		BatchID string `json:"batch_id"`
		Path    string `json:"path"`
	}
	data, err = os.ReadFile(filepath.Join(dataDir, "latest_batch.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &pointer))
	require.Equal(t, "b2", pointer.BatchID)
}

func TestWriter_CancelledManifest(t *testing.T) {
	dataDir := t.TempDir()
	w := write.NewWriter(dataDir, "b3", nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan *entity.Post, 1)
	in <- nil
	_, err := w.Run(ctx, in)
	require.NoError(t, err)

	var manifest write.Manifest
	data, err := os.ReadFile(filepath.Join(dataDir, "b3", "batch_manifest.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &manifest))
	require.True(t, manifest.Cancelled)
}

func TestWriter_NoDuplicatePaths(t *testing.T) {
	dataDir := t.TempDir()
	w := write.NewWriter(dataDir, "b4", nil, nil, nil)

	// Same link written twice: the second write is suppressed, the file
	// set stays a set.
	p1 := makePost("https://a/1", "2026-07-30", 5, "AI", "S", "x")
	p2 := makePost("https://a/1", "2026-07-30", 5, "AI", "S", "x")
	stats := runWriter(t, w, p1, p2)

	matches, err := filepath.Glob(filepath.Join(dataDir, "b4", "By-Domain", "AI", "high", "*.md"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, 2, stats.Written)
}
