package fetch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/usecase/fetch"
)

type fakeFeedFetcher struct {
	items map[string][]fetch.FeedItem
	err   error
}

func (f *fakeFeedFetcher) Fetch(_ context.Context, url string) ([]fetch.FeedItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[url], nil
}

type fakeMicroblog struct {
	posts map[string][]*entity.Post
}

func (f *fakeMicroblog) FetchUserPosts(_ context.Context, handle, sourceName string) ([]*entity.Post, error) {
	return f.posts[handle], nil
}

func (f *fakeMicroblog) SleepBetweenUsers(_ context.Context) error { return nil }

func fetcherConfig() config.FetcherConfig {
	return config.FetcherConfig{
		LookbackDays:    7,
		GeneralPoolSize: 2,
		DelayMin:        0,
		DelayMax:        0,
	}
}

func drain(out chan *entity.Post) []*entity.Post {
	close(out)
	var posts []*entity.Post
	for p := range out {
		posts = append(posts, p)
	}
	return posts
}

func TestStage_DateFilter(t *testing.T) {
	now := time.Now()
	feeds := &fakeFeedFetcher{items: map[string][]fetch.FeedItem{
		"https://blog.example.com/feed": {
			{Title: "fresh", URL: "https://blog.example.com/1", Content: "a", PublishedAt: now.Add(-24 * time.Hour)},
			{Title: "stale", URL: "https://blog.example.com/2", Content: "b", PublishedAt: now.AddDate(0, 0, -30)},
			{Title: "undated", URL: "https://blog.example.com/3", Content: "c"},
		},
	}}
	sources := []config.SourceConfig{
		{Name: "Blog", Feed: "https://blog.example.com/feed", Type: entity.SourceBlog},
	}
	stage := fetch.NewStage(fetcherConfig(), sources, feeds, nil, "", nil, nil)

	out := make(chan *entity.Post, 10)
	stats, err := stage.Run(context.Background(), out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	posts := drain(out)
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1 (stale and undated dropped)", len(posts))
	}
	if posts[0].Title != "fresh" {
		t.Errorf("kept post = %q", posts[0].Title)
	}
	if stats.Posts != 1 || stats.SourcesErrored != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStage_SourceFailureSkipped(t *testing.T) {
	feeds := &fakeFeedFetcher{err: os.ErrDeadlineExceeded}
	sources := []config.SourceConfig{
		{Name: "Broken", Feed: "https://broken.example.com/feed", Type: entity.SourceBlog},
	}
	stage := fetch.NewStage(fetcherConfig(), sources, feeds, nil, "", nil, nil)

	out := make(chan *entity.Post, 10)
	stats, err := stage.Run(context.Background(), out)
	if err != nil {
		t.Fatalf("Run() error = %v (source failure must not abort)", err)
	}
	if stats.SourcesErrored != 1 {
		t.Errorf("SourcesErrored = %d, want 1", stats.SourcesErrored)
	}
}

func TestStage_MicroblogDirectScraper(t *testing.T) {
	today := time.Now().Format("2006-01-02")
	microblog := &fakeMicroblog{posts: map[string][]*entity.Post{
		"builder": {
			{Title: "tweet", Date: today, Link: "https://x.com/builder/status/1",
				SourceType: entity.SourceMicroblog, SourceName: "Builder", Content: "hi"},
		},
	}}
	sources := []config.SourceConfig{
		{Name: "Builder", Feed: "builder", Type: entity.SourceMicroblog},
	}
	stage := fetch.NewStage(fetcherConfig(), sources, &fakeFeedFetcher{}, microblog, "", nil, nil)

	out := make(chan *entity.Post, 10)
	stats, err := stage.Run(context.Background(), out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	posts := drain(out)
	if len(posts) != 1 || posts[0].SourceType != entity.SourceMicroblog {
		t.Fatalf("posts = %+v", posts)
	}
	if stats.Posts != 1 {
		t.Errorf("stats.Posts = %d", stats.Posts)
	}
}

func TestStage_MicroblogHandleWithoutScraperErrors(t *testing.T) {
	sources := []config.SourceConfig{
		{Name: "Builder", Feed: "builder", Type: entity.SourceMicroblog},
	}
	stage := fetch.NewStage(fetcherConfig(), sources, &fakeFeedFetcher{}, nil, "", nil, nil)

	out := make(chan *entity.Post, 10)
	stats, err := stage.Run(context.Background(), out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.SourcesErrored != 1 {
		t.Errorf("SourcesErrored = %d, want 1", stats.SourcesErrored)
	}
}

func TestStage_MicroblogFeedURLFallsBackToRSS(t *testing.T) {
	now := time.Now()
	feeds := &fakeFeedFetcher{items: map[string][]fetch.FeedItem{
		"https://nitter.example/u/rss": {
			{Title: "via rss", URL: "https://x.com/u/status/9", Content: "x", PublishedAt: now},
		},
	}}
	sources := []config.SourceConfig{
		{Name: "U", Feed: "https://nitter.example/u/rss", Type: entity.SourceMicroblog},
	}
	stage := fetch.NewStage(fetcherConfig(), sources, feeds, nil, "", nil, nil)

	out := make(chan *entity.Post, 10)
	if _, err := stage.Run(context.Background(), out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	posts := drain(out)
	if len(posts) != 1 || posts[0].SourceType != entity.SourceMicroblog {
		t.Fatalf("posts = %+v", posts)
	}
}

func TestStage_RawPayloadSaved(t *testing.T) {
	rawDir := t.TempDir()
	now := time.Now()
	feeds := &fakeFeedFetcher{items: map[string][]fetch.FeedItem{
		"https://blog.example.com/feed": {
			{Title: "a", URL: "https://blog.example.com/1", Content: "x", PublishedAt: now},
		},
	}}
	sources := []config.SourceConfig{
		{Name: "My Blog", Feed: "https://blog.example.com/feed", Type: entity.SourceBlog},
	}
	stage := fetch.NewStage(fetcherConfig(), sources, feeds, nil, rawDir, nil, nil)

	out := make(chan *entity.Post, 10)
	if _, err := stage.Run(context.Background(), out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(rawDir, "My_Blog.json")); err != nil {
		t.Errorf("raw payload not written: %v", err)
	}
}
