package organize_test

import (
	"context"
	"errors"
	"testing"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/usecase/organize"
)

type fakeClassifier struct {
	result *organize.Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ organize.Request) (*organize.Classification, error) {
	f.calls++
	return f.result, f.err
}

func testConfig() config.OrganizerConfig {
	return config.OrganizerConfig{
		PoolSize:       1,
		RetryOnFailure: 2,
		AllowedDomains: []string{"AI", "Gaming", "Others"},
	}
}

func runWorker(t *testing.T, stage *organize.Stage, post *entity.Post) *entity.Post {
	t.Helper()
	in := make(chan *entity.Post, 2)
	out := make(chan *entity.Post, 1)
	in <- post
	in <- nil
	if err := stage.Worker(context.Background(), in, out); err != nil {
		t.Fatalf("Worker() error = %v", err)
	}
	return <-out
}

func TestWorker_AppliesClassification(t *testing.T) {
	classifier := &fakeClassifier{result: &organize.Classification{
		Event:         "Acme launches Model Z",
		Category:      "product launch",
		Domain:        "AI",
		QualityScore:  4,
		QualityReason: "first-party announcement",
		KeyInfo:       []string{"new model", "ships today"},
		Detail:        "Acme announced Model Z.",
	}}
	stage := organize.NewStage(testConfig(), classifier, nil, nil)

	post := runWorker(t, stage, &entity.Post{Link: "https://a/1", SourceName: "A", SourceType: entity.SourceBlog})

	if post.Event != "Acme launches Model Z" || post.Domain != "AI" || post.QualityScore != 4 {
		t.Errorf("classification not applied: %+v", post)
	}
	if post.Bucket() != entity.BucketHigh {
		t.Errorf("Bucket() = %v, want high", post.Bucket())
	}
}

func TestWorker_ClampsAndDefaults(t *testing.T) {
	classifier := &fakeClassifier{result: &organize.Classification{
		Domain:       "Cryptozoology",
		QualityScore: 11,
		KeyInfo:      make([]string, 15),
	}}
	stage := organize.NewStage(testConfig(), classifier, nil, nil)

	post := runWorker(t, stage, &entity.Post{Link: "https://a/1", SourceName: "A", SourceType: entity.SourceBlog})

	if post.QualityScore != 5 {
		t.Errorf("QualityScore = %d, want clamped to 5", post.QualityScore)
	}
	if post.Domain != "Others" {
		t.Errorf("Domain = %q, want Others for out-of-set value", post.Domain)
	}
	if len(post.KeyInfo) != 10 {
		t.Errorf("KeyInfo length = %d, want capped at 10", len(post.KeyInfo))
	}
}

func TestWorker_RetriesThenExcludes(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("llm timeout")}
	stage := organize.NewStage(testConfig(), classifier, nil, nil)

	post := runWorker(t, stage, &entity.Post{Link: "https://a/1", SourceName: "A", SourceType: entity.SourceBlog})

	// One initial attempt plus two retries.
	if classifier.calls != 3 {
		t.Errorf("classifier calls = %d, want 3", classifier.calls)
	}
	if post.QualityScore != 0 || post.QualityReason != "organizer_failed" {
		t.Errorf("failed post not marked excluded: score=%d reason=%q", post.QualityScore, post.QualityReason)
	}
	if post.Bucket() != entity.BucketExcluded {
		t.Errorf("Bucket() = %v, want excluded", post.Bucket())
	}
}

func TestWorker_NegativeScoreClampedToZero(t *testing.T) {
	classifier := &fakeClassifier{result: &organize.Classification{Domain: "AI", QualityScore: -2}}
	stage := organize.NewStage(testConfig(), classifier, nil, nil)

	post := runWorker(t, stage, &entity.Post{Link: "https://a/1", SourceName: "A", SourceType: entity.SourceBlog})
	if post.QualityScore != 0 {
		t.Errorf("QualityScore = %d, want 0", post.QualityScore)
	}
}
