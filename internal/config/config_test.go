package config_test

import (
	"errors"
	"testing"
	"time"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
)

const validINI = `
[llm]
api_key = sk-test
base_url = https://llm.internal/v1
model = gpt-4o-mini

[microblog_accounts]
Sam Alt = sama
Feed Account = https://nitter.example/feed.rss

[blog_accounts]
Example Blog = https://example.com/feed.xml

[x_scraper]
enabled = true
auth_credentials = tokenaaaa:csrfbbbb|tokencccc:csrfdddd
max_tweets_per_user = 30

[fetcher]
lookback_days = 3

[entities]
Acme = acme, acme corp
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(validINI))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("LLM.Provider = %q, want openai", cfg.LLM.Provider)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("LLM.Timeout = %v, want 120s", cfg.LLM.Timeout)
	}
	if cfg.Fetcher.LookbackDays != 3 {
		t.Errorf("Fetcher.LookbackDays = %d, want 3", cfg.Fetcher.LookbackDays)
	}
	if cfg.Fetcher.GeneralPoolSize != 5 {
		t.Errorf("Fetcher.GeneralPoolSize = %d, want default 5", cfg.Fetcher.GeneralPoolSize)
	}
	if cfg.XScraper.MaxTweetsPerUser != 30 {
		t.Errorf("XScraper.MaxTweetsPerUser = %d, want 30", cfg.XScraper.MaxTweetsPerUser)
	}
	if cfg.XScraper.RequestDelayMin != 15*time.Second || cfg.XScraper.RequestDelayMax != 25*time.Second {
		t.Errorf("request delays = %v/%v, want 15s/25s",
			cfg.XScraper.RequestDelayMin, cfg.XScraper.RequestDelayMax)
	}
	if cfg.XScraper.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold = %d, want default 5", cfg.XScraper.CircuitBreakerThreshold)
	}
	if cfg.Enricher.MaxURLsPerPost != 5 {
		t.Errorf("Enricher.MaxURLsPerPost = %d, want default 5", cfg.Enricher.MaxURLsPerPost)
	}
	if cfg.Organizer.RetryOnFailure != 2 {
		t.Errorf("Organizer.RetryOnFailure = %d, want default 2", cfg.Organizer.RetryOnFailure)
	}
	if len(cfg.Organizer.AllowedDomains) == 0 {
		t.Error("AllowedDomains empty, want defaults")
	}
}

func TestLoad_Sources(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(validINI))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	if len(cfg.Sources) != 3 {
		t.Fatalf("Sources length = %d, want 3", len(cfg.Sources))
	}

	byName := map[string]config.SourceConfig{}
	for _, s := range cfg.Sources {
		byName[s.Name] = s
	}
	if byName["Sam Alt"].Type != entity.SourceMicroblog || byName["Sam Alt"].Feed != "sama" {
		t.Errorf("microblog source parsed wrong: %+v", byName["Sam Alt"])
	}
	if byName["Example Blog"].Type != entity.SourceBlog {
		t.Errorf("blog source type = %v", byName["Example Blog"].Type)
	}
}

func TestLoad_Entities(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(validINI))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if len(cfg.Entities) != 1 {
		t.Fatalf("Entities length = %d, want 1", len(cfg.Entities))
	}
	e := cfg.Entities[0]
	if e.Name != "Acme" || len(e.Aliases) != 2 || e.Aliases[1] != "acme corp" {
		t.Errorf("entity parsed wrong: %+v", e)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	bad := `
[llm]
model = gpt-4o-mini

[blog_accounts]
B = https://example.com/feed.xml
`
	_, err := config.LoadFromBytes([]byte(bad))
	if err == nil {
		t.Fatal("LoadFromBytes() accepted config without api_key")
	}
	if !errors.Is(err, entity.ErrConfig) {
		t.Errorf("error = %v, want ErrConfig", err)
	}
}

func TestLoad_NoSources(t *testing.T) {
	bad := `
[llm]
api_key = k
model = m
`
	_, err := config.LoadFromBytes([]byte(bad))
	if !errors.Is(err, entity.ErrConfig) {
		t.Errorf("error = %v, want ErrConfig", err)
	}
}

func TestLoad_BadFeaturesJSON(t *testing.T) {
	bad := `
[llm]
api_key = k
model = m

[blog_accounts]
B = https://example.com/feed.xml

[x_scraper]
features = {not json
`
	_, err := config.LoadFromBytes([]byte(bad))
	if !errors.Is(err, entity.ErrConfig) {
		t.Errorf("error = %v, want ErrConfig", err)
	}
}

func TestLoad_QueryIDOverride(t *testing.T) {
	ini := `
[llm]
api_key = k
model = m

[blog_accounts]
B = https://example.com/feed.xml

[x_scraper]
query_ids = {"UserTweets": "override123"}
`
	cfg, err := config.LoadFromBytes([]byte(ini))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	if cfg.XScraper.QueryIDs["UserTweets"] != "override123" {
		t.Errorf("QueryIDs override not applied: %v", cfg.XScraper.QueryIDs)
	}
}
