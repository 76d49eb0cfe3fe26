// Package config loads and validates the INI configuration that drives a
// pipeline run. The loaded Config is an immutable value passed into each
// stage at construction; no stage reads configuration globally.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"prodscout/internal/domain/entity"
)

// LLMConfig holds the [llm] section.
type LLMConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Provider string // "openai" (default) or "claude"
	Timeout  time.Duration
}

// SourceConfig is one configured source, taken from a [<type>_accounts]
// section entry. For microblog sources Feed is either an RSS feed URL or a
// bare account handle consumed by the direct scraper.
type SourceConfig struct {
	Name string
	Feed string
	Type entity.SourceType
}

// XScraperConfig holds the [x_scraper] section.
type XScraperConfig struct {
	Enabled                 bool
	AuthCredentials         string // pipe-delimited token:csrf pairs; env file fallback
	MaxTweetsPerUser        int
	RequestDelayMin         time.Duration
	RequestDelayMax         time.Duration
	UserSwitchDelayMin      time.Duration
	UserSwitchDelayMax      time.Duration
	RequestTimeout          time.Duration
	MaxRetries              int
	IncludeRetweets         bool
	IncludeReplies          bool
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
	QueryIDs                map[string]string // JSON override
	Features                map[string]bool   // JSON override
}

// FetcherConfig holds the [fetcher] section.
type FetcherConfig struct {
	LookbackDays    int
	GeneralPoolSize int
	DelayMin        time.Duration // pause before each restricted-pool task
	DelayMax        time.Duration
}

// EnricherConfig holds the [enricher] section.
type EnricherConfig struct {
	PoolSize       int
	MaxURLsPerPost int
	URLTimeout     time.Duration
}

// OrganizerConfig holds the [organizer] section.
type OrganizerConfig struct {
	PoolSize       int
	RetryOnFailure int
	AllowedDomains []string
}

// EntityConfig is one tracked named entity with its match aliases.
type EntityConfig struct {
	Name    string
	Aliases []string
}

// NotifyConfig holds the optional [notify] section for the run-summary
// webhook.
type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// Config is the root configuration value for a run.
type Config struct {
	LLM       LLMConfig
	Sources   []SourceConfig
	XScraper  XScraperConfig
	Fetcher   FetcherConfig
	Enricher  EnricherConfig
	Organizer OrganizerConfig
	Entities  []EntityConfig
	Notify    NotifyConfig
	DataDir   string
}

// sourceSections maps section names onto source types. Section entries map
// display names to feed URLs or account handles.
var sourceSections = map[string]entity.SourceType{
	"microblog_accounts":      entity.SourceMicroblog,
	"public_account_accounts": entity.SourcePublicAccount,
	"video_accounts":          entity.SourceVideo,
	"blog_accounts":           entity.SourceBlog,
}

// defaultAllowedDomains is used when [organizer] allowed_domains is absent.
var defaultAllowedDomains = []string{
	"AI", "Consumer Electronics", "Enterprise Software", "Automotive",
	"Gaming", "Semiconductors", "Others",
}

// Load reads and validates the configuration file at path.
// All errors wrap entity.ErrConfig; the run must abort on any of them.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", entity.ErrConfig, path, err)
	}
	return parse(f)
}

// LoadFromBytes parses configuration from raw INI bytes. Used by tests.
func LoadFromBytes(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", entity.ErrConfig, err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	cfg := &Config{
		DataDir: "data",
	}

	llm := f.Section("llm")
	cfg.LLM = LLMConfig{
		APIKey:   llm.Key("api_key").String(),
		BaseURL:  llm.Key("base_url").String(),
		Model:    llm.Key("model").String(),
		Provider: llm.Key("provider").MustString("openai"),
		Timeout:  seconds(llm, "timeout", 120),
	}
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("%w: [llm] api_key is required", entity.ErrConfig)
	}
	if cfg.LLM.Model == "" {
		return nil, fmt.Errorf("%w: [llm] model is required", entity.ErrConfig)
	}
	if cfg.LLM.Provider != "openai" && cfg.LLM.Provider != "claude" {
		return nil, fmt.Errorf("%w: [llm] provider must be openai or claude, got %q", entity.ErrConfig, cfg.LLM.Provider)
	}

	for section, srcType := range sourceSections {
		if !f.HasSection(section) {
			continue
		}
		for _, key := range f.Section(section).Keys() {
			feed := strings.TrimSpace(key.String())
			if feed == "" {
				return nil, fmt.Errorf("%w: [%s] %s has empty value", entity.ErrConfig, section, key.Name())
			}
			cfg.Sources = append(cfg.Sources, SourceConfig{
				Name: key.Name(),
				Feed: feed,
				Type: srcType,
			})
		}
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", entity.ErrConfig)
	}

	xs := f.Section("x_scraper")
	cfg.XScraper = XScraperConfig{
		Enabled:                 xs.Key("enabled").MustBool(false),
		AuthCredentials:         xs.Key("auth_credentials").String(),
		MaxTweetsPerUser:        xs.Key("max_tweets_per_user").MustInt(20),
		RequestDelayMin:         seconds(xs, "request_delay_min", 15),
		RequestDelayMax:         seconds(xs, "request_delay_max", 25),
		UserSwitchDelayMin:      seconds(xs, "user_switch_delay_min", 30),
		UserSwitchDelayMax:      seconds(xs, "user_switch_delay_max", 60),
		RequestTimeout:          seconds(xs, "request_timeout", 30),
		MaxRetries:              xs.Key("max_retries").MustInt(3),
		IncludeRetweets:         xs.Key("include_retweets").MustBool(false),
		IncludeReplies:          xs.Key("include_replies").MustBool(false),
		CircuitBreakerThreshold: xs.Key("circuit_breaker_threshold").MustInt(5),
		CircuitBreakerCooldown:  seconds(xs, "circuit_breaker_cooldown", 60),
	}
	if raw := xs.Key("query_ids").String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.XScraper.QueryIDs); err != nil {
			return nil, fmt.Errorf("%w: [x_scraper] query_ids is not valid JSON: %v", entity.ErrConfig, err)
		}
	}
	if raw := xs.Key("features").String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.XScraper.Features); err != nil {
			return nil, fmt.Errorf("%w: [x_scraper] features is not valid JSON: %v", entity.ErrConfig, err)
		}
	}
	if cfg.XScraper.RequestDelayMax < cfg.XScraper.RequestDelayMin {
		return nil, fmt.Errorf("%w: [x_scraper] request_delay_max < request_delay_min", entity.ErrConfig)
	}
	if cfg.XScraper.UserSwitchDelayMax < cfg.XScraper.UserSwitchDelayMin {
		return nil, fmt.Errorf("%w: [x_scraper] user_switch_delay_max < user_switch_delay_min", entity.ErrConfig)
	}

	fe := f.Section("fetcher")
	cfg.Fetcher = FetcherConfig{
		LookbackDays:    fe.Key("lookback_days").MustInt(7),
		GeneralPoolSize: fe.Key("general_pool_size").MustInt(5),
		DelayMin:        seconds(fe, "delay_min", 2),
		DelayMax:        seconds(fe, "delay_max", 5),
	}
	if cfg.Fetcher.LookbackDays <= 0 {
		return nil, fmt.Errorf("%w: [fetcher] lookback_days must be positive", entity.ErrConfig)
	}
	if cfg.Fetcher.GeneralPoolSize <= 0 {
		return nil, fmt.Errorf("%w: [fetcher] general_pool_size must be positive", entity.ErrConfig)
	}

	en := f.Section("enricher")
	cfg.Enricher = EnricherConfig{
		PoolSize:       en.Key("pool_size").MustInt(5),
		MaxURLsPerPost: en.Key("max_urls_per_post").MustInt(5),
		URLTimeout:     seconds(en, "url_timeout_s", 20),
	}
	if cfg.Enricher.PoolSize <= 0 {
		return nil, fmt.Errorf("%w: [enricher] pool_size must be positive", entity.ErrConfig)
	}

	og := f.Section("organizer")
	cfg.Organizer = OrganizerConfig{
		PoolSize:       og.Key("pool_size").MustInt(5),
		RetryOnFailure: og.Key("retry_on_failure").MustInt(2),
		AllowedDomains: splitList(og.Key("allowed_domains").String()),
	}
	if cfg.Organizer.PoolSize <= 0 {
		return nil, fmt.Errorf("%w: [organizer] pool_size must be positive", entity.ErrConfig)
	}
	if len(cfg.Organizer.AllowedDomains) == 0 {
		cfg.Organizer.AllowedDomains = defaultAllowedDomains
	}

	if f.HasSection("entities") {
		for _, key := range f.Section("entities").Keys() {
			cfg.Entities = append(cfg.Entities, EntityConfig{
				Name:    key.Name(),
				Aliases: splitList(key.String()),
			})
		}
	}

	nt := f.Section("notify")
	cfg.Notify = NotifyConfig{
		WebhookURL: nt.Key("webhook_url").String(),
		Timeout:    seconds(nt, "timeout", 30),
	}

	if dir := f.Section("").Key("data_dir").String(); dir != "" {
		cfg.DataDir = dir
	}

	return cfg, nil
}

// seconds reads an integer-seconds option with a default.
func seconds(s *ini.Section, key string, def int) time.Duration {
	return time.Duration(s.Key(key).MustInt(def)) * time.Second
}

// splitList splits a comma-separated option into trimmed non-empty parts.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
