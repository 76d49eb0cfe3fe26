package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/url"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/sony/gobreaker"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/observability/metrics"
	"prodscout/internal/resilience/circuitbreaker"
	"prodscout/internal/resilience/retry"
)

// bearerToken is the platform's public web-app bearer token. It is baked
// into the browser bundle and identical for every visitor; per-account
// authentication is carried by the credential cookies.
const bearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

const (
	defaultBaseURL = "https://x.com/i/api/graphql"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
)

// defaultQueryIDs are the versioned GraphQL operation ids. They rotate with
// platform deployments and can be overridden via [x_scraper] query_ids.
var defaultQueryIDs = map[string]string{
	"UserByScreenName": "xc8f1g7BYqr6VTzTbvNlGw",
	"UserTweets":       "E3opETHurmVJflFsUBVuUQ",
}

// defaultFeatures are the platform feature switches the web client sends
// with every timeline request. The set is versioned; missing or extra flags
// cause business errors, so it must be overridable via [x_scraper] features.
var defaultFeatures = map[string]bool{
	"rweb_video_screen_enabled":                                               false,
	"profile_label_improvements_pcf_label_in_post_enabled":                    true,
	"rweb_tipjar_consumption_enabled":                                         true,
	"verified_phone_label_enabled":                                            false,
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"premium_content_api_read_enabled":                                        false,
	"communities_web_enable_tweet_community_results_fetch":                    true,
	"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
	"responsive_web_grok_analyze_button_fetch_trends_enabled":                 false,
	"responsive_web_grok_analyze_post_followups_enabled":                      true,
	"responsive_web_jetfuel_frame":                                            false,
	"responsive_web_grok_share_attachment_enabled":                            true,
	"articles_preview_enabled":                                                true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
	"view_counts_everywhere_api_enabled":                                      true,
	"longform_notetweets_consumption_enabled":                                 true,
	"responsive_web_twitter_article_tweet_consumption_enabled":                true,
	"tweet_awards_web_tipping_enabled":                                        false,
	"creator_subscriptions_quote_tweet_preview_enabled":                       false,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"standardized_nudges_misinfo":                                             true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"longform_notetweets_inline_media_enabled":                                true,
	"responsive_web_enhance_cards_enabled":                                    false,
}

// doer issues a single HTTP request. The production implementation is a
// bogdanfinn/tls-client with a Chrome TLS fingerprint; tests inject fakes.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the GraphQL client. Each request draws a credential from the
// pool; rate limits rotate credentials, auth failures disable them, and a
// consecutive-failure circuit breaker pauses the whole scraper.
type Client struct {
	pool     *Pool
	http     doer
	cfg      config.XScraperConfig
	breaker  *circuitbreaker.CircuitBreaker
	queryIDs map[string]string
	features map[string]bool
	baseURL  string
	logger   *slog.Logger
}

// NewClient creates a GraphQL client over the credential pool. The
// underlying HTTP transport impersonates a current desktop Chrome TLS
// fingerprint; the platform's edge rejects standard Go TLS before any
// application response.
func NewClient(pool *Pool, cfg config.XScraperConfig, logger *slog.Logger) (*Client, error) {
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(cfg.RequestTimeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithNotFollowRedirects(),
	}
	httpClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create tls client: %w", err)
	}
	return newClient(pool, cfg, httpClient, logger), nil
}

// newClient wires a client around an arbitrary doer. Tests use it to
// inject mock transports.
func newClient(pool *Pool, cfg config.XScraperConfig, transport doer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	queryIDs := make(map[string]string, len(defaultQueryIDs))
	for k, v := range defaultQueryIDs {
		queryIDs[k] = v
	}
	for k, v := range cfg.QueryIDs {
		queryIDs[k] = v
	}
	features := make(map[string]bool, len(defaultFeatures))
	for k, v := range defaultFeatures {
		features[k] = v
	}
	for k, v := range cfg.Features {
		features[k] = v
	}

	return &Client{
		pool: pool,
		http: transport,
		cfg:  cfg,
		breaker: circuitbreaker.New(circuitbreaker.GraphQLConfig(
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)),
		queryIDs: queryIDs,
		features: features,
		baseURL:  defaultBaseURL,
		logger:   logger,
	}
}

// UserByScreenName resolves a username to the platform's internal user id.
// Called once per user per run.
func (c *Client) UserByScreenName(ctx context.Context, username string) (string, error) {
	variables := map[string]interface{}{
		"screen_name":              username,
		"withSafetyModeUserFields": true,
	}
	data, err := c.do(ctx, "UserByScreenName", variables)
	if err != nil {
		return "", err
	}

	var resp struct {
		User struct {
			Result struct {
				RestID string `json:"rest_id"`
			} `json:"result"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode UserByScreenName response: %w", err)
	}
	if resp.User.Result.RestID == "" {
		return "", &XClientError{Endpoint: "UserByScreenName", Message: fmt.Sprintf("user %q not found", username)}
	}
	return resp.User.Result.RestID, nil
}

// UserTweets fetches one timeline page for a user. cursor is empty for the
// first page.
func (c *Client) UserTweets(ctx context.Context, userID string, count int, cursor string) ([]*Tweet, string, error) {
	variables := map[string]interface{}{
		"userId":                                 userID,
		"count":                                  count,
		"includePromotedContent":                 true,
		"withQuickPromoteEligibilityTweetFields": true,
		"withVoice":                              true,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}
	data, err := c.do(ctx, "UserTweets", variables)
	if err != nil {
		return nil, "", err
	}
	return ParseTimeline(data)
}

// do executes one GraphQL operation with credential rotation, backoff, and
// circuit breaking. Response policy:
//
//	429                     -> cooldown credential, rotate, retry
//	401/403                 -> disable credential, rotate, retry
//	5xx / network           -> exponential backoff with jitter, retry
//	200 errors without data -> XClientError, no retry
//	200 errors with data    -> warn, return data
func (c *Client) do(ctx context.Context, endpoint string, variables map[string]interface{}) (json.RawMessage, error) {
	backoff := 2 * time.Second
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		cred, err := c.pool.GetNext(ctx)
		if err != nil {
			return nil, err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doOnce(ctx, cred, endpoint, variables)
		})
		if err == nil {
			c.pool.ReportSuccess(cred)
			metrics.RecordScraperRequest(endpoint, "success")
			return result.(json.RawMessage), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) {
			c.logger.Warn("scraper circuit breaker open",
				slog.String("endpoint", endpoint),
				slog.Duration("cooldown", c.cfg.CircuitBreakerCooldown))
			metrics.RecordScraperRequest(endpoint, "circuit_open")
			return nil, fmt.Errorf("%w: %s paused for %s", entity.ErrCircuitOpen, endpoint, c.cfg.CircuitBreakerCooldown)
		}

		lastErr = err

		var rle *rateLimitError
		if errors.As(err, &rle) {
			c.pool.ReportRateLimited(cred, rle.RetryAfter)
			metrics.RecordScraperRequest(endpoint, "rate_limited")
			// Rotate to the next credential immediately.
			continue
		}

		var ae *authError
		if errors.As(err, &ae) {
			c.pool.ReportAuthFailure(cred)
			metrics.RecordScraperRequest(endpoint, "auth_failure")
			// Never retry on the same credential; the pool will not
			// hand a disabled credential back.
			continue
		}

		var xe *XClientError
		if errors.As(err, &xe) {
			metrics.RecordScraperRequest(endpoint, "business_error")
			return nil, err
		}

		if !retry.IsRetryable(err) {
			metrics.RecordScraperRequest(endpoint, "error")
			return nil, err
		}

		metrics.RecordScraperRequest(endpoint, "retryable_error")
		if attempt == c.cfg.MaxRetries {
			break
		}
		// #nosec G404 -- jitter only.
		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))
		c.logger.Warn("graphql request failed, backing off",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("graphql %s failed after %d attempts: %w", endpoint, c.cfg.MaxRetries, lastErr)
}

// doOnce issues a single request on one credential and applies the HTTP
// response policy.
func (c *Client) doOnce(ctx context.Context, cred *Credential, endpoint string, variables map[string]interface{}) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, cred, endpoint, variables)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &rateLimitError{RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &authError{StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read graphql response: %w", err)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode graphql envelope: %w", err)
	}

	if len(envelope.Errors) > 0 {
		if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
			return nil, &XClientError{Endpoint: endpoint, Message: envelope.Errors[0].Message}
		}
		// Partial success: usable data alongside errors.
		c.logger.Warn("graphql partial success",
			slog.String("endpoint", endpoint),
			slog.String("first_error", envelope.Errors[0].Message))
	}

	return envelope.Data, nil
}

// newRequest builds one GraphQL GET request carrying the web bearer token,
// the credential cookies, and the CSRF mirror header.
func (c *Client) newRequest(ctx context.Context, cred *Credential, endpoint string, variables map[string]interface{}) (*http.Request, error) {
	queryID, ok := c.queryIDs[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown graphql endpoint %q", endpoint)
	}

	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	featuresJSON, err := json.Marshal(c.features)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}

	q := url.Values{}
	q.Set("variables", string(varsJSON))
	q.Set("features", string(featuresJSON))

	reqURL := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, queryID, endpoint, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Csrf-Token", cred.CSRFToken)
	req.Header.Set("X-Twitter-Auth-Type", "OAuth2Session")
	req.Header.Set("X-Twitter-Active-User", "yes")
	req.Header.Set("X-Twitter-Client-Language", "en")
	req.Header.Set("Cookie", fmt.Sprintf("auth_token=%s; ct0=%s", cred.AuthToken, cred.CSRFToken))

	return req, nil
}
