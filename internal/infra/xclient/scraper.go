package xclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
)

// pageSize is the per-page count requested from the timeline endpoint.
const pageSize = 20

// Scraper drives the cursor-paginated timeline fetch for one or more
// users, applying the lookback cutoff, business filters, and randomized
// pacing between pages and users.
type Scraper struct {
	client       *Client
	cfg          config.XScraperConfig
	lookbackDays int
	logger       *slog.Logger
}

// NewScraper creates a scraper over an existing client.
func NewScraper(client *Client, cfg config.XScraperConfig, lookbackDays int, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		client:       client,
		cfg:          cfg,
		lookbackDays: lookbackDays,
		logger:       logger,
	}
}

// Pool exposes the underlying credential pool for status reporting.
func (s *Scraper) Pool() *Pool {
	return s.client.pool
}

// FetchUserTweets fetches a user's recent tweets. Pagination stops when
// any of three conditions holds, evaluated in order:
//
//  1. At least max_tweets_per_user tweets have been collected.
//  2. The current page contains no tweet newer than the lookback cutoff.
//     Only the date matters here; retweet/reply exclusion does not feed
//     this signal.
//  3. The response carries no bottom cursor.
//
// The retweet/reply inclusion filter is applied per page after the
// termination check. Replies by the user to their own tweets are always
// retained.
func (s *Scraper) FetchUserTweets(ctx context.Context, username string) ([]*Tweet, error) {
	userID, err := s.client.UserByScreenName(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", username, err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.lookbackDays)
	var collected []*Tweet
	cursor := ""

	for page := 1; ; page++ {
		tweets, nextCursor, err := s.client.UserTweets(ctx, userID, pageSize, cursor)
		if err != nil {
			if errors.Is(err, entity.ErrCircuitOpen) {
				// Pause for the breaker cooldown, then try the page once
				// more before giving up on this user.
				s.logger.Warn("scraper paused by circuit breaker",
					slog.String("username", username),
					slog.Duration("pause", s.cfg.CircuitBreakerCooldown))
				if sleepErr := sleepCtx(ctx, s.cfg.CircuitBreakerCooldown); sleepErr != nil {
					return collected, sleepErr
				}
				tweets, nextCursor, err = s.client.UserTweets(ctx, userID, pageSize, cursor)
			}
			if err != nil {
				return collected, fmt.Errorf("fetch timeline page %d for %s: %w", page, username, err)
			}
		}

		// Date-only termination signal, computed before business filters.
		pageHasNewEnough := false
		for _, t := range tweets {
			if !t.CreatedAt.IsZero() && !t.CreatedAt.Before(cutoff) {
				pageHasNewEnough = true
				break
			}
		}

		for _, t := range tweets {
			if !s.includeTweet(t) {
				continue
			}
			collected = append(collected, t)
		}

		s.logger.Debug("timeline page fetched",
			slog.String("username", username),
			slog.Int("page", page),
			slog.Int("page_tweets", len(tweets)),
			slog.Int("collected", len(collected)),
			slog.Bool("has_new_enough", pageHasNewEnough))

		if len(collected) >= s.cfg.MaxTweetsPerUser {
			collected = collected[:s.cfg.MaxTweetsPerUser]
			break
		}
		if !pageHasNewEnough {
			break
		}
		if nextCursor == "" {
			break
		}
		cursor = nextCursor

		if err := sleepCtx(ctx, uniformDelay(s.cfg.RequestDelayMin, s.cfg.RequestDelayMax)); err != nil {
			return collected, err
		}
	}

	s.logger.Info("user timeline fetched",
		slog.String("username", username),
		slog.Int("tweets", len(collected)))
	return collected, nil
}

// FetchUserPosts fetches a user's recent tweets and projects them into
// pipeline posts. It satisfies the fetch stage's MicroblogFetcher
// contract.
func (s *Scraper) FetchUserPosts(ctx context.Context, handle, sourceName string) ([]*entity.Post, error) {
	tweets, err := s.FetchUserTweets(ctx, handle)
	posts := make([]*entity.Post, 0, len(tweets))
	for _, t := range tweets {
		posts = append(posts, t.ToPost(sourceName))
	}
	return posts, err
}

// SleepBetweenUsers applies the randomized pause before switching to the
// next user.
func (s *Scraper) SleepBetweenUsers(ctx context.Context) error {
	return sleepCtx(ctx, uniformDelay(s.cfg.UserSwitchDelayMin, s.cfg.UserSwitchDelayMax))
}

// includeTweet applies the configured retweet/reply exclusion. Self-reply
// threads are always retained.
func (s *Scraper) includeTweet(t *Tweet) bool {
	if t.IsRetweet && !s.cfg.IncludeRetweets {
		return false
	}
	if t.InReplyToID != "" && !s.cfg.IncludeReplies {
		// Reply-to-own-user extends a thread and stays in.
		if t.InReplyToUserID == "" || t.InReplyToUserID != t.UserID {
			return false
		}
	}
	return true
}

// uniformDelay draws from Uniform[min, max].
func uniformDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	// #nosec G404 -- pacing jitter only.
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
