// Package xclient implements the microblog direct scraper: a credential
// pool with cooldown tracking, a GraphQL client with browser TLS
// impersonation, a timeline parser, and the cursor-paginated fetch loop.
package xclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"prodscout/internal/domain/entity"
	"prodscout/internal/observability/metrics"
)

// credentialMinInterval is the pacing floor between requests on a single
// credential, independent of the scraper's randomized delays. Keeps any
// credential under the platform's per-15-minute quota even if delays are
// configured aggressively.
const credentialMinInterval = 10 * time.Second

// Credential is one auth_token/csrf_token pair granting authenticated
// access to the platform. All mutation happens through the Pool.
type Credential struct {
	AuthToken string
	CSRFToken string

	// CooldownUntil is zero when the credential is not cooling.
	CooldownUntil time.Time
	RequestCount  int
	FailureCount  int
	LastUsed      time.Time
	Disabled      bool

	limiter *rate.Limiter
}

// CredentialStatus is a masked snapshot of one credential for observability.
type CredentialStatus struct {
	AuthToken     string    `json:"auth_token"`
	CSRFToken     string    `json:"csrf_token"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
	RequestCount  int       `json:"request_count"`
	FailureCount  int       `json:"failure_count"`
	Disabled      bool      `json:"disabled"`
}

// Pool manages a set of credentials with weighted round-robin selection.
// It is the only mutable shared resource in the scraper; a single mutex
// serializes all access.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	logger *slog.Logger
}

// NewPool creates a pool over the given credentials.
func NewPool(creds []*Credential, logger *slog.Logger) (*Pool, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: credential pool is empty", entity.ErrConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, c := range creds {
		c.limiter = rate.NewLimiter(rate.Every(credentialMinInterval), 1)
	}
	return &Pool{creds: creds, logger: logger}, nil
}

// LoadCredentials assembles the credential list from the configured
// pipe-delimited pairs plus the environment-style file. The env file is
// matched on the exact keys TWITTER_AUTH_TOKEN and TWITTER_CT0, with
// XCSRF_TOKEN accepted as an alias for the latter.
func LoadCredentials(envFile, pipePairs string) ([]*Credential, error) {
	var creds []*Credential

	if pipePairs != "" {
		parsed, err := ParsePairs(pipePairs)
		if err != nil {
			return nil, err
		}
		creds = append(creds, parsed...)
	}

	if envFile != "" {
		env, err := godotenv.Read(envFile)
		if err != nil {
			if len(creds) > 0 {
				slog.Warn("credential env file unreadable, using configured pairs only",
					slog.String("path", envFile),
					slog.Any("error", err))
				return creds, nil
			}
			return nil, fmt.Errorf("%w: read credential file %s: %v", entity.ErrConfig, envFile, err)
		}
		auth := env["TWITTER_AUTH_TOKEN"]
		csrf := env["TWITTER_CT0"]
		if csrf == "" {
			csrf = env["XCSRF_TOKEN"]
		}
		if auth != "" && csrf != "" {
			creds = append(creds, &Credential{AuthToken: auth, CSRFToken: csrf})
		}
	}

	if len(creds) == 0 {
		return nil, fmt.Errorf("%w: no scraper credentials configured", entity.ErrConfig)
	}
	return creds, nil
}

// ParsePairs parses a pipe-delimited "token:csrf|token2:csrf2" list.
func ParsePairs(raw string) ([]*Credential, error) {
	var creds []*Credential
	for _, pair := range strings.Split(raw, "|") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, csrf, ok := strings.Cut(pair, ":")
		if !ok || token == "" || csrf == "" {
			return nil, fmt.Errorf("%w: malformed credential pair %q", entity.ErrConfig, mask(pair))
		}
		creds = append(creds, &Credential{AuthToken: token, CSRFToken: csrf})
	}
	return creds, nil
}

// GetNext returns a non-cooling, non-disabled credential, favoring the one
// with the lowest failure count and, among equals, the oldest last use.
// If every usable credential is cooling, it blocks until the earliest
// cooldown expires. If all credentials are disabled it returns an error
// wrapping entity.ErrAuthFailure that aborts the scraper.
func (p *Pool) GetNext(ctx context.Context) (*Credential, error) {
	for {
		cred, wait, err := p.selectLocked()
		if err != nil {
			return nil, err
		}
		if cred != nil {
			// Pacing floor outside the pool lock.
			if err := cred.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return cred, nil
		}

		p.logger.Info("all credentials cooling, waiting",
			slog.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// selectLocked picks a credential under the lock. Returns (nil, wait, nil)
// when every live credential is cooling.
func (p *Pool) selectLocked() (*Credential, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var best *Credential
	var earliest time.Time
	alive := 0

	for _, c := range p.creds {
		if c.Disabled {
			continue
		}
		alive++
		if !c.CooldownUntil.IsZero() && c.CooldownUntil.After(now) {
			if earliest.IsZero() || c.CooldownUntil.Before(earliest) {
				earliest = c.CooldownUntil
			}
			continue
		}
		if best == nil ||
			c.FailureCount < best.FailureCount ||
			(c.FailureCount == best.FailureCount && c.LastUsed.Before(best.LastUsed)) {
			best = c
		}
	}

	if alive == 0 {
		return nil, 0, fmt.Errorf("%w: all credentials disabled", entity.ErrAuthFailure)
	}
	if best == nil {
		return nil, time.Until(earliest), nil
	}

	best.LastUsed = now
	best.RequestCount++
	return best, 0, nil
}

// ReportRateLimited puts the credential into cooldown for cooldown and
// counts a soft fault against it.
func (p *Pool) ReportRateLimited(c *Credential, cooldown time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.CooldownUntil = time.Now().Add(cooldown)
	c.FailureCount++
	p.logger.Warn("credential rate limited",
		slog.String("auth_token", mask(c.AuthToken)),
		slog.Duration("cooldown", cooldown),
		slog.Int("failure_count", c.FailureCount))
	metrics.RecordScraperRateLimited()
}

// ReportAuthFailure permanently disables the credential.
func (p *Pool) ReportAuthFailure(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.Disabled = true
	c.FailureCount++
	disabled := 0
	for _, cred := range p.creds {
		if cred.Disabled {
			disabled++
		}
	}
	p.logger.Warn("credential disabled after auth failure",
		slog.String("auth_token", mask(c.AuthToken)),
		slog.Int("disabled_total", disabled))
	metrics.ScraperCredentialsDisabled.Set(float64(disabled))
}

// ReportSuccess decrements the credential's failure count, floored at zero.
func (p *Pool) ReportSuccess(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.FailureCount > 0 {
		c.FailureCount--
	}
}

// Status returns a per-credential snapshot with tokens masked to their
// first four characters.
func (p *Pool) Status() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]CredentialStatus, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, CredentialStatus{
			AuthToken:     mask(c.AuthToken),
			CSRFToken:     mask(c.CSRFToken),
			CooldownUntil: c.CooldownUntil,
			RequestCount:  c.RequestCount,
			FailureCount:  c.FailureCount,
			Disabled:      c.Disabled,
		})
	}
	return out
}

// mask truncates a secret to its first four characters followed by "****".
func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
