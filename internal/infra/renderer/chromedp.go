// Package renderer fetches embedded URLs through a dynamically-rendering
// web client and extracts the main textual body. A headless Chrome
// session (chromedp) renders script-heavy pages; the Readability
// algorithm then strips navigation and boilerplate. When Chrome is
// unavailable the renderer degrades to a plain HTTP fetch of the static
// HTML.
package renderer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/sony/gobreaker"

	"prodscout/internal/resilience/circuitbreaker"
	"prodscout/internal/resilience/retry"
)

// maxBodySize caps the HTML read from a static fetch.
const maxBodySize = 8 << 20

// ChromeRenderer implements the enrich stage's WebRenderer.
// It is safe for concurrent use: each Render call runs in its own browser
// tab off a shared allocator.
type ChromeRenderer struct {
	allocCtx       context.Context
	allocCancel    context.CancelFunc
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	denyPrivateIPs bool
	logger         *slog.Logger
}

// NewChromeRenderer starts the shared headless browser allocator.
func NewChromeRenderer(logger *slog.Logger) *ChromeRenderer {
	if logger == nil {
		logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeRenderer{
		allocCtx:       allocCtx,
		allocCancel:    allocCancel,
		httpClient:     newStaticClient(),
		circuitBreaker: circuitbreaker.New(circuitbreaker.RenderConfig()),
		retryConfig:    retry.RenderConfig(),
		denyPrivateIPs: true,
		logger:         logger,
	}
}

// Close tears down the browser allocator.
func (r *ChromeRenderer) Close() {
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

// Render fetches urlStr, preferring the headless browser and falling back
// to a static HTTP fetch, then extracts the main article text. Transient
// failures retry with backoff through the shared circuit breaker.
func (r *ChromeRenderer) Render(ctx context.Context, urlStr string) (string, error) {
	if err := checkTarget(urlStr, r.denyPrivateIPs); err != nil {
		return "", err
	}

	var text string

	retryErr := retry.WithBackoff(ctx, r.retryConfig, func() error {
		result, err := r.circuitBreaker.Execute(func() (interface{}, error) {
			return r.doRender(ctx, urlStr)
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				r.logger.Warn("render circuit breaker open, request rejected",
					slog.String("url", urlStr),
					slog.String("state", r.circuitBreaker.State().String()))
			}
			return err
		}

		text = result.(string)
		return nil
	})

	if retryErr != nil {
		return "", retryErr
	}
	return text, nil
}

func (r *ChromeRenderer) doRender(ctx context.Context, urlStr string) (string, error) {
	html, err := r.renderDynamic(ctx, urlStr)
	if err != nil {
		r.logger.Debug("dynamic render failed, falling back to static fetch",
			slog.String("url", urlStr),
			slog.Any("error", err))
		html, err = r.fetchStatic(ctx, urlStr)
		if err != nil {
			return "", err
		}
	}
	return extractText(html, urlStr)
}

// renderDynamic loads the page in a fresh tab and returns the rendered
// DOM.
func (r *ChromeRenderer) renderDynamic(ctx context.Context, urlStr string) (string, error) {
	tabCtx, cancel := chromedp.NewContext(r.allocCtx)
	defer cancel()

	// Honor the caller's deadline inside the tab context.
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		tabCtx, dcancel = context.WithDeadline(tabCtx, deadline)
		defer dcancel()
	}

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(urlStr),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", urlStr, err)
	}
	return html, nil
}

// fetchStatic retrieves the raw HTML without a browser.
func (r *ChromeRenderer) fetchStatic(ctx context.Context, urlStr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", "ProdScoutBot/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", urlStr, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		// Typed so 5xx responses stay retryable upstream.
		return "", &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// extractText pulls the main article text out of rendered HTML using
// Readability, with a goquery body-text fallback for pages the algorithm
// rejects.
func extractText(html, urlStr string) (string, error) {
	parsedURL, _ := url.Parse(urlStr)
	article, err := readability.FromReader(bytes.NewReader([]byte(html)), parsedURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	doc, qerr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if qerr != nil {
		if err != nil {
			return "", fmt.Errorf("readability: %w", err)
		}
		return "", fmt.Errorf("parse html: %w", qerr)
	}
	doc.Find("script, style, nav, header, footer").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", urlStr)
	}
	return squashWhitespace(text), nil
}

func squashWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func newStaticClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}
