// Package notifier posts the run summary to an optional webhook after the
// manifest is written. Delivery is fire-and-forget; failures are logged
// and never affect the run outcome.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"prodscout/internal/config"
	"prodscout/internal/usecase/pipeline"
)

// WebhookNotifier delivers run summaries as JSON POSTs.
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier validates the [notify] configuration and returns the
// notifier, or nil when notifications are not configured or the URL is
// unusable.
func NewWebhookNotifier(cfg config.NotifyConfig, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WebhookURL == "" {
		return nil
	}

	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || u.Scheme != "https" {
		logger.Warn("notify webhook must be a valid https URL, notifications disabled",
			slog.Any("error", err))
		return nil
	}

	return &WebhookNotifier{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// NotifyRunComplete posts the summary of a finished run.
func (n *WebhookNotifier) NotifyRunComplete(ctx context.Context, summary *pipeline.Summary) {
	payload := map[string]interface{}{
		"batch_id":              summary.BatchID,
		"elapsed_seconds":       int(summary.Elapsed.Seconds()),
		"cancelled":             summary.Cancelled,
		"sources_total":         summary.SourcesTotal,
		"sources_errored":       summary.SourcesErrored,
		"counts_by_source_type": summary.CountsBySourceType,
		"counts_by_quality":     summary.CountsByQuality,
		"errors_by_kind":        summary.ErrorsByKind,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("marshal notify payload failed", slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build notify request failed", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("run notification failed", slog.Any("error", err))
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		n.logger.Warn("run notification rejected",
			slog.String("status", fmt.Sprintf("HTTP %d", resp.StatusCode)))
		return
	}

	n.logger.Info("run notification delivered",
		slog.String("batch_id", summary.BatchID),
		slog.Duration("elapsed", summary.Elapsed))
}
