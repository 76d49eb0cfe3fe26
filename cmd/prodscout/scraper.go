package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prodscout/internal/config"
	"prodscout/internal/domain/entity"
	"prodscout/internal/usecase/pipeline"
)

func newScraperCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "scraper",
		Short: "Run only the microblog scraper; one JSON file per user",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runScraperCommand(logger))
		},
	}
}

func runScraperCommand(logger *slog.Logger) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("configuration error", slog.Any("error", err))
		return exitConfigError
	}
	if !cfg.XScraper.Enabled {
		logger.Error("scraper subcommand requires [x_scraper] enabled = true")
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	xs, err := buildScraper(cfg, logger)
	if err != nil {
		logger.Error("scraper setup failed", slog.Any("error", err))
		return exitConfigError
	}

	batchID := pipeline.NewBatchID(time.Now())
	outDir := filepath.Join(cfg.DataDir, "x_scraper_"+batchID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		logger.Error("create output directory failed", slog.Any("error", err))
		return exitFatal
	}

	var users []string
	for _, src := range cfg.Sources {
		if src.Type == entity.SourceMicroblog && !strings.HasPrefix(src.Feed, "http") {
			users = append(users, strings.TrimPrefix(src.Feed, "@"))
		}
	}
	if len(users) == 0 {
		logger.Error("no microblog account handles configured")
		return exitConfigError
	}

	errored := 0
	for i, user := range users {
		tweets, err := xs.FetchUserTweets(ctx, user)
		if err != nil {
			logger.Warn("user fetch failed",
				slog.String("username", user),
				slog.Any("error", err))
			errored++
		}
		if len(tweets) > 0 {
			path := filepath.Join(outDir, user+".json")
			data, marshalErr := json.MarshalIndent(tweets, "", "  ")
			if marshalErr == nil {
				marshalErr = os.WriteFile(path, data, 0o644)
			}
			if marshalErr != nil {
				logger.Error("write user export failed",
					slog.String("path", path),
					slog.Any("error", marshalErr))
				errored++
			}
		}
		if ctx.Err() != nil {
			break
		}
		if i < len(users)-1 {
			if err := xs.SleepBetweenUsers(ctx); err != nil {
				break
			}
		}
	}

	// Credential pool snapshot, tokens masked.
	status, _ := json.MarshalIndent(xs.Pool().Status(), "", "  ")
	fmt.Fprintf(os.Stderr, "credential pool status:\n%s\n", status)

	switch {
	case errored == len(users):
		return exitFatal
	case float64(errored)/float64(len(users)) > partialFailureRatio:
		return exitPartialFailure
	default:
		return exitOK
	}
}
