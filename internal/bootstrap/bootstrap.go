// Package bootstrap provides dependency initialization for the channel trailer API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/channel-trailer-api/internal/config"
	"github.com/maauso/channel-trailer-api/internal/job"
	"github.com/maauso/channel-trailer-api/internal/media"
	"github.com/maauso/channel-trailer-api/internal/runner"
	"github.com/maauso/channel-trailer-api/internal/workspace"
	"github.com/maauso/channel-trailer-api/internal/youtube"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	TrailerService *job.TrailerService
	// Tools reports whether yt-dlp and ffmpeg were found at startup.
	Tools media.DependencyReport
	// ToolCheck re-runs the executable lookup for health checks.
	ToolCheck func() media.DependencyReport
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize workspace root
	workspaces, err := workspace.NewManager(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}
	logger.Info("workspace root configured",
		slog.String("work_dir", workspaces.Root()),
	)

	toolCheck := func() media.DependencyReport {
		return media.DependencyStatus(cfg.YTDLPPath, cfg.FFmpegPath)
	}
	tools := toolCheck()
	if err := tools.Err(); err != nil {
		// Builds fail as infrastructure errors until the tools are installed.
		logger.Warn("external tools missing",
			slog.String("error", err.Error()),
		)
	}

	// Initialize process runner and media stages
	r := runner.NewExecRunner(runner.WithOutputArtifacts(cfg.KeepToolOutput))
	fetcher := media.NewYTDLPFetcher(r, cfg.YTDLPPath)
	processor := media.NewFFmpegProcessor(r, cfg.FFmpegPath)

	// Initialize job repository
	repo := job.NewMemoryRepository()

	opts := []job.ServiceOption{
		job.WithMaxSources(cfg.MaxSources),
		job.WithDefaultSampleSize(cfg.DefaultSampleSize),
		job.WithBuildTimeout(cfg.BuildTimeout),
	}

	sampler, err := initSampler(cfg, logger)
	if err != nil {
		return nil, err
	}
	if sampler != nil {
		opts = append(opts, job.WithChannelSampler(sampler))
	}

	svc := job.NewTrailerService(
		repo,
		workspaces,
		fetcher,
		processor,
		processor,
		logger,
		opts...,
	)

	return &Dependencies{
		TrailerService: svc,
		Tools:          tools,
		ToolCheck:      toolCheck,
	}, nil
}

// initSampler creates the channel sampler when a YouTube API key is configured.
// It returns nil without an error when channel trailers are disabled.
func initSampler(cfg *config.Config, logger *slog.Logger) (*youtube.Sampler, error) {
	if !cfg.ChannelsEnabled() {
		logger.Info("channel trailers disabled, YOUTUBE_API_KEY not set")
		return nil, nil
	}

	var clientOpts []youtube.ClientOption
	if cfg.YouTubeBaseURL != "" {
		clientOpts = append(clientOpts, youtube.WithBaseURL(cfg.YouTubeBaseURL))
	}
	client, err := youtube.NewClient(cfg.YouTubeAPIKey, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create YouTube client: %w", err)
	}

	logger.Info("channel trailers enabled",
		slog.Int("listing_window", cfg.ListingWindow),
	)
	return youtube.NewSampler(client,
		youtube.WithListingWindow(cfg.ListingWindow),
		youtube.WithLogger(logger),
	), nil
}
