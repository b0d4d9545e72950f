package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skypro1111/meeting-transcriber/internal/audio"
	"github.com/skypro1111/meeting-transcriber/internal/blobstore"
	"github.com/skypro1111/meeting-transcriber/internal/config"
	"github.com/skypro1111/meeting-transcriber/internal/metrics"
	"github.com/skypro1111/meeting-transcriber/internal/pipeline"
	"github.com/skypro1111/meeting-transcriber/internal/server"
	"github.com/skypro1111/meeting-transcriber/internal/transcribe"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "meeting-transcriber"
	serviceVersion    = "1.0.0"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Split long recordings into provider-sized chunks and transcribe them",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Optional .env file for local development.
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(transcribeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func transcribeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe a single audio file and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON instead of plain text")

	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.Int("max_chunk_bytes", cfg.Limits.MaxChunkBytes),
		slog.Float64("max_chunk_duration", cfg.Limits.MaxChunkDuration),
		slog.String("model", cfg.Transcription.Model),
		slog.Int("concurrency", cfg.Pipeline.Concurrency),
		slog.Float64("failure_ceiling", cfg.Pipeline.FailureCeiling),
		slog.String("blobstore_backend", cfg.Blobstore.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	pipe, err := buildPipeline(cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to build pipeline", slog.String("error", err.Error()))
		return err
	}

	httpServer := server.NewHTTPServer(cfg, logger, pipe, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	pipe.Stop()

	stats := pipe.SplitterStats()
	logger.Info("Final splitter statistics",
		slog.Uint64("blobs_split", stats.BlobsSplit),
		slog.Uint64("chunks_produced", stats.ChunksProduced),
		slog.Uint64("bytes_processed", stats.BytesProcessed),
		slog.Uint64("downsample_passes", stats.DownsamplePasses),
	)

	logger.Info("Service stopped")
	return nil
}

func runTranscribe(path string, asJSON bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Keep the transcript on stdout; everything else goes to stderr.
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	logger := initLogger(cfg.Logging)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	blob := audio.Blob{Data: data, MIME: fileMIME(path, data)}

	pipe, err := buildPipeline(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer pipe.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := pipe.TranscribeWithProgress(ctx, blob, func(p pipeline.Progress) {
		fmt.Fprintf(os.Stderr, "\r%s: %3.0f%% (%d/%d chunks)", p.Stage, p.Percent, p.Completed, p.Total)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Println(result.Transcript)
	return nil
}

// loadConfig reads the configuration file, falling back to defaults when
// the default path does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && configPath == defaultConfigPath {
			cfg = config.Default()
		} else {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	// The environment takes precedence over the config file for secrets.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Transcription.APIKey = key
	}
	if key := os.Getenv("BLOBSTORE_API_KEY"); key != "" {
		cfg.Blobstore.APIKey = key
	}

	return cfg, nil
}

func buildPipeline(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	transcriber, err := transcribe.NewOpenAITranscriber(transcribe.Config{
		APIKey:       cfg.Transcription.APIKey,
		BaseURL:      cfg.Transcription.BaseURL,
		DefaultModel: cfg.Transcription.Model,
		Language:     cfg.Transcription.Language,
		Temperature:  cfg.Transcription.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transcriber: %w", err)
	}

	store, err := buildBlobstore(cfg.Blobstore)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	return pipeline.New(logger, transcriber, store, m, pipeline.Config{
		Split: audio.SplitConfig{
			MaxChunkBytes:      cfg.Limits.MaxChunkBytes,
			MaxChunkDuration:   cfg.Limits.MaxChunkDuration,
			HardLimitBytes:     cfg.Limits.HardLimitBytes,
			MinSampleRate:      cfg.Limits.MinSampleRate,
			DownsampleAttempts: cfg.Limits.DownsampleAttempts,
		},
		Scheduler: pipeline.SchedulerConfig{
			Concurrency:    cfg.Pipeline.Concurrency,
			BatchDelay:     cfg.Pipeline.GetBatchDelay(),
			MaxRetries:     cfg.Pipeline.MaxRetries,
			RetryBaseDelay: cfg.Pipeline.GetRetryBaseDelay(),
			RetryMaxDelay:  cfg.Pipeline.GetRetryMaxDelay(),
			AttemptTimeout: cfg.Pipeline.GetAttemptTimeout(),
		},
		FailureCeiling: cfg.Pipeline.FailureCeiling,
		RunRetention:   cfg.Pipeline.GetRunRetention(),
		Model:          cfg.Transcription.Model,
		Language:       cfg.Transcription.Language,
		Prompt:         cfg.Transcription.Prompt,
	}), nil
}

func buildBlobstore(cfg config.BlobstoreConfig) (blobstore.Store, error) {
	switch cfg.Backend {
	case "http":
		return blobstore.NewHTTPStore(blobstore.HTTPConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.GetTimeoutDuration(),
		})
	case "memory", "":
		return blobstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blobstore backend %q", cfg.Backend)
	}
}

func fileMIME(path string, data []byte) string {
	if ext := filepath.Ext(path); ext != "" {
		if typ := mime.TypeByExtension(ext); typ != "" {
			return typ
		}
	}
	if audio.IsWAV(data) {
		return "audio/wav"
	}
	return "application/octet-stream"
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
