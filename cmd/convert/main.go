package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/INLOpen/chunkbridge/config"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/hooks"
	"github.com/INLOpen/chunkbridge/hooks/listeners"
	"github.com/INLOpen/chunkbridge/monitor"
	"github.com/INLOpen/chunkbridge/pipeline"
	"github.com/spf13/cobra"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Exit codes.
const (
	exitOK        = 0
	exitFatal     = 1
	exitDataLoss  = 2
	exitCancelled = 130
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider
// exporting to the configured collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("chunkbridge")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// flags are the command-line overrides applied on top of the config file.
type flags struct {
	configPath  string
	concurrency int
	dimensions  []string
	chunks      []string
	tempDir     string
	report      string
	levelName   string
	logLevel    string
	noProgress  bool
}

// apply copies the flags that were set onto cfg.
func (f *flags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("concurrency") {
		cfg.Conversion.Concurrency = f.concurrency
	}
	if set("dimension") {
		cfg.Conversion.Dimensions = f.dimensions
	}
	if set("chunks") {
		cfg.Conversion.Chunks = f.chunks
	}
	if set("temp-dir") {
		cfg.Conversion.TempDir = f.tempDir
	}
	if set("report") {
		cfg.Report.Enabled = f.report != ""
		cfg.Report.Path = f.report
	}
	if set("level-name") {
		cfg.Conversion.LevelName = f.levelName
	}
	if set("log-level") {
		cfg.Logging.Level = f.logLevel
	}
}

// buildOptions turns the configuration into pipeline options.
func buildOptions(cfg *config.Config, logger *slog.Logger) (pipeline.Options, error) {
	dims, err := cfg.DimensionList()
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("conversion.dimensions: %w", err)
	}
	filter, err := cfg.ChunkFilter()
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("conversion.chunks: %w", err)
	}
	opts := pipeline.Options{
		DimensionFilter:    dims,
		ChunkFilter:        filter,
		TempDirectory:      cfg.Conversion.TempDir,
		Logger:             logger,
		RecordCompression:  cfg.Staging.RecordCompression,
		SegmentCompression: cfg.Staging.SegmentCompression,
		SegmentConcurrency: cfg.Staging.SegmentConcurrency,
		FlushEvery:         cfg.Staging.FlushEvery,
		BatchSize:          cfg.Output.BatchSize,
		LockTimeout:        config.ParseDuration(cfg.Conversion.LockTimeout, 5*time.Second, logger),
		MinDataVersion:     cfg.Conversion.MinDataVersion,
		LevelName:          cfg.Conversion.LevelName,
	}
	if cfg.Report.Enabled {
		opts.ReportPath = cfg.Report.Path
	}
	if cfg.SelfMonitoring.Enabled {
		opts.MonitorInterval = config.ParseDuration(cfg.SelfMonitoring.Interval, 15*time.Second, logger)
	}
	return opts, nil
}

// concurrency resolves the configured worker count; 0 means one per CPU.
func concurrency(n int) uint {
	if n <= 0 {
		return uint(runtime.NumCPU())
	}
	return uint(n)
}

// exitCode maps the outcome of a run to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, core.ErrCancelled):
		return exitCancelled
	case core.IsDataLoss(err):
		return exitDataLoss
	default:
		return exitFatal
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	code := exitOK
	cmd := &cobra.Command{
		Use:           "chunkbridge <java-world> <bedrock-world>",
		Short:         "Convert a Minecraft Java world into a Bedrock world",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code = runConvert(cmd, f, args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "chunkbridge.yaml", "Path to the configuration file")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "j", 0, "Number of region workers (0 means one per CPU)")
	cmd.Flags().StringSliceVar(&f.dimensions, "dimension", nil, "Dimensions to convert (overworld, nether, end)")
	cmd.Flags().StringSliceVar(&f.chunks, "chunks", nil, "Chunk rectangles to convert, as x1,z1:x2,z2")
	cmd.Flags().StringVar(&f.tempDir, "temp-dir", "", "Directory for scratch files")
	cmd.Flags().StringVar(&f.report, "report", "", "Write a SQLite conversion report to this path")
	cmd.Flags().StringVar(&f.levelName, "level-name", "", "Name of the converted world")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "Disable progress bars")
	cmd.PostRun = func(*cobra.Command, []string) {
		if code != exitOK {
			os.Exit(code)
		}
	}
	return cmd
}

func runConvert(cmd *cobra.Command, f *flags, input, output string) int {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", f.configPath, "error", err)
		return exitFatal
	}
	f.apply(cmd, cfg)

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		return exitFatal
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		return exitFatal
	}
	defer tracerCleanup()

	opts, err := buildOptions(cfg, logger)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return exitFatal
	}
	opts.Tracer = tp.Tracer("chunkbridge/pipeline")

	hookManager := hooks.NewHookManager(logger)
	metrics := monitor.NewMetrics(true, "chunkbridge_")
	metrics.Register(hookManager)
	slow := listeners.NewSlowRegionListener(logger, listeners.SlowRegionRule{
		MaxDuration:  config.ParseDuration(cfg.Report.SlowRegion, 30*time.Second, logger),
		MaxSkipRatio: 0.1,
	})
	hookManager.Register(hooks.EventPostRegionConvert, slow)
	skips := listeners.NewSkipAlerterListener(logger)
	hookManager.Register(hooks.EventOnUnitSkipped, skips)
	opts.Hooks = hookManager

	if cfg.Debug.Enabled {
		debugSrv := monitor.NewDebugServer(cfg.Debug, logger)
		addr, err := debugSrv.Start()
		if err != nil {
			logger.Error("Failed to start debug server", "error", err)
		} else {
			logger.Info("Debug server listening", "address", addr)
			defer debugSrv.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bars := newProgressBars(cmd.ErrOrStderr(), !f.noProgress)
	start := time.Now()
	err = pipeline.Run(ctx, input, output, concurrency(cfg.Conversion.Concurrency), opts, bars)
	bars.Close()

	if outliers := slow.Outliers(); len(outliers) > 0 {
		logger.Warn("Slow or lossy regions", "count", len(outliers))
	}
	code := exitCode(err)
	switch code {
	case exitOK:
		logger.Info("Conversion finished", "output", output, "duration", time.Since(start).String())
	case exitDataLoss:
		logger.Warn("Conversion finished with data loss", "output", output, "skipped", skips.Count(), "error", err)
	case exitCancelled:
		logger.Warn("Conversion cancelled", "error", err)
	default:
		logger.Error("Conversion failed", "error", err, "chain", core.Chain(err))
	}
	fmt.Fprintln(cmd.ErrOrStderr(), summaryLine(err, output))
	return code
}

func summaryLine(err error, output string) string {
	switch exitCode(err) {
	case exitOK:
		return "converted world written to " + output
	case exitDataLoss:
		return "converted world written to " + output + " with data loss: " + err.Error()
	default:
		return "conversion failed: " + err.Error()
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}
