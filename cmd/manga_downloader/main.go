package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/italolelis/manga_downloader/internal/chapters"
	"github.com/italolelis/manga_downloader/internal/config"
	"github.com/italolelis/manga_downloader/internal/downloader"
	"github.com/italolelis/manga_downloader/internal/fetch"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/notifier"
	"github.com/italolelis/manga_downloader/internal/packaging"
	"github.com/italolelis/manga_downloader/internal/pipeline"
	"github.com/italolelis/manga_downloader/internal/source/fanfox"
	"github.com/italolelis/manga_downloader/internal/storage"
	"github.com/italolelis/manga_downloader/internal/storage/sqlite"
	"github.com/italolelis/manga_downloader/internal/telemetry"
)

const (
	exitError       = 1
	exitInterrupted = 130
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)

	switch {
	case err == nil:
		return
	case ctx.Err() != nil:
		slog.Warn("operation cancelled by user")
		stop()
		os.Exit(exitInterrupted)
	default:
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(exitError)
	}
}

type cliFlags struct {
	configFile  string
	downloadDir string
	format      string
	chapters    string
	sort        string
	keepImages  bool
	verbose     bool
	delay       float64
	poolSize    int
}

func newRootCommand() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:   "manga_downloader <url>",
		Short: "Download manga chapters and pack them into PDF or CBZ files",
		Example: `  # Download a single chapter as PDF
  manga_downloader https://fanfox.net/manga/example/v01/c001/1.html

  # Download an entire series as CBZ files
  manga_downloader https://fanfox.net/manga/example/ --format cbz

  # Download chapters 1 to 10, oldest first, keeping the images
  manga_downloader https://fanfox.net/manga/example/ -c 1-10 -s asc --keep-images`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg, args[0])
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to a TOML config file (env: CONFIG_FILE)")
	cmd.AddCommand(newHistoryCommand(&flags))

	f := cmd.Flags()
	f.StringVarP(&flags.downloadDir, "download-dir", "d", "downloads", "directory to download images to")
	f.StringVarP(&flags.format, "format", "f", "pdf", "output format: pdf, cbz or none")
	f.StringVarP(&flags.chapters, "chapters", "c", "All", "chapter range, e.g. 1-10, 5-All or All")
	f.StringVarP(&flags.sort, "sort", "s", "desc", "download order: asc (oldest first) or desc (newest first)")
	f.BoolVar(&flags.keepImages, "keep-images", false, "keep downloaded images after packaging")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	f.Float64Var(&flags.delay, "delay", 1, "delay between chapters in seconds")
	f.IntVar(&flags.poolSize, "pool-size", pipeline.DefaultPoolSize, "concurrent page downloads per chapter")

	return cmd
}

func newHistoryCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <series>",
		Short: "List the chapters of a series recorded in the history database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *flags)
			if err != nil {
				return err
			}

			if cfg.HistoryDB == "" {
				return errors.New("no history database configured, set HISTORY_DB or history_db")
			}

			database, err := sqlite.InitDB(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer database.Close()

			records, err := sqlite.NewChapterRepository(database).GetChapters(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}

			return printHistory(cmd.OutOrStdout(), records)
		},
	}
}

func printHistory(w io.Writer, records []storage.ChapterRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "CHAPTER\tSTATUS\tPAGES\tFAILED\tARTIFACT\tUPDATED")

	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", r.Chapter, r.Status, r.Pages, r.FailedPages, r.ArtifactPath, r.UpdatedAt)
	}

	return tw.Flush()
}

// loadConfig layers env values, the optional config file and explicitly set flags.
func loadConfig(cmd *cobra.Command, flags cliFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if flags.configFile != "" {
		cfg.ConfigFile = flags.configFile
	}

	if cfg.ConfigFile != "" {
		if err := cfg.ApplyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed

	if changed("download-dir") {
		cfg.DownloadDir = flags.downloadDir
	}

	if changed("format") {
		cfg.OutputFormat = flags.format
	}

	if changed("chapters") {
		cfg.ChapterRange = flags.chapters
	}

	if changed("sort") {
		cfg.SortOrder = flags.sort
	}

	if changed("keep-images") {
		cfg.KeepImages = flags.keepImages
	}

	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}

	if changed("delay") {
		if flags.delay < 0 {
			return nil, fmt.Errorf("delay must not be negative")
		}

		cfg.RequestDelay = time.Duration(flags.delay * float64(time.Second))
	}

	if changed("pool-size") {
		cfg.PoolSize = flags.poolSize
	}

	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, url string) error {
	// =========================================================================
	// Start Logging
	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.SetDefault(logger)
	ctx = logctx.WithLogger(ctx, logger)

	opts, err := pipelineOptions(cfg, url)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		logger.Info("manga downloader starting",
			"version", version,
			"url", url,
			"download_dir", opts.DownloadDir,
			"format", string(opts.Format),
			"chapters", opts.Range.String(),
			"sort", opts.Sort.String(),
			"keep_images", opts.KeepFiles,
			"pool_size", opts.PoolSize,
			"delay", opts.Delay.String(),
		)
	}

	if err := os.MkdirAll(opts.DownloadDir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.MetricsAddr != "" || cfg.OTLPEndpoint != "",
		ServiceName:    "manga_downloader",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		stopMetrics := startMetricsServer(ctx, cfg.MetricsAddr, tel)
		defer stopMetrics()
	}

	// =========================================================================
	// Start Pipeline
	pcfg := pipeline.Config{
		Packager:  packaging.NewPackager(tel),
		Telemetry: tel,
	}

	if cfg.HistoryDB != "" {
		database, err := sqlite.InitDB(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer database.Close()

		pcfg.History = sqlite.NewInstrumentedChapterRepository(database, tel)
	}

	if cfg.DiscordWebhookURL != "" {
		pcfg.Notifier = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	client := fetch.NewClient(fetch.Options{Timeout: cfg.RequestTimeout, Telemetry: tel})

	pcfg.Downloader = downloader.NewDownloader(client, downloader.Options{
		Retry:     downloader.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay},
		Reporter:  downloader.NewLogReporter(ctx, 10),
		Telemetry: tel,
	})

	pcfg.Source, err = fanfox.New(client, cfg.SourceURL)
	if err != nil {
		return err
	}

	return pipeline.New(pcfg).Run(ctx, opts)
}

func pipelineOptions(cfg *config.Config, url string) (pipeline.Options, error) {
	format, err := packaging.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return pipeline.Options{}, err
	}

	rng, err := chapters.ParseRange(cfg.ChapterRange)
	if err != nil {
		return pipeline.Options{}, err
	}

	order, err := chapters.ParseSort(cfg.SortOrder)
	if err != nil {
		return pipeline.Options{}, err
	}

	if cfg.PoolSize < 1 {
		return pipeline.Options{}, fmt.Errorf("pool size must be at least 1, got %d", cfg.PoolSize)
	}

	return pipeline.Options{
		URL:         url,
		DownloadDir: cfg.DownloadDir,
		Format:      format,
		Range:       rng,
		Sort:        order,
		KeepFiles:   cfg.KeepImages,
		Delay:       cfg.RequestDelay,
		PoolSize:    cfg.PoolSize,
	}, nil
}

// setupLogger builds the run logger: JSON on stdout (text when verbose),
// optionally fanned out to a JSON log file, tagged with a run id.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Verbose {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	closeLog := func() {}

	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(file, opts))
		closeLog = func() { file.Close() }
	}

	logger := slog.New(logctx.NewContextHandler(handler)).With("run_id", uuid.NewString())

	return logger, closeLog, nil
}

// startMetricsServer serves /metrics until the returned stop function is called.
func startMetricsServer(ctx context.Context, addr string, tel *telemetry.Telemetry) func() {
	logger := logctx.LoggerFromContext(ctx)

	r := chi.NewRouter()
	r.Handle("/metrics", tel.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the metrics server", "err", err)
		}
	}
}
