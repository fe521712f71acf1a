// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/app/admission"
	"github.com/ayu3b/beatbox/internal/app/files"
	"github.com/ayu3b/beatbox/internal/app/notify"
	"github.com/ayu3b/beatbox/internal/app/playback"
	"github.com/ayu3b/beatbox/internal/app/sweep"
	"github.com/ayu3b/beatbox/internal/domain/guild"
	"github.com/ayu3b/beatbox/internal/infra/config"
	"github.com/ayu3b/beatbox/internal/infra/discord"
	"github.com/ayu3b/beatbox/internal/infra/fetch"
	"github.com/ayu3b/beatbox/internal/infra/ffmpeg"
	"github.com/ayu3b/beatbox/internal/infra/logger"
	"github.com/ayu3b/beatbox/internal/infra/settings"
)

var (
	app        = kingpin.New("beatbox", "Discord audio queue bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listFiltersCmd = app.Command("list-filters", "List available upload filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	store := guild.NewStore(cfg.Playback.DefaultVolume,
		time.Duration(cfg.Playback.RateLimitSeconds)*time.Second)

	fileManager := files.NewManager(files.Config{
		TempDir:       cfg.Storage.TempDir,
		MaxQueueBytes: int64(cfg.Queue.MaxSizeMB) * 1024 * 1024,
		MaxTracks:     cfg.Queue.MaxTracks,
		ReapInterval:  time.Duration(cfg.Storage.ReapIntervalMinutes) * time.Minute,
		MaxFileAge:    time.Duration(cfg.Storage.MaxFileAgeMinutes) * time.Minute,
	})
	if err := fileManager.EnsureWritable(); err != nil {
		return fmt.Errorf("spool directory not writable: %w", err)
	}

	settingsStore, err := settings.Open(cfg.Storage.SettingsDB)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	defer settingsStore.Close()

	chain, err := buildAdmissionChain(cfg, settingsStore, store)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	downloader := fetch.NewDownloader(fetch.Config{
		Dir: fileManager.TempDir(),
	})
	streamBuilder := ffmpeg.NewBuilder("")
	notices := notify.NewManager()
	defer notices.Close()

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	voices := discord.NewVoiceManager(session)

	engine := playback.NewEngine(playback.Config{
		StreamRestartDelay: time.Duration(cfg.Playback.StreamRestartDelayMs) * time.Millisecond,
		DefaultBitrate:     cfg.Playback.DefaultBitrateKbps,
		MaxBitrate:         cfg.Playback.MaxBitrateKbps,
		MaxTrackDuration:   time.Duration(cfg.Queue.MaxTrackMinutes * float64(time.Minute)),
	}, store, fileManager, downloader, voices, streamBuilder, settingsStore, notices)

	bot := discord.New(session, voices, discord.Deps{
		Store:    store,
		Files:    fileManager,
		Engine:   engine,
		Settings: settingsStore,
		Chain:    chain,
		Notices:  notices,

		AloneGrace: time.Duration(cfg.Sweep.AloneGraceMinutes) * time.Minute,
	})

	sweeper := sweep.NewSweeper(sweep.Config{
		Interval:       time.Duration(cfg.Sweep.IntervalMinutes) * time.Minute,
		AloneGrace:     time.Duration(cfg.Sweep.AloneGraceMinutes) * time.Minute,
		IdleTTL:        time.Duration(cfg.Sweep.IdleTimeoutMinutes) * time.Minute,
		RateLimitTTL:   time.Duration(cfg.Sweep.RateLimitTTLSeconds) * time.Second,
		FailureBackoff: time.Duration(cfg.Sweep.FailureBackoffSeconds) * time.Second,
	}, store, fileManager, engine, bot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)
	go sweeper.Run(ctx)

	if err := bot.Open(); err != nil {
		return fmt.Errorf("failed to open gateway connection: %w", err)
	}
	zlog.Info().Msg("Bot is running, press Ctrl+C to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	// Stop background loops before tearing down voice connections so a
	// sweep cycle cannot race the disconnects.
	cancel()
	bot.Close()

	// Downloaded files are worthless across restarts, drop them all.
	removed, failed := fileManager.Flush()
	zlog.Info().Int("removed", removed).Int("failed", failed).Msg("Final spool cleanup")

	zlog.Info().Msg("Bot stopped")
	return nil
}

// buildAdmissionChain instantiates every registered filter that the
// config enables, validating its settings first.
func buildAdmissionChain(cfg *config.Config, settingsStore *settings.Store, store *guild.Store) (*admission.Chain, error) {
	deps := admission.Deps{
		Settings: settingsStore,
		Rate:     store,
	}
	chain := admission.NewChain()

	for name, factory := range admission.GetRegistered() {
		filterCfg, configured := cfg.Filters[name]
		if configured && !filterCfg.Enabled {
			zlog.Info().Str("filter", name).Msg("Upload filter disabled by config")
			continue
		}

		filterSettings := filterCfg.Settings
		if name == "duration_limit" && filterSettings == nil {
			filterSettings = map[string]any{"max_minutes": cfg.Queue.MaxTrackMinutes}
		}

		f := factory(deps)
		if err := f.ValidateConfig(filterSettings); err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		chain.Add(f)
		zlog.Info().Str("filter", name).Msg("Upload filter enabled")
	}
	return chain, nil
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range admission.GetRegistered() {
		f := factory(admission.Deps{})
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-20s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
