package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gcalsync/internal/config"
	"gcalsync/internal/engine"
	"gcalsync/internal/exchange"
	"gcalsync/internal/ics"
	appLog "gcalsync/internal/log"
	"gcalsync/internal/scheduler"
	"gcalsync/internal/web"
)

// flagConfig holds CLI flag values before config loading.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("gcalsync starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Warn("invalid log level, using info", "log_level", conf.LogLevel)
	}
	appLog.SetLevel(level)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"refresh", conf.RefreshCron,
		"sync_window_days", conf.SyncWindowDays,
		"thread_count", conf.ThreadCount,
		"error_threshold", conf.ErrorThreshold,
		"writer", conf.Writer,
		"appointment_lookup", conf.EnableAppointmentLookup,
		"raster_lookup", conf.Exchange.RasterLookup,
		"users", len(conf.Users),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("gcalsync failed", err)
		os.Exit(1)
	}
	appLog.Info("gcalsync exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	users, err := conf.SyncUsers()
	if err != nil {
		return err
	}

	client := exchange.NewClient(exchange.Options{
		ServerURL:           conf.Exchange.ServerURL,
		FreeBusyServerURL:   conf.Exchange.FreeBusyServerURL,
		FreeBusyTemplateURL: conf.Exchange.FreeBusyTemplateURL,
		Login:               conf.Exchange.Login,
		Password:            conf.Exchange.Password,
		RequestsPerSecond:   conf.Exchange.RequestsPerSecond,
		RasterLookup:        conf.Exchange.RasterLookup,
		RasterInterval:      conf.Exchange.RasterIntervalMinutes,
	})

	calendar := &engine.CalendarService{FreeBusy: client}
	if conf.EnableAppointmentLookup {
		calendar.Appointments = client
	}

	var writer engine.Writer
	switch conf.Writer {
	case config.WriterFreeBusy:
		writer = engine.NewFreeBusyWriter(client)
	default:
		writer = engine.NewAppointmentWriter(calendar, client, conf.PlaceholderSubject)
	}

	fetcher := ics.NewFetcher(&http.Client{Timeout: time.Minute}, filepath.Join(conf.StateDir, "ics-cache"))
	feeds := ics.NewGateway(fetcher)

	store, err := scheduler.NewStateStore(filepath.Join(conf.StateDir, "modified.json"))
	if err != nil {
		return err
	}

	process := scheduler.NewProcess(feeds, writer, store, scheduler.Options{
		ThreadCount:    conf.ThreadCount,
		ErrorThreshold: conf.ErrorThreshold,
		WindowDays:     conf.SyncWindowDays,
	})

	if once {
		_, err := process.Run(ctx, users)
		return err
	}

	runner, err := scheduler.NewRunner(conf.RefreshCron, process, users)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	// First pass right away instead of waiting for the schedule.
	go func() {
		if _, _, err := runner.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("initial sync pass failed", err)
		}
	}()

	srv := web.NewServer(ctx, conf, runner, calendar)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/gcalsync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync pass and exit")

	flag.Parse()

	return cfg
}
