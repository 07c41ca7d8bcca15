package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	httpapi "github.com/jamesrupertball/tempest-weather-airport/internal/api/http"
	"github.com/jamesrupertball/tempest-weather-airport/internal/config"
	"github.com/jamesrupertball/tempest-weather-airport/internal/deadletter"
	"github.com/jamesrupertball/tempest-weather-airport/internal/ingest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/logger"
	"github.com/jamesrupertball/tempest-weather-airport/internal/scheduler"
	"github.com/jamesrupertball/tempest-weather-airport/internal/store"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/rest"
	"github.com/jamesrupertball/tempest-weather-airport/internal/tempest/stream"
)

const (
	exitOK      = 0
	exitNoData  = 1
	exitUsage   = 2
	usageString = `usage: tempest-ingest <command> [flags]

commands:
  stream    [--once]                      subscribe to the real-time feed
  poll      [--continuous] [--lookback d] fetch recent observations over REST
  metadata                                sync stations and devices
  devices                                 list stored devices
  migrate                                 create database tables`
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usageString)
		return exitUsage
	}
	cmd, args := args[0], args[1:]

	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return exitUsage
	}

	lg, err := logger.NewLogger(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Printf("failed to build logger: %v", err)
		return exitUsage
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "stream":
		return runStream(ctx, cfg, lg, args)
	case "poll":
		return runPoll(ctx, cfg, lg, args)
	case "metadata":
		return runMetadata(ctx, cfg, lg)
	case "devices":
		return runDevices(ctx, cfg, lg, os.Stdout)
	case "migrate":
		return runMigrate(ctx, cfg, lg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usageString)
		return exitUsage
	}
}

func runStream(ctx context.Context, cfg *config.AppConfig, lg *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("stream", flag.ContinueOnError)
	once := fs.Bool("once", false, "stop after the first stored observation or RUN_ONCE_TIMEOUT")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	sink, cleanup, err := openSink(ctx, cfg, lg)
	if err != nil {
		lg.Error("Failed to open storage", zap.Error(err))
		return exitNoData
	}
	defer cleanup()

	dlq := openDeadLetter(cfg, lg)
	defer dlq.Close()

	dispatcher := ingest.NewDispatcher(sink, dlq, lg)
	client := stream.NewClient(stream.Config{
		URL:            cfg.StreamURL,
		Token:          cfg.TempestToken,
		DeviceID:       cfg.DeviceID,
		RapidWind:      cfg.RapidWind,
		ReconnectDelay: cfg.ReconnectDelay,
		RestartDelay:   cfg.RestartDelay,
		Once:           *once,
	}, lg)

	lg.Info("Starting stream",
		zap.Int64("device_id", cfg.DeviceID),
		zap.String("token", cfg.TokenPrefix()),
		zap.Bool("once", *once))

	if *once {
		got, err := ingest.RunUntilData(ctx, client, dispatcher, cfg.RunOnceTimeout)
		stats := dispatcher.Stats()
		switch {
		case got:
			lg.Info("Observation stored, stopping", zap.Any("stats", stats))
			return exitOK
		case err != nil:
			lg.Warn("Stream ended without data", zap.Error(err), zap.Any("stats", stats))
		default:
			lg.Warn("No observation received before timeout",
				zap.Duration("timeout", cfg.RunOnceTimeout), zap.Any("stats", stats))
		}
		return exitNoData
	}

	shutdown := startStatusServer(cfg, lg, httpapi.Sources{
		Mode:       "stream",
		DeviceID:   cfg.DeviceID,
		Stream:     client,
		Dispatcher: dispatcher,
	})
	defer shutdown()

	if err := client.Run(ctx, dispatcher.OnMessage); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("Stream stopped", zap.Error(err))
	}
	lg.Info("Stream shut down", zap.Any("stats", dispatcher.Stats()))
	if dispatcher.Stats().Stored > 0 {
		return exitOK
	}
	return exitNoData
}

func runPoll(ctx context.Context, cfg *config.AppConfig, lg *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("poll", flag.ContinueOnError)
	continuous := fs.Bool("continuous", false, "poll every POLL_INTERVAL until interrupted")
	lookback := fs.Duration("lookback", cfg.Lookback, "trailing window to fetch")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *lookback <= 0 {
		fmt.Fprintln(os.Stderr, "lookback must be positive")
		return exitUsage
	}

	sink, cleanup, err := openSink(ctx, cfg, lg)
	if err != nil {
		lg.Error("Failed to open storage", zap.Error(err))
		return exitNoData
	}
	defer cleanup()

	dlq := openDeadLetter(cfg, lg)
	defer dlq.Close()

	client := rest.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.RESTBaseURL, cfg.TempestToken)
	poller := ingest.NewPoller(client, sink, dlq, cfg.DeviceID, *lookback, lg)

	if !*continuous {
		sum, err := poller.CollectAndStore(ctx)
		if err != nil {
			lg.Error("Polling failed", zap.Error(err))
			return exitNoData
		}
		if sum.Stored == 0 {
			return exitNoData
		}
		return exitOK
	}

	shutdown := startStatusServer(cfg, lg, httpapi.Sources{
		Mode:     "poll",
		DeviceID: cfg.DeviceID,
		Poller:   poller,
	})
	defer shutdown()

	var stored int
	sched := scheduler.New(cfg.PollInterval, func(jobCtx context.Context) {
		sum, err := poller.CollectAndStore(jobCtx)
		if err != nil {
			lg.Error("Polling failed", zap.Error(err))
			return
		}
		stored += sum.Stored
	}, lg)
	if err := sched.Start(); err != nil {
		lg.Error("Failed to start scheduler", zap.Error(err))
		return exitNoData
	}

	<-ctx.Done()
	sched.Stop()

	lg.Info("Polling shut down", zap.Int("stored", stored))
	if stored == 0 {
		return exitNoData
	}
	return exitOK
}

func runMetadata(ctx context.Context, cfg *config.AppConfig, lg *zap.Logger) int {
	sink, cleanup, err := openSink(ctx, cfg, lg)
	if err != nil {
		lg.Error("Failed to open storage", zap.Error(err))
		return exitNoData
	}
	defer cleanup()

	client := rest.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.RESTBaseURL, cfg.TempestToken)
	sum, err := ingest.SyncMetadata(ctx, client, sink, lg)
	if err != nil {
		lg.Error("Metadata sync failed", zap.Error(err))
		return exitNoData
	}
	lg.Info("Metadata synced",
		zap.Int("stations", sum.Stations),
		zap.Int("devices", sum.Devices),
		zap.Int("failed", sum.Failed))
	if sum.Stations == 0 {
		return exitNoData
	}
	return exitOK
}

func runDevices(ctx context.Context, cfg *config.AppConfig, lg *zap.Logger, out io.Writer) int {
	sink, cleanup, err := openSink(ctx, cfg, lg)
	if err != nil {
		lg.Error("Failed to open storage", zap.Error(err))
		return exitNoData
	}
	defer cleanup()

	lister, ok := sink.(tempest.DeviceLister)
	if !ok {
		lg.Error("Storage cannot list devices", zap.String("driver", cfg.DB.Driver))
		return exitUsage
	}
	devices, err := lister.ListDevices(ctx)
	if err != nil {
		lg.Error("Failed to list devices", zap.Error(err))
		return exitNoData
	}
	if err := writeDevices(out, devices); err != nil {
		lg.Error("Failed to write device list", zap.Error(err))
		return exitNoData
	}
	return exitOK
}

// writeDevices prints one aligned line per device.
func writeDevices(out io.Writer, devices []tempest.Device) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATION\tDEVICE\tTYPE\tSERIAL\tNAME\tFIRMWARE")
	for _, d := range devices {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			d.StationID, d.DeviceID, orDash(d.DeviceType), orDash(d.SerialNumber),
			orDash(d.Name), orDash(d.FirmwareRevision))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d device(s)\n", len(devices))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runMigrate(ctx context.Context, cfg *config.AppConfig, lg *zap.Logger) int {
	var err error
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		var s *store.PostgresStore
		if s, err = store.NewPostgresStore(ctx, cfg.DB, lg); err == nil {
			defer s.Close()
			err = s.Migrate(ctx)
		}
	case config.DriverSQLite:
		var s *store.SQLiteStore
		if s, err = store.OpenSQLite(cfg.DB, lg); err == nil {
			defer s.Close()
			err = s.Migrate(ctx)
		}
	default:
		lg.Info("Nothing to migrate for driver", zap.String("driver", cfg.DB.Driver))
		return exitOK
	}
	if err != nil {
		lg.Error("Migration failed", zap.Error(err))
		return exitNoData
	}
	lg.Info("Migration complete", zap.String("driver", cfg.DB.Driver))
	return exitOK
}

// openSink builds the configured storage backend. SQLite databases are
// migrated on open since they are usually local and fresh.
func openSink(ctx context.Context, cfg *config.AppConfig, lg *zap.Logger) (tempest.Sink, func(), error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.DB, lg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverSQLite:
		s, err := store.OpenSQLite(cfg.DB, lg)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		lg.Warn("Using in-memory storage; records are not persisted")
		return store.NewMemoryStore(10000), func() {}, nil
	}
}

func openDeadLetter(cfg *config.AppConfig, lg *zap.Logger) deadletter.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return deadletter.Nop{}
	}
	lg.Info("Dead letters go to Kafka",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaDLQTopic))
	return deadletter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
}

// startStatusServer serves the status API when STATUS_ADDR is set and
// returns a function that shuts it down.
func startStatusServer(cfg *config.AppConfig, lg *zap.Logger, src httpapi.Sources) func() {
	if cfg.StatusAddr == "" {
		return func() {}
	}

	app := httpapi.NewApp()
	httpapi.RegisterRoutes(app, src)

	go func() {
		if err := app.Listen(cfg.StatusAddr); err != nil {
			lg.Warn("Status server stopped", zap.Error(err))
		}
	}()
	lg.Info("Status server listening", zap.String("addr", cfg.StatusAddr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			lg.Warn("Error during status server shutdown", zap.Error(err))
		}
	}
}
