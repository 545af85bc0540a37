package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	rootpkg "tools.zach/dev/driver"
	"tools.zach/dev/driver/internal/atomicfile"
	"tools.zach/dev/driver/internal/config"
	"tools.zach/dev/driver/internal/control"
	"tools.zach/dev/driver/internal/exitcode"
	"tools.zach/dev/driver/internal/heartbeat"
	"tools.zach/dev/driver/internal/latch"
	"tools.zach/dev/driver/internal/logger"
	"tools.zach/dev/driver/internal/metrics"
	"tools.zach/dev/driver/internal/paths"
	"tools.zach/dev/driver/internal/pidfile"
	"tools.zach/dev/driver/internal/service"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// options holds the parsed command line.
type options struct {
	dataDir  string
	logLevel string
	// level is logLevel parsed; levelSet is true when -l was given and
	// should override the config file.
	level    slog.Level
	levelSet bool
}

// shutdownLatch is the latch the control handler sets and the loop waits on.
type shutdownLatch interface {
	Set()
	Wait(timeout time.Duration) latch.Result
	Close() error
}

// platform supplies the OS-specific pieces of a run. Tests replace them.
type platform struct {
	// lookupEnv reads the process environment; nil means none.
	lookupEnv config.LookupFunc
	newLatch  func() (shutdownLatch, error)
	newSource func(log *slog.Logger) control.Source
}

// metricsShutdownTimeout bounds in-flight scrapes at shutdown.
const metricsShutdownTimeout = 2 * time.Second

// ///////////////////////////////////////////////
// Run
// ///////////////////////////////////////////////

// run starts the service and blocks until it stops. It returns the process
// exit status.
func run(opts options, stdout, stderr io.Writer, plat platform) int {
	dd := paths.DataDir{Root: opts.dataDir}
	if err := dd.Ensure(); err != nil {
		fmt.Fprintf(stderr, "fatal: create data dir: %v\n", err)
		return exitcode.Failure
	}

	seeded, seedErr := atomicfile.Seed(dd.Config(), rootpkg.DefaultConfigTOML, 0o644)
	dotenv, err := config.ReadDotEnv(dd.Env())
	if err != nil {
		fmt.Fprintf(stderr, "fatal: load config: %v\n", err)
		return exitcode.Failure
	}
	// Real environment first, then the data dir's .env file.
	cfg, err := config.LoadEnv(dd.Config(), config.Layered(plat.lookupEnv, config.MapLookup(dotenv)))
	if err != nil {
		fmt.Fprintf(stderr, "fatal: load config: %v\n", err)
		return exitcode.Failure
	}

	level := opts.level
	if !opts.levelSet {
		// Validated by config.LoadEnv.
		level, _ = logger.ParseLevel(cfg.Log.Level)
	}
	logOpts := logger.Options{
		Level:      level,
		Console:    stderr,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if cfg.Log.File {
		logOpts.File = dd.Log()
	}
	log, tracker, logCloser := logger.New(logOpts)
	defer logCloser.Close()
	slog.SetDefault(log)

	if seedErr != nil {
		log.Warn("failed to write default config", "path", dd.Config(), "error", seedErr)
	} else if seeded {
		log.Info("wrote default config", "path", dd.Config())
	}

	lock, err := pidfile.Acquire(dd.PID())
	if err != nil {
		log.Error("could not acquire PID file", "error", err)
		return exitcode.Classify(err, tracker)
	}
	defer lock.Release()

	halt, err := plat.newLatch()
	if err != nil {
		log.Error("could not create shutdown latch", "error", err)
		return exitcode.Classify(err, tracker)
	}
	defer halt.Close()

	src, err := controlSources(plat, cfg, dd, log)
	if err != nil {
		log.Error("could not set control handler", "error", err)
		return exitcode.Classify(err, tracker)
	}
	var rec *metrics.Recorder
	if cfg.Metrics.Listen != "" {
		rec = metrics.New()
		srv, err := metrics.Listen(cfg.Metrics.Listen, rec, log)
		if err != nil {
			log.Error("could not start metrics server", "error", err)
			return exitcode.Classify(err, tracker)
		}
		defer srv.Close(metricsShutdownTimeout)
	}

	handler := control.NewHandler(halt, log)
	handle := func(ev control.Event) bool {
		ok := handler.Handle(ev)
		rec.ObserveEvent(ev.String(), ok)
		return ok
	}
	if err := src.Register(handle); err != nil {
		log.Error("could not set control handler", "error", err)
		return exitcode.Classify(err, tracker)
	}
	defer src.Close()
	log.Debug("control handler installed")

	work, err := workers(cfg, stdout)
	if err != nil {
		log.Error("could not create heartbeat", "error", err)
		return exitcode.Classify(err, tracker)
	}
	loopCfg := service.Config{
		Interval: cfg.PollInterval(),
		Logger:   log,
	}
	if rec != nil {
		loopCfg.Observer = rec
	}
	loop, err := service.New(halt, work, loopCfg)
	if err != nil {
		log.Error("could not create service loop", "error", err)
		return exitcode.Classify(err, tracker)
	}

	fmt.Fprintln(stdout, "Service starting up")
	log.Info("driver starting", "version", resolveVersion(), "data_dir", dd.Root, "interval", cfg.PollInterval())

	out, err := loop.Run(context.Background())
	if err == nil {
		fmt.Fprintln(stdout, "Service shutting down")
	}

	code := exitcode.Classify(err, tracker)
	log.Info("driver stopped", "works", out.Works, "exit", exitcode.Name(code))
	return code
}

// controlSources combines the platform source with the stop file watcher.
func controlSources(plat platform, cfg *config.Config, dd paths.DataDir, log *slog.Logger) (control.Source, error) {
	sources := control.Multi{plat.newSource(log)}
	if cfg.Shutdown.StopFile != "" {
		fs, err := control.NewFileSource(dd.Root, cfg.Shutdown.StopFile, log)
		if err != nil {
			return nil, &control.RegistrationError{Source: "stop file", Err: err}
		}
		sources = append(sources, fs)
	}
	return sources, nil
}

// workers builds the unit of periodic work from the heartbeat config.
func workers(cfg *config.Config, stdout io.Writer) (service.Worker, error) {
	var ws heartbeat.Multi
	if cfg.Heartbeat.Message != "" {
		ws = append(ws, &heartbeat.Console{Out: stdout, Message: cfg.Heartbeat.Message})
	}
	if cfg.Heartbeat.URL != "" {
		var ping heartbeat.Worker = heartbeat.NewHTTP(cfg.Heartbeat.URL, heartbeat.HTTPOptions{
			Timeout:   cfg.HeartbeatTimeout(),
			RetryMax:  cfg.Heartbeat.RetryMax,
			UserAgent: paths.BinaryName + "/" + resolveVersion(),
		})
		if cfg.Heartbeat.Schedule != "" {
			s, err := heartbeat.NewScheduled(cfg.Heartbeat.Schedule, ping)
			if err != nil {
				return nil, err
			}
			ping = s
		}
		ws = append(ws, ping)
	}
	return ws, nil
}
