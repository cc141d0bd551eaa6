package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/env"
	"github.com/loykin/dirvisor/internal/history/factory"
	"github.com/loykin/dirvisor/internal/logger"
	"github.com/loykin/dirvisor/internal/metrics"
	"github.com/loykin/dirvisor/internal/process"
	"github.com/loykin/dirvisor/internal/service"
	"github.com/loykin/dirvisor/internal/supervisor"
	"github.com/loykin/dirvisor/internal/version"
	"github.com/loykin/dirvisor/internal/watcher"
)

func runDaemon(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	d, err := config.LoadDaemon(configPath)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(logger.Options{
		Level:  d.Log.Level,
		Format: d.Log.Format,
		File: logger.Rotation{
			Path:       d.Log.File.Path,
			MaxSizeMB:  d.Log.File.MaxSizeMB,
			MaxBackups: d.Log.File.MaxBackups,
			MaxAgeDays: d.Log.File.MaxAgeDays,
			Compress:   d.Log.File.Compress,
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if d.Metrics.Listen != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(ctx, d.Metrics.Listen); err != nil {
				log.Error("metrics server stopped", "listen", d.Metrics.Listen, "error", err)
			}
		}()
	}

	hist, err := factory.NewSinkFromDSN(d.History.DSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if c, ok := hist.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	global, err := d.GlobalEnv()
	if err != nil {
		return err
	}
	base := env.New()
	if d.UseOSEnv {
		base.FromOS()
	}
	base.WithGlobal(global)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	creator := process.NewCreator(process.CreatorOptions{
		Env:        base,
		Shipper:    shipperArgv(exe, d.ServiceLogs),
		Executable: exe,
		Logger:     log,
	})
	osys := process.NewOS()
	resolver := version.FileResolver{}

	own := service.NewOwn(service.OwnOptions{
		StateDir: d.StateDir,
		Artifact: d.Artifact,
		Resolver: resolver,
		OS:       osys,
		Logger:   log,
	})
	ok, err := own.Start()
	if err != nil {
		return err
	}
	if !ok {
		log.Info("state directory is owned by another supervisor, exiting", "state_dir", d.StateDir)
		return nil
	}

	deps := service.Deps{
		Creator:      creator,
		OS:           osys,
		Resolver:     resolver,
		StateDir:     d.StateDir,
		Logger:       log,
		History:      hist,
		PollInterval: d.StopPollInterval,
	}
	w := watcher.New(watcher.Options{
		Dir:        d.ConfigDir,
		Extensions: d.Extensions,
		Interval:   d.PollInterval,
		Own:        own,
		Logger:     log,
		NewLoop: func(cfg config.ServiceConfig) watcher.ServiceLoop {
			return supervisor.New(cfg, supervisor.Options{
				Interval: d.ServicePollInterval,
				Logger:   log,
				NewService: func(cfg config.ServiceConfig) supervisor.Service {
					return service.New(cfg, deps)
				},
			})
		},
	})

	log.Info("supervisor started", "config_dir", d.ConfigDir, "state_dir", d.StateDir, "pid", os.Getpid())
	err = w.Run(ctx)
	switch {
	case errors.Is(err, watcher.ErrSelfVersionChanged):
		log.Info("supervisor binary changed, exiting for replacement")
		return nil
	case err != nil:
		return err
	}
	log.Info("supervisor stopped; managed services keep running")
	return nil
}

// shipperArgv decides where child output goes. An explicit shipper wins;
// otherwise a configured log dir selects the built-in ship-logs command.
func shipperArgv(exe string, c config.ServiceLogsConfig) []string {
	if len(c.Shipper) > 0 {
		return c.Shipper
	}
	if c.Dir == "" {
		return nil
	}
	argv := []string{exe, "ship-logs", "--file", logger.ServiceLogPath(c.Dir, "{name}")}
	if c.MaxSizeMB > 0 {
		argv = append(argv, "--max-size-mb", strconv.Itoa(c.MaxSizeMB))
	}
	if c.MaxBackups > 0 {
		argv = append(argv, "--max-backups", strconv.Itoa(c.MaxBackups))
	}
	if c.MaxAgeDays > 0 {
		argv = append(argv, "--max-age-days", strconv.Itoa(c.MaxAgeDays))
	}
	if c.Compress {
		argv = append(argv, "--compress")
	}
	return argv
}
