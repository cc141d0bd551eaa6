package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/history"
	"github.com/loykin/dirvisor/internal/metrics"
	"github.com/loykin/dirvisor/internal/process"
	"github.com/loykin/dirvisor/internal/version"
)

// DefaultPollInterval is how often Stop re-checks a terminating process.
const DefaultPollInterval = 100 * time.Millisecond

var (
	// ErrStartFailed wraps every spawn failure returned by Start.
	ErrStartFailed = errors.New("service start failed")
	// ErrStopTimeout is returned by Stop when the process outlived stop_time
	// and the platform has no forceful kill.
	ErrStopTimeout = errors.New("service did not stop in time")
)

const historyTimeout = 2 * time.Second

// Deps are the collaborators a Service drives.
type Deps struct {
	Creator      process.Creator
	OS           process.OS
	Resolver     version.Resolver
	StateDir     string
	Logger       *slog.Logger
	History      history.Sink
	PollInterval time.Duration
}

// Service starts, stops and inspects one configured process through its
// persisted Record. It is not safe for concurrent use; a supervisory loop
// owns it.
type Service struct {
	cfg  config.ServiceConfig
	deps Deps
	log  *slog.Logger
}

// New returns a Service for cfg. Nil Logger, History and Resolver fall back to
// slog.Default, history.Nop and version.FileResolver.
func New(cfg config.ServiceConfig, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.History == nil {
		deps.History = history.Nop{}
	}
	if deps.Resolver == nil {
		deps.Resolver = version.FileResolver{}
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	return &Service{cfg: cfg.Clone(), deps: deps, log: deps.Logger.With("service", cfg.Name)}
}

// Name is the service name.
func (s *Service) Name() string { return s.cfg.Name }

// Config returns the current config.
func (s *Service) Config() config.ServiceConfig { return s.cfg.Clone() }

// SetConfig replaces the config used by the next Start and drift checks.
func (s *Service) SetConfig(cfg config.ServiceConfig) {
	s.cfg = cfg.Clone()
	s.log = s.deps.Logger.With("service", cfg.Name)
}

// RecordPath is the state file of this service.
func (s *Service) RecordPath() string {
	return filepath.Join(s.deps.StateDir, s.cfg.Name)
}

// live returns the record when it is live and matching, nil otherwise.
// A corrupt state file is reported and treated as not running.
func (s *Service) live() *Record {
	rec, err := ReadRecord(s.RecordPath())
	if err != nil {
		s.log.Warn("unreadable process record, treating as not running", "error", err)
		metrics.IncStateError(s.cfg.Name)
		return nil
	}
	if rec == nil || !rec.Matches(s.deps.OS) {
		return nil
	}
	return rec
}

// IsRunning reports whether the recorded process is live and matching.
func (s *Service) IsRunning() bool { return s.live() != nil }

// Record returns the live record, or nil.
func (s *Service) Record() *Record { return s.live() }

// Start spawns the process unless a live matching record already exists.
func (s *Service) Start() error {
	if s.live() != nil {
		return nil
	}
	pid, err := s.deps.Creator.Spawn(s.cfg)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStartFailed, s.cfg.Name, err)
	}
	st, err := s.deps.OS.StartTime(pid)
	if err != nil {
		return fmt.Errorf("%w: %s: pid %d vanished after spawn: %v", ErrStartFailed, s.cfg.Name, pid, err)
	}
	rec := &Record{
		PID:       pid,
		StartTime: st,
		Version:   s.deps.Resolver.Resolve(s.cfg),
		Cmd:       slices.Clone(s.cfg.Cmd),
	}
	if err := WriteRecord(s.RecordPath(), rec); err != nil {
		// do not leak an unrecorded child
		_ = s.deps.OS.Terminate(pid)
		return fmt.Errorf("%w: %s: persist record: %v", ErrStartFailed, s.cfg.Name, err)
	}
	s.log.Info("started", "pid", pid, "cmd", s.cfg.Cmd)
	metrics.IncStart(s.cfg.Name)
	s.emit(history.EventStart, rec)
	return nil
}

// Stop terminates the recorded process: a graceful signal, then after
// stop_time a single forceful kill where supported. It returns once the
// process is gone, and only then removes the record.
func (s *Service) Stop() error {
	rec := s.live()
	if rec == nil {
		return nil
	}
	o := s.deps.OS
	if err := o.Terminate(rec.PID); err != nil {
		return fmt.Errorf("terminate %s pid %d: %w", s.cfg.Name, rec.PID, err)
	}
	s.log.Info("stopping", "pid", rec.PID, "stop_time", s.cfg.StopTime)

	killed := false
	if !s.waitGone(rec, time.Now().Add(s.cfg.StopTime)) {
		if !o.SupportsKill() {
			s.log.Warn("process outlived stop_time", "pid", rec.PID)
			return fmt.Errorf("%w: %s pid %d", ErrStopTimeout, s.cfg.Name, rec.PID)
		}
		s.log.Warn("stop_time elapsed, killing", "pid", rec.PID)
		if err := o.Kill(rec.PID); err != nil {
			return fmt.Errorf("kill %s pid %d: %w", s.cfg.Name, rec.PID, err)
		}
		killed = true
		s.waitGone(rec, time.Time{})
	}

	if err := RemoveRecord(s.RecordPath()); err != nil {
		return fmt.Errorf("remove record of %s: %w", s.cfg.Name, err)
	}
	s.log.Info("stopped", "pid", rec.PID, "killed", killed)
	metrics.IncStop(s.cfg.Name)
	if killed {
		metrics.IncKill(s.cfg.Name)
		s.emit(history.EventKill, rec)
	} else {
		s.emit(history.EventStop, rec)
	}
	return nil
}

// waitGone polls until rec no longer matches a live process. A zero deadline
// waits forever. It reports whether the process is gone.
func (s *Service) waitGone(rec *Record, deadline time.Time) bool {
	for rec.Matches(s.deps.OS) {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(s.deps.PollInterval)
	}
	return true
}

// HasVersionChanged reports whether the running process was started from a
// different artifact than the config now resolves to.
func (s *Service) HasVersionChanged() bool {
	rec := s.live()
	if rec == nil {
		return false
	}
	return !rec.Version.Equal(s.deps.Resolver.Resolve(s.cfg))
}

// HasCmdChanged reports whether the running process was started with a
// different argv than the current config.
func (s *Service) HasCmdChanged() bool {
	rec := s.live()
	if rec == nil {
		return false
	}
	return !slices.Equal(rec.Cmd, s.cfg.Cmd)
}

func (s *Service) emit(t history.EventType, rec *Record) {
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Name:       s.cfg.Name,
		PID:        rec.PID,
		StartTime:  rec.StartTime,
	}
	if b, err := json.Marshal(rec.Version); err == nil {
		e.Version = string(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.deps.History.Send(ctx, e); err != nil {
		s.log.Warn("history send failed", "event", t, "error", err)
	}
}
