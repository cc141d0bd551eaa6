package service

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/process"
	"github.com/loykin/dirvisor/internal/version"
)

// Reserved names inside the state directory. Service names cannot start
// with '.', so these never collide with a service record.
const (
	OwnRecordName = ".dirvisor"
	LockFileName  = ".dirvisor.lock"
)

// OwnOptions configures the supervisor's self record.
type OwnOptions struct {
	StateDir string
	// Artifact is the own version source. Defaults to the running executable.
	Artifact string
	Resolver version.Resolver
	OS       process.OS
	Logger   *slog.Logger
	// PID and Args default to os.Getpid() and os.Args.
	PID  int
	Args []string
}

// OwnService keeps the supervisor's own liveness record and guards against a
// second instance on the same state directory.
type OwnService struct {
	opts OwnOptions
	log  *slog.Logger
}

// NewOwn fills in defaults and returns an OwnService.
func NewOwn(opts OwnOptions) *OwnService {
	if opts.Resolver == nil {
		opts.Resolver = version.FileResolver{}
	}
	if opts.OS == nil {
		opts.OS = process.NewOS()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.Args == nil {
		opts.Args = slices.Clone(os.Args)
	}
	if opts.Artifact == "" {
		if exe, err := os.Executable(); err == nil {
			opts.Artifact = exe
		}
	}
	return &OwnService{opts: opts, log: opts.Logger.With("service", OwnRecordName)}
}

func (o *OwnService) recordPath() string { return filepath.Join(o.opts.StateDir, OwnRecordName) }

func (o *OwnService) descriptor() config.ServiceConfig {
	return config.ServiceConfig{Name: OwnRecordName, Cmd: o.opts.Args, Artifact: o.opts.Artifact}
}

// Start claims the state directory for this process. It returns false when
// another live supervisor already holds the own record. The file lock is held
// only around the check and the write.
func (o *OwnService) Start() (bool, error) {
	if err := os.MkdirAll(o.opts.StateDir, 0o755); err != nil {
		return false, fmt.Errorf("create state dir: %w", err)
	}
	lk := flock.New(filepath.Join(o.opts.StateDir, LockFileName))
	if err := lk.Lock(); err != nil {
		return false, fmt.Errorf("lock state dir: %w", err)
	}
	defer func() { _ = lk.Unlock() }()

	rec, err := ReadRecord(o.recordPath())
	if err != nil {
		o.log.Warn("unreadable own record, overwriting", "error", err)
	}
	if rec != nil && rec.PID != o.opts.PID && rec.Matches(o.opts.OS) {
		o.log.Info("another supervisor is running", "pid", rec.PID)
		return false, nil
	}

	st, err := o.opts.OS.StartTime(o.opts.PID)
	if err != nil {
		return false, fmt.Errorf("own start time: %w", err)
	}
	mine := &Record{
		PID:       o.opts.PID,
		StartTime: st,
		Version:   o.opts.Resolver.Resolve(o.descriptor()),
		Cmd:       slices.Clone(o.opts.Args),
	}
	if err := WriteRecord(o.recordPath(), mine); err != nil {
		return false, fmt.Errorf("write own record: %w", err)
	}
	return true, nil
}

// HasVersionChanged reports whether the own artifact now resolves to a
// different version than the one recorded at Start.
func (o *OwnService) HasVersionChanged() bool {
	rec, err := ReadRecord(o.recordPath())
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			o.log.Warn("unreadable own record", "error", err)
		}
		return false
	}
	if rec == nil {
		return false
	}
	return !rec.Version.Equal(o.opts.Resolver.Resolve(o.descriptor()))
}
