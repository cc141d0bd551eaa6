// Package watcher turns a directory of service descriptors into running
// supervisory loops.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/metrics"
)

// ErrSelfVersionChanged is returned by Run when the supervisor's own
// artifact changed and it should exit to be replaced.
var ErrSelfVersionChanged = errors.New("supervisor version changed")

const (
	DefaultInterval = 5 * time.Second
	DefaultDebounce = 200 * time.Millisecond
)

// ServiceLoop is the per-service control loop the watcher drives.
// *supervisor.Loop satisfies it.
type ServiceLoop interface {
	Name() string
	Start()
	StartService()
	StopService()
	RestartWithNewConfig(cfg config.ServiceConfig)
	Stop()
	Done() <-chan struct{}
}

// LoopFactory builds a loop for cfg. It must not start it.
type LoopFactory func(cfg config.ServiceConfig) ServiceLoop

// SelfCheck reports whether the supervisor itself was redeployed.
type SelfCheck interface {
	HasVersionChanged() bool
}

// Options configures a Watcher.
type Options struct {
	Dir        string
	Extensions []string
	Interval   time.Duration
	// Debounce delays the early tick after a filesystem event.
	Debounce time.Duration
	// DisableNotify turns off fsnotify and relies on polling alone.
	DisableNotify bool
	NewLoop       LoopFactory
	Own           SelfCheck
	Logger        *slog.Logger
}

type entry struct {
	modTime time.Time
	// cfg is set while this file owns a loop.
	cfg  *config.ServiceConfig
	loop ServiceLoop
	// pending holds a valid config whose name is taken by another file.
	pending *config.ServiceConfig
}

// Watcher polls the config directory. All maps are owned by the goroutine
// running Run.
type Watcher struct {
	opts    Options
	log     *slog.Logger
	entries map[string]*entry     // file name -> entry
	names   map[string]string     // service name -> owning file name
	parked  map[string]ServiceLoop // service name -> released loop still draining its stop
}

// New returns a Watcher. NewLoop is required.
func New(opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = config.DefaultExtensions
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		opts:    opts,
		log:     opts.Logger.With("dir", opts.Dir),
		entries: make(map[string]*entry),
		names:   make(map[string]string),
		parked:  make(map[string]ServiceLoop),
	}
}

// Run ticks until ctx is done or the supervisor's own version changes. On
// return every active loop has been told to Stop (never StopService) and
// every loop, released ones included, has exited.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	events, closeNotify := w.notify()
	defer closeNotify()

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	w.log.Info("watching config directory", "interval", w.opts.Interval)
	for {
		if w.tick() {
			return ErrSelfVersionChanged
		}
		for waiting := true; waiting; {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				waiting = false
			case <-debounce.C:
				waiting = false
			case <-events:
				debounce.Reset(w.opts.Debounce)
			}
		}
	}
}

// tick runs one reconciliation pass. It reports whether the watcher must stop.
func (w *Watcher) tick() bool {
	if w.opts.Own != nil && w.opts.Own.HasVersionChanged() {
		w.log.Warn("supervisor version changed, stopping")
		return true
	}
	w.prune()
	files, err := w.scan()
	if err != nil {
		// an unreadable directory must not look like every file was removed
		w.log.Error("list config directory", "error", err)
		metrics.IncConfigError("io")
		return false
	}

	for fn, e := range w.entries {
		if _, ok := files[fn]; !ok {
			w.removed(fn, e)
		}
	}
	names := make([]string, 0, len(files))
	for fn := range files {
		names = append(names, fn)
	}
	slices.Sort(names)
	for _, fn := range names {
		mt := files[fn]
		e, ok := w.entries[fn]
		switch {
		case !ok:
			w.added(fn, mt)
		case !e.modTime.Equal(mt):
			w.changed(fn, e, mt)
		case e.pending != nil:
			w.retry(fn, e)
		}
	}
	metrics.SetManagedServices(len(w.names))
	return false
}

// scan lists descriptor files and their modification times.
func (w *Watcher) scan() (map[string]time.Time, error) {
	des, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(des))
	for _, de := range des {
		if !w.relevant(de.Name()) {
			continue
		}
		fi, err := os.Stat(filepath.Join(w.opts.Dir, de.Name()))
		if err != nil || fi.IsDir() {
			continue
		}
		out[de.Name()] = fi.ModTime()
	}
	return out, nil
}

func (w *Watcher) relevant(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(w.opts.Extensions, ext)
}

func (w *Watcher) parse(fn string) *config.ServiceConfig {
	cfg, err := config.ParseFile(filepath.Join(w.opts.Dir, fn))
	if err != nil {
		reason := "parse"
		if !errors.Is(err, config.ErrInvalid) {
			reason = "io"
		}
		w.log.Error("invalid service config, ignoring file", "file", fn, "error", err)
		metrics.IncConfigError(reason)
		return nil
	}
	return cfg
}

func (w *Watcher) added(fn string, mt time.Time) {
	e := &entry{modTime: mt}
	w.entries[fn] = e
	if cfg := w.parse(fn); cfg != nil {
		w.claim(fn, e, cfg)
	}
}

func (w *Watcher) changed(fn string, e *entry, mt time.Time) {
	e.modTime = mt
	e.pending = nil
	cfg := w.parse(fn)
	if cfg == nil {
		w.release(e)
		return
	}
	if e.loop != nil && e.cfg.Name == cfg.Name {
		if reflect.DeepEqual(*e.cfg, *cfg) {
			w.log.Debug("config touched but unchanged", "file", fn)
			return
		}
		w.log.Info("service config changed, restarting", "file", fn, "service", cfg.Name)
		e.cfg = cfg
		e.loop.RestartWithNewConfig(*cfg)
		return
	}
	w.release(e)
	w.claim(fn, e, cfg)
}

func (w *Watcher) removed(fn string, e *entry) {
	if e.cfg != nil {
		w.log.Info("service config removed, stopping", "file", fn, "service", e.cfg.Name)
	}
	w.release(e)
	delete(w.entries, fn)
}

// retry re-attempts a deferred config once its name is free and the
// previous loop for that name has exited.
func (w *Watcher) retry(fn string, e *entry) {
	name := e.pending.Name
	if _, taken := w.names[name]; taken || w.draining(name) {
		return
	}
	cfg := e.pending
	e.pending = nil
	w.log.Info("service name available, taking over", "file", fn, "service", name)
	w.claim(fn, e, cfg)
}

// claim makes fn the owner of cfg.Name, unless another file owns it. While
// a released loop for the name is still stopping its service the claim is
// deferred, so the old process is gone before the new one starts.
func (w *Watcher) claim(fn string, e *entry, cfg *config.ServiceConfig) {
	if owner, taken := w.names[cfg.Name]; taken && owner != fn {
		w.log.Error("duplicate service name, ignoring file", "file", fn, "service", cfg.Name, "owner", owner)
		metrics.IncConfigError("duplicate")
		e.pending = cfg
		return
	}
	if w.draining(cfg.Name) {
		w.log.Info("previous instance still stopping, deferring start", "file", fn, "service", cfg.Name)
		e.pending = cfg
		return
	}
	e.cfg = cfg
	w.names[cfg.Name] = fn
	e.loop = w.acquire(*cfg)
}

func (w *Watcher) acquire(cfg config.ServiceConfig) ServiceLoop {
	w.log.Info("starting service", "service", cfg.Name)
	l := w.opts.NewLoop(cfg)
	l.Start()
	l.StartService()
	return l
}

// release stops the entry's service and retires its loop. The loop runs the
// queued stop before exiting and stays parked until then.
func (w *Watcher) release(e *entry) {
	if e.loop != nil {
		e.loop.StopService()
		e.loop.Stop()
		w.parked[e.cfg.Name] = e.loop
		delete(w.names, e.cfg.Name)
	}
	e.loop = nil
	e.cfg = nil
}

// draining reports whether a released loop for name has not exited yet.
func (w *Watcher) draining(name string) bool {
	l, ok := w.parked[name]
	if !ok {
		return false
	}
	select {
	case <-l.Done():
		delete(w.parked, name)
		return false
	default:
		return true
	}
}

// prune forgets released loops that have exited.
func (w *Watcher) prune() {
	for name := range w.parked {
		w.draining(name)
	}
}

func (w *Watcher) shutdown() {
	var loops []ServiceLoop
	for _, e := range w.entries {
		if e.loop != nil {
			e.loop.Stop()
			loops = append(loops, e.loop)
		}
	}
	// released loops were stopped already and finish their queued stop
	for _, l := range w.parked {
		loops = append(loops, l)
	}
	for _, l := range loops {
		<-l.Done()
	}
	w.log.Info("watcher stopped", "loops", len(loops))
}
