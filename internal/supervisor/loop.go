package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/metrics"
)

// DefaultInterval is the health check period of a Loop.
const DefaultInterval = time.Second

// Service is what a Loop drives. *service.Service satisfies it.
type Service interface {
	Start() error
	Stop() error
	IsRunning() bool
	HasVersionChanged() bool
	HasCmdChanged() bool
	SetConfig(cfg config.ServiceConfig)
}

// Options configures a Loop.
type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
	// NewService builds the Service a Loop owns. Required.
	NewService func(cfg config.ServiceConfig) Service
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionRestart
)

func (a commandAction) String() string {
	switch a {
	case actionStart:
		return "start"
	case actionStop:
		return "stop"
	case actionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

type command struct {
	action commandAction
	cfg    config.ServiceConfig
}

// Loop keeps one service alive. Commands are queued without blocking the
// caller and run in order on the loop goroutine, so a stop always completes
// before a later start.
type Loop struct {
	name     string
	svc      Service
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	queue    []command
	started  bool
	stopping bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// owned by the loop goroutine
	keepAlive  bool
	wasRunning bool
	// stopPending is set while a requested stop has failed and must be retried
	stopPending bool
}

// New creates a Loop for cfg. Call Start to launch it.
func New(cfg config.ServiceConfig, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		name:     cfg.Name,
		svc:      opts.NewService(cfg),
		interval: opts.Interval,
		log:      opts.Logger.With("service", cfg.Name),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name is the service name.
func (l *Loop) Name() string { return l.name }

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Start launches the loop goroutine. It is idempotent.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()
	go l.run()
}

// StartService asks the loop to keep the service running.
func (l *Loop) StartService() { l.enqueue(command{action: actionStart}) }

// StopService asks the loop to stop the service and stop keeping it alive.
func (l *Loop) StopService() { l.enqueue(command{action: actionStop}) }

// RestartWithNewConfig stops the service, swaps in cfg and starts it again.
func (l *Loop) RestartWithNewConfig(cfg config.ServiceConfig) {
	l.enqueue(command{action: actionRestart, cfg: cfg.Clone()})
}

// Stop ends polling. Commands already queued still run; the service itself
// is left as it is.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopping = true
	launch := !l.started
	l.started = true
	l.mu.Unlock()
	l.stopOnce.Do(func() { close(l.stop) })
	if launch {
		go l.run()
	}
}

func (l *Loop) enqueue(c command) {
	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		l.log.Debug("loop stopping, dropping command", "action", c.action)
		return
	}
	l.queue = append(l.queue, c)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) next() (command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return command{}, false
	}
	c := l.queue[0]
	l.queue[0] = command{}
	l.queue = l.queue[1:]
	return c, true
}

func (l *Loop) drain() {
	for {
		c, ok := l.next()
		if !ok {
			return
		}
		l.handle(c)
	}
}

func (l *Loop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *Loop) run() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.drain()
		if l.stopped() {
			l.drain()
			l.finishStop(ticker)
			l.log.Debug("loop exited")
			return
		}
		select {
		case <-l.stop:
		case <-l.wake:
		case <-ticker.C:
			if !l.stopped() {
				l.tick()
			}
		}
	}
}

func (l *Loop) handle(c command) {
	switch c.action {
	case actionStart:
		l.keepAlive = true
		l.stopPending = false
		l.start()
	case actionStop:
		l.keepAlive = false
		l.halt()
	case actionRestart:
		l.keepAlive = true
		if c.cfg.Name != l.name {
			l.log.Error("restart with a config for another service ignored", "got", c.cfg.Name)
			return
		}
		l.halt()
		l.svc.SetConfig(c.cfg)
		l.start()
	}
}

func (l *Loop) start() {
	if err := l.svc.Start(); err != nil {
		l.log.Error("start failed, retrying on next tick", "error", err)
		return
	}
	l.wasRunning = true
}

func (l *Loop) halt() {
	if err := l.svc.Stop(); err != nil {
		l.log.Error("stop failed, retrying on next tick", "error", err)
		l.stopPending = true
		return
	}
	l.stopPending = false
	l.wasRunning = false
}

// finishStop keeps retrying a failed stop of a retiring loop, so a removed
// service is not left behind when its loop exits.
func (l *Loop) finishStop(ticker *time.Ticker) {
	for l.stopPending && !l.keepAlive {
		<-ticker.C
		l.halt()
	}
}

// tick is the health check: restart a dead service, and restart a live one
// whose artifact or command line drifted from the config.
func (l *Loop) tick() {
	if !l.keepAlive {
		if l.stopPending {
			l.halt()
		}
		return
	}
	if !l.svc.IsRunning() {
		if l.wasRunning {
			l.log.Warn("service exited unexpectedly, restarting")
			metrics.IncRestart(l.name, metrics.ReasonCrash)
		}
		l.start()
		return
	}
	if l.svc.HasVersionChanged() || l.svc.HasCmdChanged() {
		l.log.Info("service drifted from config, restarting")
		metrics.IncRestart(l.name, metrics.ReasonDrift)
		l.halt()
		l.start()
	}
}
