package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/history"
	"github.com/loykin/dirvisor/internal/process"
	"github.com/loykin/dirvisor/internal/version"
)

type fakeProc struct {
	start      int64
	alive      bool
	ignoreTerm bool
}

type signalAt struct {
	pid int
	at  time.Time
}

// fakeOS is an in-memory process table.
type fakeOS struct {
	mu     sync.Mutex
	procs  map[int]*fakeProc
	noKill bool
	terms  []signalAt
	kills  []signalAt
}

func newFakeOS() *fakeOS { return &fakeOS{procs: map[int]*fakeProc{}} }

func (f *fakeOS) add(pid int, start int64, ignoreTerm bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = &fakeProc{start: start, alive: true, ignoreTerm: ignoreTerm}
}

func (f *fakeOS) exit(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.procs[pid]; ok {
		p.alive = false
	}
}

func (f *fakeOS) StartTime(pid int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok || !p.alive {
		return 0, process.ErrNoProcess
	}
	return p.start, nil
}

func (f *fakeOS) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms = append(f.terms, signalAt{pid, time.Now()})
	if p, ok := f.procs[pid]; ok && !p.ignoreTerm {
		p.alive = false
	}
	return nil
}

func (f *fakeOS) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, signalAt{pid, time.Now()})
	if p, ok := f.procs[pid]; ok {
		p.alive = false
	}
	return nil
}

func (f *fakeOS) SupportsKill() bool { return !f.noKill }

func (f *fakeOS) signals() (terms, kills []signalAt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]signalAt(nil), f.terms...), append([]signalAt(nil), f.kills...)
}

// fakeCreator "spawns" into a fakeOS.
type fakeCreator struct {
	mu         sync.Mutex
	os         *fakeOS
	next       int
	spawns     int
	err        error
	ignoreTerm bool
	// ghost returns a pid that never appears in the process table
	ghost bool
}

func (c *fakeCreator) Spawn(cfg config.ServiceConfig) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.next++
	pid := 1000 + c.next
	c.spawns++
	if !c.ghost {
		c.os.add(pid, time.Now().Unix(), c.ignoreTerm)
	}
	return pid, nil
}

func (c *fakeCreator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawns
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (r *recordingSink) Send(_ context.Context, e history.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []history.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// mutableResolver returns whatever version is currently set.
type mutableResolver struct {
	mu sync.Mutex
	v  version.Version
}

func (m *mutableResolver) set(v version.Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v = v
}

func (m *mutableResolver) Resolve(config.ServiceConfig) version.Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v
}

var errSpawn = errors.New("spawn refused")
