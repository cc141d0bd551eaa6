package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/dirvisor/internal/config"
)

// fakeService records calls in order.
type fakeService struct {
	mu       sync.Mutex
	calls    []string
	running  bool
	drifted  bool
	startErr error
	// stopErrs makes that many Stop calls fail with the process still alive
	stopErrs int
	cfg      config.ServiceConfig
	stopGate chan struct{}
}

func (f *fakeService) record(s string) {
	f.calls = append(f.calls, s)
}

func (f *fakeService) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	f.drifted = false
	return nil
}

func (f *fakeService) Stop() error {
	f.mu.Lock()
	gate := f.stopGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	if f.stopErrs > 0 {
		f.stopErrs--
		return errors.New("did not stop in time")
	}
	f.running = false
	return nil
}

func (f *fakeService) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeService) HasVersionChanged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running && f.drifted
}

func (f *fakeService) HasCmdChanged() bool { return false }

func (f *fakeService) SetConfig(cfg config.ServiceConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("config:" + cfg.Cmd[0])
	f.cfg = cfg
}

func (f *fakeService) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) count(call string) int {
	n := 0
	for _, c := range f.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeService) set(fn func(f *fakeService)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newLoop(t *testing.T, svc *fakeService, interval time.Duration) *Loop {
	t.Helper()
	l := New(config.ServiceConfig{Name: "web", Cmd: []string{"v1"}}, Options{
		Interval:   interval,
		NewService: func(config.ServiceConfig) Service { return svc },
	})
	t.Cleanup(func() {
		l.Stop()
		<-l.Done()
	})
	return l
}

const wait = 2 * time.Second

func TestStartServiceDelegatesInOrder(t *testing.T) {
	svc := &fakeService{}
	l := newLoop(t, svc, time.Hour)
	assert.Equal(t, "web", l.Name())
	l.Start()
	l.Start()
	l.StartService()
	l.StartService()

	require.Eventually(t, func() bool { return svc.count("start") == 2 }, wait, 5*time.Millisecond)
	// the second StartService reaches Service.Start, which is idempotent itself
	assert.True(t, svc.IsRunning())
}

func TestCrashIsRestartedOnTick(t *testing.T) {
	svc := &fakeService{}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	require.Eventually(t, svc.IsRunning, wait, 5*time.Millisecond)

	svc.set(func(f *fakeService) { f.running = false })
	require.Eventually(t, func() bool { return svc.count("start") >= 2 && svc.IsRunning() }, wait, 5*time.Millisecond)
	assert.Equal(t, 0, svc.count("stop"))
}

func TestStartErrorsRetryOnTick(t *testing.T) {
	svc := &fakeService{startErr: errors.New("boom")}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	require.Eventually(t, func() bool { return svc.count("start") >= 3 }, wait, 5*time.Millisecond)

	svc.set(func(f *fakeService) { f.startErr = nil })
	require.Eventually(t, svc.IsRunning, wait, 5*time.Millisecond)
}

func TestDriftTriggersStopThenStart(t *testing.T) {
	svc := &fakeService{}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	require.Eventually(t, svc.IsRunning, wait, 5*time.Millisecond)

	svc.set(func(f *fakeService) { f.drifted = true })
	require.Eventually(t, func() bool { return svc.count("stop") == 1 && svc.IsRunning() }, wait, 5*time.Millisecond)
	assert.Equal(t, []string{"start", "stop", "start"}, svc.snapshot()[:3])
}

func TestStopServiceClearsKeepAlive(t *testing.T) {
	svc := &fakeService{}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	l.StopService()
	require.Eventually(t, func() bool { return svc.count("stop") == 1 }, wait, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, svc.count("start"), "no restart without keep-alive")
	assert.False(t, svc.IsRunning())
}

func TestRestartWithNewConfigOrder(t *testing.T) {
	svc := &fakeService{}
	l := newLoop(t, svc, time.Hour)
	l.Start()
	l.StartService()
	l.RestartWithNewConfig(config.ServiceConfig{Name: "web", Cmd: []string{"v2"}})
	require.Eventually(t, func() bool { return len(svc.snapshot()) == 4 }, wait, 5*time.Millisecond)
	assert.Equal(t, []string{"start", "stop", "config:v2", "start"}, svc.snapshot())

	l.RestartWithNewConfig(config.ServiceConfig{Name: "other", Cmd: []string{"v3"}})
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, svc.snapshot(), 4)
}

func TestStopLeavesServiceRunning(t *testing.T) {
	svc := &fakeService{}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	require.Eventually(t, svc.IsRunning, wait, 5*time.Millisecond)

	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(wait):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, 0, svc.count("stop"))
	assert.True(t, svc.IsRunning())

	// commands after Stop are dropped
	l.StartService()
	assert.Equal(t, 1, svc.count("start"))
}

func TestStopDrainsQueuedCommands(t *testing.T) {
	svc := &fakeService{}
	l := newLoop(t, svc, time.Hour)
	l.Start()
	l.StartService()
	l.StopService()
	l.Stop()
	<-l.Done()
	assert.Equal(t, []string{"start", "stop"}, svc.snapshot())
}

func TestStopWithoutStartClosesDone(t *testing.T) {
	svc := &fakeService{}
	l := New(config.ServiceConfig{Name: "x", Cmd: []string{"v"}}, Options{
		NewService: func(config.ServiceConfig) Service { return svc },
	})
	l.StartService()
	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(wait):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, 1, svc.count("start"))
}

func TestEnqueueNeverBlocks(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{stopGate: gate}
	l := newLoop(t, svc, time.Hour)
	l.Start()
	l.StartService()
	l.StopService()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			l.RestartWithNewConfig(config.ServiceConfig{Name: "web", Cmd: []string{"v"}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("enqueue blocked behind a slow stop")
	}
	close(gate)
}

func TestFailedStopIsRetriedOnTick(t *testing.T) {
	svc := &fakeService{stopErrs: 2}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	l.StopService()
	require.Eventually(t, func() bool { return !svc.IsRunning() }, wait, 5*time.Millisecond)
	assert.Equal(t, 3, svc.count("stop"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, svc.count("stop"), "no retries once stopped")
	assert.Equal(t, 1, svc.count("start"))
}

func TestStartServiceCancelsPendingStop(t *testing.T) {
	svc := &fakeService{stopErrs: 1}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	l.StopService()
	l.StartService()
	require.Eventually(t, func() bool { return svc.count("start") == 2 }, wait, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, svc.count("stop"))
	assert.True(t, svc.IsRunning())
}

func TestRetiringLoopFinishesFailedStop(t *testing.T) {
	svc := &fakeService{stopErrs: 2}
	l := newLoop(t, svc, 10*time.Millisecond)
	l.Start()
	l.StartService()
	l.StopService()
	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(wait):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, []string{"start", "stop", "stop", "stop"}, svc.snapshot())
	assert.False(t, svc.IsRunning())
}
