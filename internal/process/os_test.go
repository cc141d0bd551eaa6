package process

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPid returns the pid of a process that has already been reaped.
func deadPid(t *testing.T) int {
	t.Helper()
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/c", "exit 0")
	} else {
		cmd = exec.Command("true")
	}
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())
	return pid
}

func TestStartTimeSelf(t *testing.T) {
	st, err := NewOS().StartTime(os.Getpid())
	require.NoError(t, err)
	now := time.Now().Unix()
	assert.LessOrEqual(t, st, now+1)
	assert.Greater(t, st, now-24*3600)
}

func TestStartTimeGone(t *testing.T) {
	_, err := NewOS().StartTime(deadPid(t))
	assert.True(t, errors.Is(err, ErrNoProcess), "got %v", err)

	_, err = NewOS().StartTime(0)
	assert.ErrorIs(t, err, ErrNoProcess)
	_, err = NewOS().StartTime(-4)
	assert.ErrorIs(t, err, ErrNoProcess)
}

func TestSignalsToGoneProcessSucceed(t *testing.T) {
	pid := deadPid(t)
	o := NewOS()
	assert.NoError(t, o.Terminate(pid))
	assert.NoError(t, o.Kill(pid))
	assert.NoError(t, o.Terminate(0))
}

func TestSupportsKill(t *testing.T) {
	assert.Equal(t, runtime.GOOS != "windows", NewOS().SupportsKill())
}
