//go:build !windows

package process

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

const reportFD = 3

// IsHelper reports whether this process was started as the spawn helper.
// main must check it before doing anything else and exit with RunHelper's code.
func IsHelper() bool {
	return os.Getenv(HelperEnv) == "1"
}

// RunHelper is the second spawn stage. It reads the payload from stdin,
// applies rlimits to itself so the target inherits them, starts the target
// and reports the outcome on fd 3.
func RunHelper() int {
	unix.CloseOnExec(reportFD)
	report := os.NewFile(uintptr(reportFD), "report")
	if report == nil {
		return 2
	}
	defer func() { _ = report.Close() }()

	pid, err := helperSpawn()
	if err != nil {
		_, _ = fmt.Fprintf(report, "err %s\n", strings.ReplaceAll(err.Error(), "\n", " "))
		return 1
	}
	_, _ = fmt.Fprintf(report, "pid %d\n", pid)
	return 0
}

func helperSpawn() (int, error) {
	var p helperPayload
	if err := json.NewDecoder(os.Stdin).Decode(&p); err != nil {
		return 0, fmt.Errorf("decode payload: %w", err)
	}
	if len(p.Argv) == 0 {
		return 0, fmt.Errorf("empty command")
	}
	if err := applyLimits(p.Limits); err != nil {
		return 0, err
	}
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer func() { _ = devnull.Close() }()

	cmd := exec.Command(p.Argv[0], p.Argv[1:]...)
	cmd.Env = p.Env
	cmd.Dir = p.Dir
	cmd.Stdin = devnull
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", p.Argv[0], err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}
