//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/loykin/dirvisor/internal/config"
)

// HelperEnv is unused on windows; children are created directly.
const HelperEnv = "DIRVISOR_SPAWN_HELPER"

// directCreator starts the target itself with no console window and its own
// process group. Windows has no double-fork and no zombie, so the handle is
// simply released.
type directCreator struct {
	opts CreatorOptions
}

func newPlatformCreator(opts CreatorOptions) Creator {
	return &directCreator{opts: opts}
}

func (c *directCreator) Spawn(cfg config.ServiceConfig) (int, error) {
	if len(cfg.Cmd) == 0 {
		return 0, errors.New("empty command")
	}
	log := c.opts.logger()
	if len(cfg.Resources) > 0 {
		log.Warn("resource limits are not supported on windows, ignoring", "service", cfg.Name)
	}
	out := outputSink(c.opts.Shipper, cfg.Name, log)
	if out != nil {
		defer func() { _ = out.Close() }()
	}
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer func() { _ = devnull.Close() }()

	cmd := exec.Command(cfg.Cmd[0], cfg.Cmd[1:]...)
	cmd.Env = c.opts.environ(cfg)
	cmd.Dir = cfg.WorkingDirectory
	cmd.Stdin = devnull
	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = out
	}
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", cfg.Cmd[0], err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	log.Debug("spawned", "service", cfg.Name, "pid", pid)
	return pid, nil
}

// IsHelper is always false on windows.
func IsHelper() bool { return false }

// RunHelper is never reached on windows.
func RunHelper() int { return 2 }
