//go:build !windows

package process

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loykin/dirvisor/internal/config"
)

// HelperEnv marks a process as the intermediate spawn helper.
const HelperEnv = "DIRVISOR_SPAWN_HELPER"

// helperPayload is what the supervisor hands the helper on stdin.
type helperPayload struct {
	Argv   []string                         `json:"argv"`
	Env    []string                         `json:"env"`
	Dir    string                           `json:"dir,omitempty"`
	Limits map[config.Resource]config.Limit `json:"limits,omitempty"`
}

// helperCreator spawns in two stages: the supervisor starts itself as a
// helper in a new session, the helper applies rlimits, starts the target,
// reports its pid on fd 3 and exits. The target is then orphaned and
// reparented away from the supervisor.
type helperCreator struct {
	opts CreatorOptions
}

func newPlatformCreator(opts CreatorOptions) Creator {
	return &helperCreator{opts: opts}
}

func (c *helperCreator) executable() (string, error) {
	if c.opts.Executable != "" {
		return c.opts.Executable, nil
	}
	return os.Executable()
}

func (c *helperCreator) Spawn(cfg config.ServiceConfig) (int, error) {
	if len(cfg.Cmd) == 0 {
		return 0, errors.New("empty command")
	}
	exe, err := c.executable()
	if err != nil {
		return 0, fmt.Errorf("locate helper executable: %w", err)
	}
	payload, err := json.Marshal(helperPayload{
		Argv:   cfg.Cmd,
		Env:    c.opts.environ(cfg),
		Dir:    cfg.WorkingDirectory,
		Limits: cfg.Resources,
	})
	if err != nil {
		return 0, err
	}

	log := c.opts.logger()
	out := outputSink(c.opts.Shipper, cfg.Name, log)
	if out != nil {
		defer func() { _ = out.Close() }()
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("report pipe: %w", err)
	}
	defer func() { _ = pr.Close() }()

	helper := exec.Command(exe)
	helper.Env = append(os.Environ(), HelperEnv+"=1")
	helper.Stdin = bytes.NewReader(payload)
	if out != nil {
		helper.Stdout = out
		helper.Stderr = out
	}
	helper.ExtraFiles = []*os.File{pw}
	detach(helper)

	if err := helper.Start(); err != nil {
		_ = pw.Close()
		return 0, fmt.Errorf("start spawn helper: %w", err)
	}
	_ = pw.Close()

	line, readErr := bufio.NewReader(pr).ReadString('\n')
	waitErr := helper.Wait()

	pid, err := parseReport(line)
	if err != nil {
		if readErr != nil && waitErr != nil {
			return 0, fmt.Errorf("spawn helper failed: %w", waitErr)
		}
		return 0, err
	}
	log.Debug("spawned", "service", cfg.Name, "pid", pid)
	return pid, nil
}

// parseReport decodes a "pid <n>" or "err <message>" report line.
func parseReport(line string) (int, error) {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(line, "pid "):
		pid, err := strconv.Atoi(strings.TrimPrefix(line, "pid "))
		if err != nil || pid <= 0 {
			return 0, fmt.Errorf("bad pid report %q", line)
		}
		return pid, nil
	case strings.HasPrefix(line, "err "):
		return 0, errors.New(strings.TrimPrefix(line, "err "))
	case line == "":
		return 0, errors.New("spawn helper exited without a report")
	default:
		return 0, fmt.Errorf("bad helper report %q", line)
	}
}
