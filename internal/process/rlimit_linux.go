//go:build linux

package process

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/loykin/dirvisor/internal/config"
)

var rlimitIDs = map[config.Resource]int{
	config.ResourceCPU:    unix.RLIMIT_CPU,
	config.ResourceAS:     unix.RLIMIT_AS,
	config.ResourceNoFile: unix.RLIMIT_NOFILE,
	config.ResourceNProc:  unix.RLIMIT_NPROC,
	config.ResourceStack:  unix.RLIMIT_STACK,
}

// applyLimits sets rlimits on the calling process. It goes through
// syscall.Setrlimit so the runtime does not restore its saved NOFILE limit
// in the child.
func applyLimits(limits map[config.Resource]config.Limit) error {
	for r, l := range limits {
		id, ok := rlimitIDs[r]
		if !ok {
			return fmt.Errorf("unsupported resource %q", r)
		}
		rl := syscall.Rlimit{Cur: l.Soft, Max: l.Hard}
		if err := syscall.Setrlimit(id, &rl); err != nil {
			return fmt.Errorf("setrlimit %s=%d:%d: %w", r, l.Soft, l.Hard, err)
		}
	}
	return nil
}
