//go:build !linux && !windows

package process

import (
	"fmt"
	"os"
	"runtime"

	"github.com/loykin/dirvisor/internal/config"
)

// applyLimits only warns here; the warning lands in the service's output sink.
func applyLimits(limits map[config.Resource]config.Limit) error {
	if len(limits) > 0 {
		_, _ = fmt.Fprintf(os.Stderr, "dirvisor: resource limits are not supported on %s, ignoring\n", runtime.GOOS)
	}
	return nil
}
