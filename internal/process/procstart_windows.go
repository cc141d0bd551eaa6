//go:build windows

package process

import (
	"fmt"
	"syscall"
)

const stillActive = 259

// procStartUnix returns the creation time of a running process in Unix seconds.
func procStartUnix(pid int) (int64, error) {
	h, err := syscall.OpenProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return 0, ErrNoProcess
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return 0, fmt.Errorf("exit code of %d: %w", pid, err)
	}
	if code != stillActive {
		return 0, ErrNoProcess
	}
	var creation, exit, kernel, user syscall.Filetime
	if err := syscall.GetProcessTimes(h, &creation, &exit, &kernel, &user); err != nil {
		return 0, fmt.Errorf("process times of %d: %w", pid, err)
	}
	return creation.Nanoseconds() / 1e9, nil
}
