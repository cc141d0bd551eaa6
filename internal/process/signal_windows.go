//go:build windows

package process

import (
	"errors"
	"syscall"
)

// There is no graceful signal for arbitrary processes on windows, so
// Terminate is already forceful and there is no separate kill phase.
const supportsKill = false

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

func terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	h, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	if err != nil {
		// already gone
		return nil
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	if err := syscall.TerminateProcess(h, 1); err != nil {
		if errors.Is(err, syscall.ERROR_ACCESS_DENIED) {
			// exiting processes refuse termination
			return nil
		}
		return err
	}
	return nil
}

func kill(pid int) error { return terminate(pid) }
