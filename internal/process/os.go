package process

import "errors"

// ErrNoProcess is returned by OS.StartTime when pid does not name a live
// process. Zombies count as gone.
var ErrNoProcess = errors.New("no such process")

// OS is the slice of the process table and signal API the supervisor needs.
type OS interface {
	// StartTime returns the process start time in Unix seconds.
	StartTime(pid int) (int64, error)
	// Terminate asks the process to exit (SIGTERM, TerminateProcess on windows).
	Terminate(pid int) error
	// Kill forcefully ends the process. Only valid when SupportsKill is true.
	Kill(pid int) error
	SupportsKill() bool
}

// System is the OS backed by the real host.
type System struct{}

// NewOS returns the host implementation.
func NewOS() System { return System{} }

// StartTime implements OS.
func (System) StartTime(pid int) (int64, error) {
	if pid <= 0 {
		return 0, ErrNoProcess
	}
	return procStartUnix(pid)
}

func (System) Terminate(pid int) error { return terminate(pid) }

func (System) Kill(pid int) error { return kill(pid) }

func (System) SupportsKill() bool { return supportsKill }
