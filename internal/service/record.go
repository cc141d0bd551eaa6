package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/dirvisor/internal/process"
	"github.com/loykin/dirvisor/internal/version"
)

// StartTimeTolerance is the largest difference, in seconds, between a
// recorded and a live start time that still identifies the same process.
const StartTimeTolerance = 10

// ErrCorruptRecord marks a state file that exists but cannot be read or decoded.
var ErrCorruptRecord = errors.New("corrupt process record")

// Record is the persisted identity of a spawned service process.
type Record struct {
	PID       int             `json:"pid"`
	StartTime int64           `json:"starttime"`
	Version   version.Version `json:"version"`
	Cmd       []string        `json:"cmd"`
}

// Matches reports whether rec still names a live process: the pid exists,
// is not a zombie and started within StartTimeTolerance of the recorded time.
func (r *Record) Matches(o process.OS) bool {
	if r == nil || r.PID <= 0 {
		return false
	}
	st, err := o.StartTime(r.PID)
	if err != nil {
		return false
	}
	d := st - r.StartTime
	if d < 0 {
		d = -d
	}
	return d < StartTimeTolerance
}

// ReadRecord loads the record at path. A missing file yields (nil, nil).
func ReadRecord(path string) (*Record, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, path, err)
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, path, err)
	}
	if r.PID <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid pid %d", ErrCorruptRecord, path, r.PID)
	}
	return &r, nil
}

// WriteRecord persists r at path atomically (temp file, then rename).
func WriteRecord(path string, r *Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RemoveRecord deletes the record at path. A missing file is not an error.
func RemoveRecord(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
