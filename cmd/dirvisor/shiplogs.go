package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loykin/dirvisor/internal/logger"
)

// runShipLogs copies a service's combined output from in into a rotated file
// until in reaches EOF, which happens when the service exits.
func runShipLogs(in io.Reader, flags ShipLogsFlags) error {
	if err := os.MkdirAll(filepath.Dir(flags.File), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	w := logger.Rotation{
		Path:       flags.File,
		MaxSizeMB:  flags.MaxSizeMB,
		MaxBackups: flags.MaxBackups,
		MaxAgeDays: flags.MaxAgeDays,
		Compress:   flags.Compress,
	}.Writer()
	_, copyErr := io.Copy(w, in)
	if err := w.Close(); err != nil && copyErr == nil {
		return err
	}
	return copyErr
}
