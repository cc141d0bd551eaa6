package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/loykin/dirvisor/internal/config"
)

var errValidation = errors.New("validation failed")

// runValidate parses each file and reports problems, including two files
// declaring the same service name. It returns errValidation if any file is bad.
func runValidate(out io.Writer, paths []string) error {
	owner := make(map[string]string, len(paths))
	bad := 0
	for _, p := range paths {
		cfg, err := config.ParseFile(p)
		if err != nil {
			bad++
			_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", p, err)
			continue
		}
		if prev, dup := owner[cfg.Name]; dup {
			bad++
			_, _ = fmt.Fprintf(out, "FAIL %s: service name %q already declared in %s\n", p, cfg.Name, prev)
			continue
		}
		owner[cfg.Name] = p
		_, _ = fmt.Fprintf(out, "ok   %s: %s\n", p, cfg.Name)
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d of %d files", errValidation, bad, len(paths))
	}
	return nil
}
