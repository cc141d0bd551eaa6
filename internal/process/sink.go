package process

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// outputSink opens the writer a child's stdout and stderr are bound to.
// When a shipper argv is configured it is started with a pipe on stdin and
// the write end is returned; otherwise the null device. The caller closes
// the returned file once the child has been started.
func outputSink(shipper []string, name string, log *slog.Logger) *os.File {
	if len(shipper) > 0 {
		f, err := startShipper(shipper, name)
		if err == nil {
			return f
		}
		log.Warn("log shipper unavailable, discarding output", "service", name, "error", err)
	}
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		log.Error("open null device", "error", err)
		return nil
	}
	return f
}

func startShipper(argv []string, name string) (*os.File, error) {
	args := make([]string, len(argv))
	for i, a := range argv {
		args[i] = strings.ReplaceAll(a, "{name}", name)
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = pr
	detach(cmd)
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start shipper %s: %w", args[0], err)
	}
	_ = pr.Close()
	go func() { _ = cmd.Wait() }()
	return pw, nil
}
