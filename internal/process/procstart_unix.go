//go:build !windows

package process

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// procStartUnix returns the process start time in Unix seconds.
func procStartUnix(pid int) (int64, error) {
	if runtime.GOOS == "linux" {
		return procStartLinux(pid)
	}
	// Darwin/BSD: gopsutil uses sysctl under the hood
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0, ErrNoProcess
	}
	if st, err := p.Status(); err == nil && len(st) > 0 && st[0] == gopsproc.Zombie {
		return 0, ErrNoProcess
	}
	ms, err := p.CreateTime()
	if err != nil {
		return 0, fmt.Errorf("create time of %d: %w", pid, err)
	}
	return ms / 1000, nil
}

// procStartLinux reads field 22 of /proc/<pid>/stat (clock ticks since boot)
// and adds the boot time.
func procStartLinux(pid int) (int64, error) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoProcess
		}
		return 0, err
	}
	line := string(b)
	// comm may contain spaces and parens
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0, fmt.Errorf("malformed stat for %d", pid)
	}
	parts := strings.Fields(line[end+2:])
	if len(parts) < 20 {
		return 0, fmt.Errorf("short stat for %d", pid)
	}
	if parts[0] == "Z" || parts[0] == "X" {
		return 0, ErrNoProcess
	}
	ticks, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stat starttime for %d: %w", pid, err)
	}
	btime, err := bootTime()
	if err != nil {
		return 0, err
	}
	return btime + ticks/clockTicks(), nil
}

var (
	bootOnce sync.Once
	bootSecs int64
	bootErr  error
)

func bootTime() (int64, error) {
	bootOnce.Do(func() {
		f, err := os.Open("/proc/stat")
		if err != nil {
			bootErr = err
			return
		}
		defer func() { _ = f.Close() }()
		s := bufio.NewScanner(f)
		for s.Scan() {
			if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
				bootSecs, bootErr = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
				return
			}
		}
		bootErr = errors.New("btime not found in /proc/stat")
	})
	return bootSecs, bootErr
}

func clockTicks() int64 {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		return 100
	}
	return clk
}
