package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/dirvisor/internal/config"
	"github.com/loykin/dirvisor/internal/process"
	"github.com/loykin/dirvisor/internal/service"
)

const (
	stateRunning = "running"
	stateStale   = "stale"
	stateCorrupt = "corrupt"
)

type statusRow struct {
	Name      string            `json:"name"`
	State     string            `json:"state"`
	PID       int               `json:"pid,omitempty"`
	StartTime int64             `json:"starttime,omitempty"`
	Cmd       []string          `json:"cmd,omitempty"`
	Version   map[string]string `json:"version,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func runStatus(out io.Writer, configPath string, asJSON bool) error {
	d, err := config.LoadDaemon(configPath)
	if err != nil {
		return err
	}
	rows, err := collectStatus(d.StateDir, process.NewOS())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(out, rows)
	}
	return printTable(out, rows)
}

// collectStatus reads every record under stateDir. Lock and temp files are
// skipped; the supervisor's own record is listed first.
func collectStatus(stateDir string, o process.OS) ([]statusRow, error) {
	des, err := os.ReadDir(stateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var rows []statusRow
	for _, de := range des {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") && name != service.OwnRecordName {
			continue
		}
		row := statusRow{Name: name}
		rec, err := service.ReadRecord(filepath.Join(stateDir, name))
		switch {
		case err != nil:
			row.State = stateCorrupt
			row.Error = err.Error()
		case rec == nil:
			continue
		default:
			row.PID = rec.PID
			row.StartTime = rec.StartTime
			row.Cmd = rec.Cmd
			row.Version = rec.Version
			row.State = stateStale
			if rec.Matches(o) {
				row.State = stateRunning
			}
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		oi, oj := rows[i].Name == service.OwnRecordName, rows[j].Name == service.OwnRecordName
		if oi != oj {
			return oi
		}
		return rows[i].Name < rows[j].Name
	})
	return rows, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(out io.Writer, rows []statusRow) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tPID\tSTATE\tSTARTED\tCMD")
	for _, r := range rows {
		pid, started := "-", "-"
		if r.PID > 0 {
			pid = fmt.Sprint(r.PID)
		}
		if r.StartTime > 0 {
			started = time.Unix(r.StartTime, 0).Local().Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, pid, r.State, started, strings.Join(r.Cmd, " "))
	}
	return tw.Flush()
}
