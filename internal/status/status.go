package status

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/msageha/restfile/internal/lock"
	"github.com/msageha/restfile/internal/model"
	"github.com/msageha/restfile/internal/state"
	"github.com/msageha/restfile/internal/uds"
)

type Report struct {
	Daemon  DaemonStatus   `json:"daemon"`
	Results []ResultStatus `json:"results"`
}

type DaemonStatus struct {
	Running  bool `json:"running"`
	Pid      int  `json:"pid,omitempty"`
	Commands int  `json:"commands,omitempty"`
}

type ResultStatus struct {
	Command    string `json:"command"`
	Status     string `json:"status"`
	StatusCode *int   `json:"status_code"`
	ErrorKind  string `json:"error_kind,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// Run gathers the status of the restfile directory dir and prints it to w.
func Run(dir string, jsonOutput bool, w io.Writer) error {
	report, err := Collect(dir)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStatus(w, report)
	return nil
}

// Collect asks a running daemon for live results and falls back to the files
// under state/ when no daemon answers.
func Collect(dir string) (Report, error) {
	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)

	report := Report{Daemon: checkDaemon(client)}
	if report.Daemon.Running {
		if pid, err := lock.ReadPID(filepath.Join(dir, "locks", "daemon.lock")); err == nil {
			report.Daemon.Pid = pid
		}
	}

	var results []model.LastResult
	if report.Daemon.Running {
		if err := client.Do(uds.CommandState, nil, &results); err != nil {
			report.Daemon.Running = false
		}
	}
	if !report.Daemon.Running {
		var err error
		results, err = state.ReadDir(dir)
		if err != nil {
			return Report{}, err
		}
	}

	report.Results = make([]ResultStatus, 0, len(results))
	for _, r := range results {
		report.Results = append(report.Results, ResultStatus{
			Command:    r.Command,
			Status:     string(r.Status),
			StatusCode: r.StatusCode,
			ErrorKind:  r.ErrorKind,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return report, nil
}

func checkDaemon(client *uds.Client) DaemonStatus {
	var pong struct {
		Commands int `json:"commands"`
	}
	if err := client.Do(uds.CommandPing, nil, &pong); err != nil {
		return DaemonStatus{Running: false}
	}
	return DaemonStatus{Running: true, Commands: pong.Commands}
}

func printStatus(w io.Writer, s Report) {
	if s.Daemon.Running {
		fmt.Fprintf(w, "Daemon: running (pid=%d, commands=%d)\n", s.Daemon.Pid, s.Daemon.Commands)
	} else {
		fmt.Fprintln(w, "Daemon: stopped")
	}

	if len(s.Results) == 0 {
		fmt.Fprintln(w, "\nLast results: none")
		return
	}
	fmt.Fprintln(w, "\nLast results:")
	fmt.Fprintf(w, "  %-20s  %-7s  %6s  %s\n", "COMMAND", "STATUS", "CODE", "UPDATED")
	for _, r := range s.Results {
		code := "-"
		if r.StatusCode != nil {
			code = fmt.Sprintf("%d", *r.StatusCode)
		}
		status := r.Status
		if r.ErrorKind != "" {
			status = r.Status + " (" + r.ErrorKind + ")"
		}
		fmt.Fprintf(w, "  %-20s  %-7s  %6s  %s\n", r.Command, status, code, r.UpdatedAt)
	}
}
