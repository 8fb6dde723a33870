// Package procs provides one-shot process table enumeration and per-PID
// working directory resolution.
package procs

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// CwdTimeout bounds each per-PID working directory query.
const CwdTimeout = 1500 * time.Millisecond

// Row is one process-table entry.
type Row struct {
	PID   int
	PPID  int
	Comm  string
	State string
	TTY   string
	CPU   float64
	Args  string
}

// listOutputFunc is overridden in tests.
var listOutputFunc = runPS

// List enumerates the process table in a single query. Malformed rows are
// dropped; empty output yields an empty slice, not an error.
func List() []Row {
	out, err := listOutputFunc()
	if err != nil {
		return nil
	}
	return ParseTable(out)
}

// ParseTable parses `ps -axo pid=,ppid=,comm=,state=,tty=,pcpu=,args=`
// output. Rows with non-numeric pid/ppid/cpu fields are silently skipped.
func ParseTable(out string) []Row {
	var rows []Row
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		parts := splitFields(line, 7)
		if len(parts) < 6 {
			continue
		}
		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		cpu, err := strconv.ParseFloat(parts[5], 64)
		if err != nil {
			continue
		}
		args := ""
		if len(parts) >= 7 {
			args = parts[6]
		}
		rows = append(rows, Row{
			PID:   pid,
			PPID:  ppid,
			Comm:  parts[2],
			State: parts[3],
			TTY:   parts[4],
			CPU:   cpu,
			Args:  args,
		})
	}
	return rows
}

// splitFields splits on runs of whitespace, keeping the remainder intact
// once max-1 fields have been consumed (the args column contains spaces).
func splitFields(s string, max int) []string {
	var out []string
	rest := strings.TrimSpace(s)
	for len(out) < max-1 && rest != "" {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			out = append(out, rest)
			rest = ""
			break
		}
		out = append(out, rest[:idx])
		rest = strings.TrimLeft(rest[idx:], " \t")
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}

// ByPID indexes rows by PID. Later duplicates win; callers treat the table
// as a point-in-time snapshot.
func ByPID(rows []Row) map[int]Row {
	out := make(map[int]Row, len(rows))
	for _, r := range rows {
		out[r.PID] = r
	}
	return out
}

func runPS() (string, error) {
	cmd := exec.Command("ps", "-axo", "pid=,ppid=,comm=,state=,tty=,pcpu=,args=")
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Alive reports whether a PID refers to a live process. Wraps a signal-0
// style existence probe.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// CwdMap resolves working directories for the given PIDs. Each lookup is
// independent and bounded by CwdTimeout; failures simply leave the PID out
// of the result.
func CwdMap(ctx context.Context, pids []int) map[int]string {
	out := make(map[int]string, len(pids))
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		if cwd := cwdForPID(ctx, pid); cwd != "" {
			out[pid] = cwd
		}
	}
	return out
}

func cwdForPID(ctx context.Context, pid int) string {
	ctx, cancel := context.WithTimeout(ctx, CwdTimeout)
	defer cancel()

	if p, err := process.NewProcess(int32(pid)); err == nil {
		if cwd, err := p.CwdWithContext(ctx); err == nil && cwd != "" {
			return cwd
		}
	}

	// gopsutil cannot read cwd on every platform; lsof covers the rest.
	cmd := exec.CommandContext(ctx, "lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n") {
			return strings.TrimSuffix(line[1:], "\r")
		}
	}
	return ""
}
