// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sources provides the Linux-backed snapshot sources for every
// inventory category in pkg/sysinfo. Each source reads the same
// instrumentation files the kernel exposes under /proc and /sys; the
// paths are configurable so agents running in containers can point at
// bind-mounted host filesystems, and so tests can point at fixtures.
package sources

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/hostsnap/agent/pkg/snapshot"
	"github.com/hostsnap/agent/pkg/sysinfo"
)

// Compile-time interface check
var _ snapshot.Source[sysinfo.Process] = (*ProcessSource)(nil)

// ProcessSource reads the process table from /proc/[pid]/*.
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#process-specific-subdirectories
type ProcessSource struct {
	logger   logr.Logger
	procPath string
}

func NewProcessSource(logger logr.Logger, config sysinfo.CollectionConfig) (*ProcessSource, error) {
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}
	return &ProcessSource{
		logger:   logger.WithName("processes"),
		procPath: config.HostProcPath,
	}, nil
}

func (s *ProcessSource) Query(ctx context.Context) ([]sysinfo.Process, error) {
	entries, err := os.ReadDir(s.procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.procPath, err)
	}

	var processes []sysinfo.Process
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue // not a process directory
		}

		process, err := s.readProcess(int32(pid))
		if err != nil {
			// Processes exit while we scan; skip and move on.
			s.logger.V(2).Info("skipping process", "pid", pid, "error", err)
			continue
		}
		processes = append(processes, process)
	}
	return processes, nil
}

func (s *ProcessSource) readProcess(pid int32) (sysinfo.Process, error) {
	pidPath := filepath.Join(s.procPath, strconv.FormatInt(int64(pid), 10))

	statData, err := os.ReadFile(filepath.Join(pidPath, "stat"))
	if err != nil {
		return sysinfo.Process{}, fmt.Errorf("failed to read stat: %w", err)
	}
	name, fields, err := parseStat(statData)
	if err != nil {
		return sysinfo.Process{}, err
	}
	// Fields are indexed from the state field, the first one after the
	// parenthesized comm: state=0, ppid=1, num_threads=17, starttime=19.
	if len(fields) < 20 {
		return sysinfo.Process{}, fmt.Errorf("unexpected stat format: %d fields after comm", len(fields))
	}

	ppid, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return sysinfo.Process{}, fmt.Errorf("failed to parse ppid: %w", err)
	}
	threads, err := strconv.ParseInt(fields[17], 10, 32)
	if err != nil {
		return sysinfo.Process{}, fmt.Errorf("failed to parse num_threads: %w", err)
	}
	startTicks, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return sysinfo.Process{}, fmt.Errorf("failed to parse starttime: %w", err)
	}

	process := sysinfo.Process{
		PID:        pid,
		PPID:       int32(ppid),
		Name:       name,
		State:      fields[0],
		Threads:    int32(threads),
		StartTicks: startTicks,
	}

	// VmRSS is absent for kernel threads; leave it zero.
	if rss, err := readVmRSS(filepath.Join(pidPath, "status")); err == nil {
		process.VmRSSKB = rss
	}

	// cmdline is empty for kernel threads.
	if cmdline, err := os.ReadFile(filepath.Join(pidPath, "cmdline")); err == nil {
		process.Cmdline = strings.TrimRight(
			string(bytes.ReplaceAll(cmdline, []byte{0}, []byte{' '})), " ")
	}

	return process, nil
}

// parseStat splits a /proc/[pid]/stat line into the comm name and the
// fields following it. The comm is parenthesized and may itself contain
// spaces and parentheses, so the split anchors on the last ')'.
func parseStat(data []byte) (string, []string, error) {
	line := string(bytes.TrimSpace(data))
	start := strings.IndexByte(line, '(')
	end := strings.LastIndexByte(line, ')')
	if start < 0 || end < 0 || end < start || end+2 > len(line) {
		return "", nil, fmt.Errorf("unexpected stat format: %q", line)
	}
	name := line[start+1 : end]
	fields := strings.Fields(line[end+2:])
	return name, fields, nil
}

func readVmRSS(statusPath string) (uint64, error) {
	f, err := os.Open(statusPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("unexpected VmRSS format: %q", line)
		}
		return strconv.ParseUint(fields[1], 10, 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("VmRSS not found in %s", statusPath)
}

func init() {
	sysinfo.Register(sysinfo.CategoryProcesses, func(logger logr.Logger, config sysinfo.CollectionConfig) (snapshot.Refresher, error) {
		source, err := NewProcessSource(logger, config)
		if err != nil {
			return nil, err
		}
		return snapshot.NewCategory(string(sysinfo.CategoryProcesses), snapshot.Source[sysinfo.Process](source),
			snapshot.WithQueryTimeout(config.QueryTimeout), snapshot.WithLogger(logger)), nil
	})
}
