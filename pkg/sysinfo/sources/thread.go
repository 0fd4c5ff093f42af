// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/hostsnap/agent/pkg/snapshot"
	"github.com/hostsnap/agent/pkg/sysinfo"
)

// Compile-time interface check
var _ snapshot.Source[sysinfo.Thread] = (*ThreadSource)(nil)

// ThreadSource reads the thread table from /proc/[pid]/task/[tid]/stat.
type ThreadSource struct {
	logger   logr.Logger
	procPath string
}

func NewThreadSource(logger logr.Logger, config sysinfo.CollectionConfig) (*ThreadSource, error) {
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}
	return &ThreadSource{
		logger:   logger.WithName("threads"),
		procPath: config.HostProcPath,
	}, nil
}

func (s *ThreadSource) Query(ctx context.Context) ([]sysinfo.Thread, error) {
	entries, err := os.ReadDir(s.procPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.procPath, err)
	}

	var threads []sysinfo.Thread
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue
		}

		taskPath := filepath.Join(s.procPath, entry.Name(), "task")
		tasks, err := os.ReadDir(taskPath)
		if err != nil {
			// Process exited between the pid scan and the task scan.
			s.logger.V(2).Info("skipping process tasks", "pid", pid, "error", err)
			continue
		}

		for _, task := range tasks {
			tid, err := strconv.ParseInt(task.Name(), 10, 32)
			if err != nil {
				continue
			}
			thread, err := s.readThread(int32(pid), int32(tid), filepath.Join(taskPath, task.Name()))
			if err != nil {
				s.logger.V(2).Info("skipping thread", "pid", pid, "tid", tid, "error", err)
				continue
			}
			threads = append(threads, thread)
		}
	}
	return threads, nil
}

func (s *ThreadSource) readThread(pid, tid int32, tidPath string) (sysinfo.Thread, error) {
	statData, err := os.ReadFile(filepath.Join(tidPath, "stat"))
	if err != nil {
		return sysinfo.Thread{}, fmt.Errorf("failed to read stat: %w", err)
	}
	name, fields, err := parseStat(statData)
	if err != nil {
		return sysinfo.Thread{}, err
	}
	if len(fields) < 1 {
		return sysinfo.Thread{}, fmt.Errorf("unexpected stat format: no fields after comm")
	}

	return sysinfo.Thread{
		TID:   tid,
		PID:   pid,
		Name:  name,
		State: fields[0],
	}, nil
}

func init() {
	sysinfo.Register(sysinfo.CategoryThreads, func(logger logr.Logger, config sysinfo.CollectionConfig) (snapshot.Refresher, error) {
		source, err := NewThreadSource(logger, config)
		if err != nil {
			return nil, err
		}
		return snapshot.NewCategory(string(sysinfo.CategoryThreads), snapshot.Source[sysinfo.Thread](source),
			snapshot.WithQueryTimeout(config.QueryTimeout), snapshot.WithLogger(logger)), nil
	})
}
