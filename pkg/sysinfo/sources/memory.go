// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"bufio"
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
var _ snapshot.Source[sysinfo.MemoryInfo] = (*MemorySource)(nil)

// MemorySource reads memory configuration from /proc/meminfo. It yields
// a single row per query.
type MemorySource struct {
	logger      logr.Logger
	meminfoPath string
}

func NewMemorySource(logger logr.Logger, config sysinfo.CollectionConfig) (*MemorySource, error) {
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}
	return &MemorySource{
		logger:      logger.WithName("memory"),
		meminfoPath: filepath.Join(config.HostProcPath, "meminfo"),
	}, nil
}

func (s *MemorySource) Query(ctx context.Context) ([]sysinfo.MemoryInfo, error) {
	f, err := os.Open(s.meminfoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.meminfoPath, err)
	}
	defer f.Close()

	var info sysinfo.MemoryInfo
	fields := map[string]*uint64{
		"MemTotal":     &info.MemTotalKB,
		"MemFree":      &info.MemFreeKB,
		"MemAvailable": &info.MemAvailableKB,
		"Buffers":      &info.BuffersKB,
		"Cached":       &info.CachedKB,
		"SwapTotal":    &info.SwapTotalKB,
		"SwapFree":     &info.SwapFreeKB,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Format: "MemTotal:       16384256 kB"
		line := scanner.Text()
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		dst, wanted := fields[name]
		if !wanted {
			continue
		}
		parts := strings.Fields(rest)
		if len(parts) < 1 {
			return nil, fmt.Errorf("unexpected format in %s: %q", s.meminfoPath, line)
		}
		value, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		*dst = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.meminfoPath, err)
	}
	if info.MemTotalKB == 0 {
		return nil, fmt.Errorf("MemTotal not found in %s", s.meminfoPath)
	}

	return []sysinfo.MemoryInfo{info}, nil
}

func init() {
	sysinfo.Register(sysinfo.CategoryMemory, func(logger logr.Logger, config sysinfo.CollectionConfig) (snapshot.Refresher, error) {
		source, err := NewMemorySource(logger, config)
		if err != nil {
			return nil, err
		}
		return snapshot.NewCategory(string(sysinfo.CategoryMemory), snapshot.Source[sysinfo.MemoryInfo](source),
			snapshot.WithQueryTimeout(config.QueryTimeout), snapshot.WithLogger(logger)), nil
	})
}
