// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/hostsnap/agent/pkg/snapshot"
	"github.com/hostsnap/agent/pkg/sysinfo"
)

// Compile-time interface check
var _ snapshot.Source[sysinfo.KernelInfo] = (*KernelSource)(nil)

// KernelSource reads kernel identity from uname(2), preferring the
// hostname exposed under /proc/sys/kernel so containerized agents report
// the host rather than themselves. It yields a single row per query.
type KernelSource struct {
	logger   logr.Logger
	procPath string
}

func NewKernelSource(logger logr.Logger, config sysinfo.CollectionConfig) (*KernelSource, error) {
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}
	return &KernelSource{
		logger:   logger.WithName("kernel"),
		procPath: config.HostProcPath,
	}, nil
}

func (s *KernelSource) Query(ctx context.Context) ([]sysinfo.KernelInfo, error) {
	info, err := uname()
	if err != nil {
		return nil, fmt.Errorf("uname failed: %w", err)
	}
	if hostname := readSysFile(filepath.Join(s.procPath, "sys", "kernel"), "hostname"); hostname != "" {
		info.Hostname = hostname
	}
	return []sysinfo.KernelInfo{info}, nil
}

func init() {
	sysinfo.Register(sysinfo.CategoryKernel, func(logger logr.Logger, config sysinfo.CollectionConfig) (snapshot.Refresher, error) {
		source, err := NewKernelSource(logger, config)
		if err != nil {
			return nil, err
		}
		return snapshot.NewCategory(string(sysinfo.CategoryKernel), snapshot.Source[sysinfo.KernelInfo](source),
			snapshot.WithQueryTimeout(config.QueryTimeout), snapshot.WithLogger(logger)), nil
	})
}
