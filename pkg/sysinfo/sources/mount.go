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
	"strings"

	"github.com/go-logr/logr"

	"github.com/hostsnap/agent/pkg/snapshot"
	"github.com/hostsnap/agent/pkg/sysinfo"
)

// Compile-time interface check
var _ snapshot.Source[sysinfo.Mount] = (*MountSource)(nil)

// MountSource reads the mounted volumes from /proc/mounts.
type MountSource struct {
	logger     logr.Logger
	mountsPath string
}

func NewMountSource(logger logr.Logger, config sysinfo.CollectionConfig) (*MountSource, error) {
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}
	return &MountSource{
		logger:     logger.WithName("mounts"),
		mountsPath: filepath.Join(config.HostProcPath, "mounts"),
	}, nil
}

func (s *MountSource) Query(ctx context.Context) ([]sysinfo.Mount, error) {
	f, err := os.Open(s.mountsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.mountsPath, err)
	}
	defer f.Close()

	var mounts []sysinfo.Mount
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Format: device mountpoint fstype options dump pass
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		mounts = append(mounts, sysinfo.Mount{
			Device:     fields[0],
			MountPoint: unescapeMountField(fields[1]),
			FSType:     fields[2],
			Options:    fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.mountsPath, err)
	}
	return mounts, nil
}

// unescapeMountField decodes the octal escapes the kernel uses for
// whitespace in mount points (\040 space, \011 tab, \012 newline,
// \134 backslash).
func unescapeMountField(field string) string {
	if !strings.Contains(field, `\`) {
		return field
	}
	replacer := strings.NewReplacer(
		`\040`, " ",
		`\011`, "\t",
		`\012`, "\n",
		`\134`, `\`,
	)
	return replacer.Replace(field)
}

func init() {
	sysinfo.Register(sysinfo.CategoryMounts, func(logger logr.Logger, config sysinfo.CollectionConfig) (snapshot.Refresher, error) {
		source, err := NewMountSource(logger, config)
		if err != nil {
			return nil, err
		}
		return snapshot.NewCategory(string(sysinfo.CategoryMounts), snapshot.Source[sysinfo.Mount](source),
			snapshot.WithQueryTimeout(config.QueryTimeout), snapshot.WithLogger(logger)), nil
	})
}
