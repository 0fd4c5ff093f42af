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
var _ snapshot.Source[sysinfo.User] = (*UserSource)(nil)

// UserSource reads local accounts from /etc/passwd.
type UserSource struct {
	logger     logr.Logger
	passwdPath string
}

func NewUserSource(logger logr.Logger, config sysinfo.CollectionConfig) (*UserSource, error) {
	if !filepath.IsAbs(config.HostEtcPath) {
		return nil, fmt.Errorf("HostEtcPath must be an absolute path, got: %q", config.HostEtcPath)
	}
	return &UserSource{
		logger:     logger.WithName("users"),
		passwdPath: filepath.Join(config.HostEtcPath, "passwd"),
	}, nil
}

func (s *UserSource) Query(ctx context.Context) ([]sysinfo.User, error) {
	f, err := os.Open(s.passwdPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.passwdPath, err)
	}
	defer f.Close()

	var users []sysinfo.User
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Format: name:password:uid:gid:gecos:home:shell
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 7 {
			s.logger.V(2).Info("skipping malformed passwd entry", "line", line)
			continue
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			s.logger.V(2).Info("skipping passwd entry with bad uid", "name", fields[0], "error", err)
			continue
		}
		gid, err := strconv.ParseUint(fields[3], 10, 32)
		if err != nil {
			s.logger.V(2).Info("skipping passwd entry with bad gid", "name", fields[0], "error", err)
			continue
		}
		users = append(users, sysinfo.User{
			Name:  fields[0],
			UID:   uint32(uid),
			GID:   uint32(gid),
			GECOS: fields[4],
			Home:  fields[5],
			Shell: fields[6],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.passwdPath, err)
	}
	return users, nil
}

func init() {
	sysinfo.Register(sysinfo.CategoryUsers, func(logger logr.Logger, config sysinfo.CollectionConfig) (snapshot.Refresher, error) {
		source, err := NewUserSource(logger, config)
		if err != nil {
			return nil, err
		}
		return snapshot.NewCategory(string(sysinfo.CategoryUsers), snapshot.Source[sysinfo.User](source),
			snapshot.WithQueryTimeout(config.QueryTimeout), snapshot.WithLogger(logger)), nil
	})
}
