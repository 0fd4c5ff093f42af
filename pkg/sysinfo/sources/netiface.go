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
var _ snapshot.Source[sysinfo.Interface] = (*InterfaceSource)(nil)

// InterfaceSource reads network interfaces from /sys/class/net and
// their traffic counters from /proc/net/dev.
type InterfaceSource struct {
	logger     logr.Logger
	classPath  string
	netdevPath string
}

func NewInterfaceSource(logger logr.Logger, config sysinfo.CollectionConfig) (*InterfaceSource, error) {
	if !filepath.IsAbs(config.HostSysPath) {
		return nil, fmt.Errorf("HostSysPath must be an absolute path, got: %q", config.HostSysPath)
	}
	if !filepath.IsAbs(config.HostProcPath) {
		return nil, fmt.Errorf("HostProcPath must be an absolute path, got: %q", config.HostProcPath)
	}
	return &InterfaceSource{
		logger:     logger.WithName("interfaces"),
		classPath:  filepath.Join(config.HostSysPath, "class", "net"),
		netdevPath: filepath.Join(config.HostProcPath, "net", "dev"),
	}, nil
}

type trafficCounters struct {
	rxBytes, rxPackets uint64
	txBytes, txPackets uint64
}

func (s *InterfaceSource) Query(ctx context.Context) ([]sysinfo.Interface, error) {
	entries, err := os.ReadDir(s.classPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.classPath, err)
	}

	// Counters are optional: an interface can disappear between the
	// sysfs scan and the netdev read.
	counters, err := s.readNetDev()
	if err != nil {
		s.logger.V(1).Info("traffic counters unavailable", "error", err)
		counters = map[string]trafficCounters{}
	}

	var interfaces []sysinfo.Interface
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		ifacePath := filepath.Join(s.classPath, name)
		iface := sysinfo.Interface{
			Name:      name,
			Address:   readSysFile(ifacePath, "address"),
			OperState: readSysFile(ifacePath, "operstate"),
		}
		if mtu, err := strconv.ParseInt(readSysFile(ifacePath, "mtu"), 10, 32); err == nil {
			iface.MTU = int32(mtu)
		}
		if c, ok := counters[name]; ok {
			iface.RxBytes = c.rxBytes
			iface.RxPackets = c.rxPackets
			iface.TxBytes = c.txBytes
			iface.TxPackets = c.txPackets
		}
		interfaces = append(interfaces, iface)
	}
	return interfaces, nil
}

// readNetDev parses /proc/net/dev.
// Format after the two header lines:
//
//	eth0: rxbytes rxpackets errs drop fifo frame compressed multicast txbytes txpackets ...
func (s *InterfaceSource) readNetDev() (map[string]trafficCounters, error) {
	f, err := os.Open(s.netdevPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.netdevPath, err)
	}
	defer f.Close()

	counters := make(map[string]trafficCounters)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name, rest, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue // header line
		}
		fields := strings.Fields(rest)
		if len(fields) < 10 {
			continue
		}
		var c trafficCounters
		var errs [4]error
		c.rxBytes, errs[0] = strconv.ParseUint(fields[0], 10, 64)
		c.rxPackets, errs[1] = strconv.ParseUint(fields[1], 10, 64)
		c.txBytes, errs[2] = strconv.ParseUint(fields[8], 10, 64)
		c.txPackets, errs[3] = strconv.ParseUint(fields[9], 10, 64)
		for _, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("failed to parse counters for %s: %w", name, err)
			}
		}
		counters[strings.TrimSpace(name)] = c
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.netdevPath, err)
	}
	return counters, nil
}

func readSysFile(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func init() {
	sysinfo.Register(sysinfo.CategoryInterfaces, func(logger logr.Logger, config sysinfo.CollectionConfig) (snapshot.Refresher, error) {
		source, err := NewInterfaceSource(logger, config)
		if err != nil {
			return nil, err
		}
		return snapshot.NewCategory(string(sysinfo.CategoryInterfaces), snapshot.Source[sysinfo.Interface](source),
			snapshot.WithQueryTimeout(config.QueryTimeout), snapshot.WithLogger(logger)), nil
	})
}
