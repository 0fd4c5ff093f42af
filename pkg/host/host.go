// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package host provides utilities for host and machine identification
package host

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Paths locates the host filesystems identity is read from. Overridable
// for containerized agents with bind-mounted host paths.
type Paths struct {
	Proc string
	Sys  string
	Etc  string
	Var  string
}

// DefaultPaths returns the paths of an agent running directly on the
// host.
func DefaultPaths() Paths {
	return Paths{
		Proc: "/proc",
		Sys:  "/sys",
		Etc:  "/etc",
		Var:  "/var",
	}
}

// Info identifies the machine a snapshot was taken on.
type Info struct {
	Hostname   string    `json:"hostname"`
	MachineID  string    `json:"machine_id,omitempty"`
	SystemUUID string    `json:"system_uuid,omitempty"`
	BootTime   time.Time `json:"boot_time,omitzero"`
}

// Collect gathers host identity best-effort: fields that cannot be read
// (missing files, insufficient privileges) are left zero rather than
// failing the whole lookup.
func Collect(paths Paths) Info {
	var info Info
	if hostname, err := Hostname(paths); err == nil {
		info.Hostname = hostname
	}
	if id, err := MachineID(paths); err == nil {
		info.MachineID = id
	}
	if uuid, err := SystemUUID(paths); err == nil {
		info.SystemUUID = uuid
	}
	if bootTime, err := BootTime(paths); err == nil {
		info.BootTime = bootTime
	}
	return info
}

// Hostname returns the hostname reported by the kernel. In particular
// it returns the hostname of the host machine when inside a container
// with the host /proc bind-mounted.
func Hostname(paths Paths) (string, error) {
	data, err := os.ReadFile(filepath.Join(paths.Proc, "sys/kernel/hostname"))
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	return os.Hostname()
}

// MachineID returns a unique machine ID of the local system that is set
// during installation or boot.
// It attempts multiple sources in order of preference:
// 1. /etc/machine-id (systemd standard, most reliable)
// 2. /var/lib/dbus/machine-id (D-Bus machine ID, fallback)
func MachineID(paths Paths) (string, error) {
	if data, err := os.ReadFile(filepath.Join(paths.Etc, "machine-id")); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	if data, err := os.ReadFile(filepath.Join(paths.Var, "lib/dbus/machine-id")); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	return "", fmt.Errorf("machine-id not found")
}

// SystemUUID reads the hardware UUID from DMI. This is distinct from the
// machine ID and represents the hardware or virtual machine platform.
// Reading it typically requires root.
func SystemUUID(paths Paths) (string, error) {
	data, err := os.ReadFile(filepath.Join(paths.Sys, "class/dmi/id/product_uuid"))
	if err == nil {
		if uuid := strings.TrimSpace(string(data)); uuid != "" {
			return uuid, nil
		}
	}
	return "", fmt.Errorf("system uuid not found")
}

// BootTime returns the kernel boot time from the btime field of
// /proc/stat.
func BootTime(paths Paths) (time.Time, error) {
	statPath := filepath.Join(paths.Proc, "stat")
	f, err := os.Open(statPath)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "btime" {
			secs, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("failed to parse btime: %w", err)
			}
			return time.Unix(secs, 0), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, fmt.Errorf("btime not found in %s", statPath)
}
