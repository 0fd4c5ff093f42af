// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sysinfo declares the inventory categories and record shapes
// collected from the host, plus the registry of their sources.
package sysinfo

import "time"

// CategoryName identifies one inventory category.
type CategoryName string

const (
	CategoryProcesses  CategoryName = "processes"
	CategoryThreads    CategoryName = "threads"
	CategoryMemory     CategoryName = "memory"
	CategoryMounts     CategoryName = "mounts"
	CategoryInterfaces CategoryName = "interfaces"
	CategoryUsers      CategoryName = "users"
	CategoryKernel     CategoryName = "kernel"
)

// Process is one row of the process table, read from /proc/[pid].
type Process struct {
	PID     int32  `json:"pid"`
	PPID    int32  `json:"ppid"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Cmdline string `json:"cmdline,omitempty"`
	// Threads is the thread count from /proc/[pid]/stat field 20
	Threads int32 `json:"threads"`
	// VmRSSKB is the resident set size in kB from /proc/[pid]/status
	VmRSSKB uint64 `json:"vm_rss_kb"`
	// StartTicks is the process start time in clock ticks since boot
	// (field 22 of /proc/[pid]/stat)
	StartTicks uint64 `json:"start_ticks"`
}

// Thread is one row of the thread table, read from /proc/[pid]/task/[tid].
type Thread struct {
	TID   int32  `json:"tid"`
	PID   int32  `json:"pid"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// MemoryInfo summarizes /proc/meminfo. All values are in kB as reported
// by the kernel.
type MemoryInfo struct {
	MemTotalKB     uint64 `json:"mem_total_kb"`
	MemFreeKB      uint64 `json:"mem_free_kb"`
	MemAvailableKB uint64 `json:"mem_available_kb"`
	BuffersKB      uint64 `json:"buffers_kb"`
	CachedKB       uint64 `json:"cached_kb"`
	SwapTotalKB    uint64 `json:"swap_total_kb"`
	SwapFreeKB     uint64 `json:"swap_free_kb"`
}

// Mount is one mounted volume from /proc/self/mounts.
type Mount struct {
	Device     string `json:"device"`
	MountPoint string `json:"mount_point"`
	FSType     string `json:"fs_type"`
	Options    string `json:"options"`
}

// Interface is one network interface from /sys/class/net plus its
// /proc/net/dev traffic counters.
type Interface struct {
	Name      string `json:"name"`
	MTU       int32  `json:"mtu"`
	Address   string `json:"address,omitempty"`
	OperState string `json:"oper_state"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
}

// User is one local account from /etc/passwd.
type User struct {
	Name  string `json:"name"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
	GECOS string `json:"gecos,omitempty"`
	Home  string `json:"home"`
	Shell string `json:"shell"`
}

// KernelInfo describes the running kernel, from uname(2) and
// /proc/sys/kernel.
type KernelInfo struct {
	Sysname  string `json:"sysname"`
	Release  string `json:"release"`
	Version  string `json:"version"`
	Machine  string `json:"machine"`
	Hostname string `json:"hostname"`
}

// CollectionConfig carries the host paths sources read from and the
// per-query deadline. Paths are overridable for containerized
// deployments where the host filesystems are bind-mounted elsewhere.
type CollectionConfig struct {
	HostProcPath string
	HostSysPath  string
	HostEtcPath  string
	QueryTimeout time.Duration
}

const (
	defaultProcPath     = "/proc"
	defaultSysPath      = "/sys"
	defaultEtcPath      = "/etc"
	defaultQueryTimeout = 10 * time.Second
)

// ApplyDefaults fills in any unset field.
func (c *CollectionConfig) ApplyDefaults() {
	if c.HostProcPath == "" {
		c.HostProcPath = defaultProcPath
	}
	if c.HostSysPath == "" {
		c.HostSysPath = defaultSysPath
	}
	if c.HostEtcPath == "" {
		c.HostEtcPath = defaultEtcPath
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
}
