// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package machine

import (
	"time"

	"github.com/hostsnap/agent/pkg/host"
	"github.com/hostsnap/agent/pkg/snapshot"
	"github.com/hostsnap/agent/pkg/sysinfo"
)

// CategoryState is the serializable view of one category snapshot.
type CategoryState[T any] struct {
	Records     []T       `json:"records"`
	LastUpdated time.Time `json:"last_updated,omitzero"`
	Changed     bool      `json:"changed"`
}

// Export is the serializable view of a machine snapshot. Excluded
// categories are omitted.
type Export struct {
	Host      host.Info `json:"host"`
	TakenAt   time.Time `json:"taken_at"`
	Freshness time.Time `json:"freshness,omitzero"`

	Processes  *CategoryState[sysinfo.Process]    `json:"processes,omitempty"`
	Threads    *CategoryState[sysinfo.Thread]     `json:"threads,omitempty"`
	Memory     *CategoryState[sysinfo.MemoryInfo] `json:"memory,omitempty"`
	Mounts     *CategoryState[sysinfo.Mount]      `json:"mounts,omitempty"`
	Interfaces *CategoryState[sysinfo.Interface]  `json:"interfaces,omitempty"`
	Users      *CategoryState[sysinfo.User]       `json:"users,omitempty"`
	Kernel     *CategoryState[sysinfo.KernelInfo] `json:"kernel,omitempty"`
}

// Export captures the current state of every category as one
// serializable value. Each category's triple is read atomically; the
// export as a whole spans whatever refreshes were committed at call
// time.
func (m *Machine) Export() Export {
	return Export{
		Host:       m.Host,
		TakenAt:    time.Now(),
		Freshness:  m.Freshness(),
		Processes:  stateOf(m.Processes),
		Threads:    stateOf(m.Threads),
		Memory:     stateOf(m.Memory),
		Mounts:     stateOf(m.Mounts),
		Interfaces: stateOf(m.Interfaces),
		Users:      stateOf(m.Users),
		Kernel:     stateOf(m.Kernel),
	}
}

func stateOf[T any](c *snapshot.Category[T]) *CategoryState[T] {
	if c == nil {
		return nil
	}
	records, lastUpdated, changed := c.State()
	if records == nil {
		records = []T{}
	}
	return &CategoryState[T]{
		Records:     records,
		LastUpdated: lastUpdated,
		Changed:     changed,
	}
}
