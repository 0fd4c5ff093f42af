// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package machine assembles the per-category snapshots into the
// machine-wide inventory snapshot.
package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/hostsnap/agent/internal/config"
	"github.com/hostsnap/agent/pkg/host"
	"github.com/hostsnap/agent/pkg/snapshot"
	"github.com/hostsnap/agent/pkg/sysinfo"
	_ "github.com/hostsnap/agent/pkg/sysinfo/sources" // register category sources
)

// Machine is the root snapshot of one host: a fixed set of category
// snapshots plus the host's identity. Categories excluded by the
// options are nil.
type Machine struct {
	Host host.Info

	Processes  *snapshot.Category[sysinfo.Process]
	Threads    *snapshot.Category[sysinfo.Thread]
	Memory     *snapshot.Category[sysinfo.MemoryInfo]
	Mounts     *snapshot.Category[sysinfo.Mount]
	Interfaces *snapshot.Category[sysinfo.Interface]
	Users      *snapshot.Category[sysinfo.User]
	Kernel     *snapshot.Category[sysinfo.KernelInfo]

	root *snapshot.Root
}

// Options configures which categories a Machine snapshots and where
// their instrumentation files live.
type Options struct {
	Collection sysinfo.CollectionConfig
	HostPaths  host.Paths
	// Categories selects the categories to include; empty means all.
	Categories []string
	// MaxConcurrent bounds the concurrent refresh fan-out; 0 means
	// unbounded.
	MaxConcurrent int
}

// OptionsFromConfig translates the agent configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Collection:    cfg.CollectionConfig(),
		HostPaths:     cfg.HostPaths(),
		Categories:    cfg.Categories,
		MaxConcurrent: cfg.MaxConcurrent,
	}
}

// New builds a Machine. Host identity is collected once here; the
// category snapshots start empty until the first refresh. Each enabled
// category is constructed through its registered source factory so the
// registry stays the single place category wiring lives.
func New(logger logr.Logger, opts Options) (*Machine, error) {
	opts.Collection.ApplyDefaults()

	requested := make([]sysinfo.CategoryName, 0, len(opts.Categories))
	seen := make(map[sysinfo.CategoryName]bool, len(opts.Categories))
	for _, name := range opts.Categories {
		cat := sysinfo.CategoryName(name)
		if seen[cat] {
			continue
		}
		seen[cat] = true
		requested = append(requested, cat)
	}
	if len(requested) == 0 {
		requested = sysinfo.Available()
	}

	m := &Machine{
		Host: host.Collect(opts.HostPaths),
	}
	catLogger := logger.WithName("category")
	categories := make([]snapshot.Refresher, 0, len(requested))

	for _, name := range requested {
		factory, err := sysinfo.GetSource(name)
		if err != nil {
			return nil, err
		}
		category, err := factory(catLogger, opts.Collection)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s category: %w", name, err)
		}
		if err := m.attach(name, category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}

	m.root = snapshot.NewRoot(categories,
		snapshot.WithMaxConcurrent(opts.MaxConcurrent),
		snapshot.WithRootLogger(logger))
	return m, nil
}

// attach binds a registry-built category to its typed field.
func (m *Machine) attach(name sysinfo.CategoryName, category snapshot.Refresher) error {
	switch c := category.(type) {
	case *snapshot.Category[sysinfo.Process]:
		m.Processes = c
	case *snapshot.Category[sysinfo.Thread]:
		m.Threads = c
	case *snapshot.Category[sysinfo.MemoryInfo]:
		m.Memory = c
	case *snapshot.Category[sysinfo.Mount]:
		m.Mounts = c
	case *snapshot.Category[sysinfo.Interface]:
		m.Interfaces = c
	case *snapshot.Category[sysinfo.User]:
		m.Users = c
	case *snapshot.Category[sysinfo.KernelInfo]:
		m.Kernel = c
	default:
		return fmt.Errorf("category %s has unexpected snapshot type %T", name, category)
	}
	return nil
}

// Refresh brings every category up to date sequentially. See
// snapshot.Root.Refresh for the failure policy.
func (m *Machine) Refresh(ctx context.Context) error {
	return m.root.Refresh(ctx)
}

// RefreshConcurrent brings every category up to date concurrently,
// returning once all have settled. See snapshot.Root.RefreshConcurrent.
func (m *Machine) RefreshConcurrent(ctx context.Context) error {
	return m.root.RefreshConcurrent(ctx)
}

// Freshness is the refresh time of the stalest category; zero until
// every category has refreshed at least once.
func (m *Machine) Freshness() time.Time {
	return m.root.Freshness()
}

// Categories returns the included category snapshots in refresh order.
func (m *Machine) Categories() []snapshot.Refresher {
	return m.root.Categories()
}
