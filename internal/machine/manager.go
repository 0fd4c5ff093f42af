// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/hostsnap/agent/internal/config"
	"github.com/hostsnap/agent/pkg/snapshot"
)

// Manager refreshes a Machine on a fixed interval and rebuilds it when
// a new configuration arrives.
type Manager struct {
	logger   logr.Logger
	interval time.Duration
	updates  <-chan config.Config

	mu      sync.RWMutex
	machine *Machine
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Interval between refresh cycles.
	Interval time.Duration
	// Updates optionally delivers reloaded configurations; nil
	// disables live reconfiguration.
	Updates <-chan config.Config
}

// NewManager creates a manager around an already-built machine.
func NewManager(logger logr.Logger, m *Machine, cfg ManagerConfig) (*Manager, error) {
	if m == nil {
		return nil, fmt.Errorf("machine is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		logger:   logger.WithName("machine-manager"),
		interval: interval,
		updates:  cfg.Updates,
		machine:  m,
	}, nil
}

// Machine returns the current machine snapshot. The returned value is
// replaced, not mutated, on reconfiguration, so holding it across a
// config reload only means reading a retired snapshot.
func (mgr *Manager) Machine() *Machine {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.machine
}

// Start runs refresh cycles until the context is cancelled. An initial
// refresh happens immediately; failed cycles are logged and retried on
// the next tick.
func (mgr *Manager) Start(ctx context.Context) error {
	mgr.logger.Info("starting snapshot manager", "interval", mgr.interval)

	mgr.refreshOnce(ctx)

	ticker := time.NewTicker(mgr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mgr.logger.Info("stopping snapshot manager")
			return nil
		case <-ticker.C:
			mgr.refreshOnce(ctx)
		case cfg, ok := <-mgr.updates:
			if !ok {
				mgr.updates = nil
				continue
			}
			mgr.applyConfig(cfg, ticker)
		}
	}
}

func (mgr *Manager) refreshOnce(ctx context.Context) {
	m := mgr.Machine()

	start := time.Now()
	err := m.RefreshConcurrent(ctx)

	var agg *snapshot.AggregateError
	switch {
	case err == nil:
	case errors.As(err, &agg):
		mgr.logger.Error(err, "refresh cycle partially failed",
			"failed_categories", agg.FailedCategories())
	default:
		mgr.logger.Error(err, "refresh cycle failed")
		return
	}

	var changed []string
	for _, c := range m.Categories() {
		if c.Changed() {
			changed = append(changed, c.Name())
		}
	}
	mgr.logger.V(1).Info("refresh cycle complete",
		"duration", time.Since(start), "changed_categories", changed)
}

// applyConfig swaps in a machine built from the new configuration. The
// old machine keeps serving reads until the swap; if the build fails
// the old machine and interval stay in effect.
func (mgr *Manager) applyConfig(cfg config.Config, ticker *time.Ticker) {
	m, err := New(mgr.logger, OptionsFromConfig(cfg))
	if err != nil {
		mgr.logger.Error(err, "ignoring reconfiguration")
		return
	}

	mgr.mu.Lock()
	mgr.machine = m
	mgr.mu.Unlock()

	if interval := time.Duration(cfg.Interval); interval > 0 && interval != mgr.interval {
		mgr.interval = interval
		ticker.Reset(interval)
	}
	mgr.logger.Info("reconfigured", "interval", mgr.interval,
		"categories", len(m.Categories()))
}
