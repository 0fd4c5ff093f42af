// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package snapshot implements the category snapshot and refresh
// orchestration primitives used to assemble host-state inventories.
//
// A Category holds the most recent rows returned by a Source for one
// inventory class, together with the time of the last successful refresh
// and a flag indicating whether that refresh changed the row set. A Root
// composes many categories behind a single refresh call, sequential or
// concurrent.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// Source returns the current rows for one inventory category.
// Implementations must tolerate concurrent Query calls from sibling
// category refreshes.
type Source[T any] interface {
	Query(ctx context.Context) ([]T, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc[T any] func(ctx context.Context) ([]T, error)

func (f SourceFunc[T]) Query(ctx context.Context) ([]T, error) {
	return f(ctx)
}

// state is a single consistent reading of a category. Refresh commits a
// new state by swapping the pointer, so readers never observe records
// from one refresh alongside the timestamp or change flag of another.
type state[T any] struct {
	records     []T
	lastUpdated time.Time
	changed     bool
	digest      uint64
}

// Category is the snapshot of one inventory category. The zero state is
// empty: no records, zero lastUpdated, changed false. It is mutated only
// by Refresh; concurrent Refresh calls on the same instance are
// serialized internally.
type Category[T any] struct {
	name    string
	source  Source[T]
	timeout time.Duration
	logger  logr.Logger

	// refreshMu serializes writers. Readers go through the atomic
	// pointer and take no lock.
	refreshMu sync.Mutex
	current   atomic.Pointer[state[T]]
}

type categoryOptions struct {
	timeout time.Duration
	logger  logr.Logger
}

// CategoryOption configures a Category at construction time.
type CategoryOption func(*categoryOptions)

// WithQueryTimeout bounds each Source.Query call. The underlying
// instrumentation layer can hang; a timed-out query counts as a query
// failure and leaves the snapshot untouched. Zero disables the bound.
func WithQueryTimeout(d time.Duration) CategoryOption {
	return func(o *categoryOptions) {
		o.timeout = d
	}
}

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(logger logr.Logger) CategoryOption {
	return func(o *categoryOptions) {
		o.logger = logger
	}
}

// NewCategory creates an empty snapshot for the named category backed by
// source.
func NewCategory[T any](name string, source Source[T], opts ...CategoryOption) *Category[T] {
	options := categoryOptions{
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Category[T]{
		name:    name,
		source:  source,
		timeout: options.timeout,
		logger:  options.logger.WithName(name),
	}
}

func (c *Category[T]) Name() string {
	return c.name
}

// Refresh queries the source and, on success, commits the new rows, the
// refresh time and the recomputed change flag as one atomic swap. On
// failure the prior state is left completely untouched and a *QueryError
// is returned.
//
// The change flag is true when the new rows differ from the previous
// rows as an unordered multiset of record contents. The first successful
// population reports changed=false: there is no prior reading to differ
// from.
func (c *Category[T]) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	queryCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	records, err := c.source.Query(queryCtx)
	if err != nil {
		c.logger.V(1).Info("query failed", "error", err)
		return &QueryError{Category: c.name, Err: err}
	}

	digest, err := multisetDigest(records)
	if err != nil {
		return &QueryError{Category: c.name, Err: fmt.Errorf("failed to digest records: %w", err)}
	}

	prev := c.current.Load()
	next := &state[T]{
		records:     records,
		lastUpdated: time.Now(),
		digest:      digest,
	}
	if prev != nil {
		next.changed = prev.digest != digest
	}
	c.current.Store(next)

	c.logger.V(2).Info("refreshed",
		"records", len(records), "changed", next.changed, "duration", time.Since(start))
	return nil
}

// State returns the records, last refresh time and change flag from a
// single committed refresh. Callers must not mutate the returned slice.
func (c *Category[T]) State() ([]T, time.Time, bool) {
	s := c.current.Load()
	if s == nil {
		return nil, time.Time{}, false
	}
	return s.records, s.lastUpdated, s.changed
}

// Records returns the rows from the most recent successful refresh.
// Callers must not mutate the returned slice.
func (c *Category[T]) Records() []T {
	records, _, _ := c.State()
	return records
}

// LastUpdated returns the time of the most recent successful refresh,
// or the zero time if the category has never been refreshed.
func (c *Category[T]) LastUpdated() time.Time {
	_, lastUpdated, _ := c.State()
	return lastUpdated
}

// Changed reports whether the most recent refresh produced a record set
// that differs from the one before it.
func (c *Category[T]) Changed() bool {
	_, _, changed := c.State()
	return changed
}
