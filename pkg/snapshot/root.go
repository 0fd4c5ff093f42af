// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Refresher is the category contract the Root composes over. *Category
// implements it for any record type.
type Refresher interface {
	Name() string
	Refresh(ctx context.Context) error
	LastUpdated() time.Time
	Changed() bool
}

// Root composes a fixed set of category snapshots behind a single
// refresh call. The set is established at construction and does not
// change afterwards; the Root exclusively owns its categories.
type Root struct {
	categories    []Refresher
	maxConcurrent int
	logger        logr.Logger
}

type rootOptions struct {
	maxConcurrent int
	logger        logr.Logger
}

// RootOption configures a Root at construction time.
type RootOption func(*rootOptions)

// WithMaxConcurrent bounds how many categories RefreshConcurrent queries
// at once. Unbounded fan-out is fine for a handful of categories but can
// overwhelm the instrumentation layer when composing dozens. Zero means
// unbounded.
func WithMaxConcurrent(n int) RootOption {
	return func(o *rootOptions) {
		o.maxConcurrent = n
	}
}

// WithRootLogger sets the logger used for refresh diagnostics.
func WithRootLogger(logger logr.Logger) RootOption {
	return func(o *rootOptions) {
		o.logger = logger
	}
}

// NewRoot creates a Root over the given categories. Refresh order is the
// argument order.
func NewRoot(categories []Refresher, opts ...RootOption) *Root {
	options := rootOptions{
		logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Root{
		categories:    categories,
		maxConcurrent: options.maxConcurrent,
		logger:        options.logger.WithName("root"),
	}
}

// Categories returns the composed categories in refresh order.
func (r *Root) Categories() []Refresher {
	return r.categories
}

// Refresh refreshes every category sequentially, in registration order,
// on the calling goroutine. A category's failure does not prevent the
// remaining categories from being attempted; all failures are collected
// into the returned *AggregateError. Returns nil when every category
// refreshed.
func (r *Root) Refresh(ctx context.Context) error {
	var failures []*QueryError
	for _, c := range r.categories {
		if err := c.Refresh(ctx); err != nil {
			r.logger.Error(err, "category refresh failed", "category", c.Name())
			failures = append(failures, asQueryError(c.Name(), err))
		}
	}
	return aggregate(failures)
}

// RefreshConcurrent refreshes every category concurrently and returns
// once all of them have settled, successfully or not. There is no
// ordering between sibling refreshes; categories are independent. The
// failure policy matches Refresh: one category's failure cancels
// nothing, and all failures are collected into the returned
// *AggregateError.
func (r *Root) RefreshConcurrent(ctx context.Context) error {
	var sem chan struct{}
	if r.maxConcurrent > 0 {
		sem = make(chan struct{}, r.maxConcurrent)
	}

	errs := make([]error, len(r.categories))
	var wg sync.WaitGroup
	for i, c := range r.categories {
		wg.Add(1)
		go func(i int, c Refresher) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			errs[i] = c.Refresh(ctx)
		}(i, c)
	}
	wg.Wait()

	var failures []*QueryError
	for i, err := range errs {
		if err != nil {
			r.logger.Error(err, "category refresh failed", "category", r.categories[i].Name())
			failures = append(failures, asQueryError(r.categories[i].Name(), err))
		}
	}
	return aggregate(failures)
}

// Freshness returns the aggregate's freshness: the minimum of the
// categories' last refresh times. The zero time means at least one
// category has never been refreshed (or the Root is empty).
func (r *Root) Freshness() time.Time {
	var min time.Time
	for i, c := range r.categories {
		t := c.LastUpdated()
		if t.IsZero() {
			return time.Time{}
		}
		if i == 0 || t.Before(min) {
			min = t
		}
	}
	return min
}

func asQueryError(category string, err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return &QueryError{Category: category, Err: err}
}

func aggregate(failures []*QueryError) error {
	if len(failures) == 0 {
		return nil
	}
	return &AggregateError{Errors: failures}
}
