// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostsnap/agent/pkg/snapshot"
)

type thread struct {
	TID int
}

func TestRootRefreshIsSequentialAndOrdered(t *testing.T) {
	var mu sync.Mutex
	var order []string
	recordingSource := func(name string) snapshot.SourceFunc[process] {
		return func(ctx context.Context) ([]process, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return []process{{PID: 1}}, nil
		}
	}

	root := snapshot.NewRoot([]snapshot.Refresher{
		snapshot.NewCategory[process]("processes", recordingSource("processes")),
		snapshot.NewCategory[process]("services", recordingSource("services")),
		snapshot.NewCategory[process]("users", recordingSource("users")),
	})

	require.NoError(t, root.Refresh(context.Background()))
	require.NoError(t, root.Refresh(context.Background()))

	assert.Equal(t,
		[]string{"processes", "services", "users", "processes", "services", "users"},
		order, "sequential refresh must follow registration order every time")
}

func TestRootRefreshContinuesPastFailures(t *testing.T) {
	boom := errors.New("access denied")
	failing := snapshot.NewCategory[process]("services",
		snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
			return nil, boom
		}))
	healthy := snapshot.NewCategory[process]("processes",
		snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
			return []process{{PID: 10}}, nil
		}))

	root := snapshot.NewRoot([]snapshot.Refresher{failing, healthy})

	err := root.Refresh(context.Background())
	require.Error(t, err)

	var agg *snapshot.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"services"}, agg.FailedCategories())
	assert.ErrorIs(t, err, boom)

	assert.NotEmpty(t, healthy.Records(), "categories after a failing one must still refresh")
	assert.False(t, healthy.LastUpdated().IsZero())
}

func TestRootRefreshConcurrentFailureIsolation(t *testing.T) {
	boom := errors.New("query timed out")
	failingSource := &scriptedSource[process]{
		results: [][]process{{{PID: 10}}, nil},
		errs:    []error{nil, boom},
	}
	okSource := &scriptedSource[thread]{
		results: [][]thread{{{TID: 1}}, {{TID: 1}, {TID: 2}}},
	}

	processes := snapshot.NewCategory[process]("processes", failingSource)
	threads := snapshot.NewCategory[thread]("threads", okSource)
	root := snapshot.NewRoot([]snapshot.Refresher{processes, threads})

	require.NoError(t, root.RefreshConcurrent(context.Background()))
	beforeRecords, beforeTime, beforeChanged := processes.State()

	err := root.RefreshConcurrent(context.Background())
	require.Error(t, err)
	var agg *snapshot.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"processes"}, agg.FailedCategories())

	// The failing category is byte-for-byte its pre-call state.
	afterRecords, afterTime, afterChanged := processes.State()
	assert.Equal(t, beforeRecords, afterRecords)
	assert.Equal(t, beforeTime, afterTime)
	assert.Equal(t, beforeChanged, afterChanged)

	// The healthy sibling moved on.
	assert.Len(t, threads.Records(), 2)
	assert.True(t, threads.Changed())
}

// TestRootRefreshConcurrentWaitsForAll gives each category a different
// artificial delay and asserts the call does not return before the
// slowest category has committed.
func TestRootRefreshConcurrentWaitsForAll(t *testing.T) {
	delays := map[string]time.Duration{
		"fast":   5 * time.Millisecond,
		"medium": 25 * time.Millisecond,
		"slow":   60 * time.Millisecond,
	}

	var categories []snapshot.Refresher
	for name, delay := range delays {
		delay := delay
		categories = append(categories, snapshot.NewCategory[process](name,
			snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
				time.Sleep(delay)
				return []process{{PID: 1}}, nil
			})))
	}

	root := snapshot.NewRoot(categories)
	start := time.Now()
	require.NoError(t, root.RefreshConcurrent(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, delays["slow"],
		"fan-in must wait for the slowest category")
	for _, c := range root.Categories() {
		assert.False(t, c.LastUpdated().IsZero(),
			"category %s must be settled when RefreshConcurrent returns", c.Name())
	}
}

func TestRootRefreshConcurrentBounded(t *testing.T) {
	const bound = 2

	var inFlight, peak atomic.Int32
	var categories []snapshot.Refresher
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		categories = append(categories, snapshot.NewCategory[process](name,
			snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil, nil
			})))
	}

	root := snapshot.NewRoot(categories, snapshot.WithMaxConcurrent(bound))
	require.NoError(t, root.RefreshConcurrent(context.Background()))

	assert.LessOrEqual(t, peak.Load(), int32(bound))
}

// TestRootProcessChurn walks a two-category processes/threads
// scenario: the second refresh replaces PID 30 with PID 40 while threads
// return the same five rows.
func TestRootProcessChurn(t *testing.T) {
	processSource := &scriptedSource[process]{
		results: [][]process{
			{{PID: 10}, {PID: 20}, {PID: 30}},
			{{PID: 10}, {PID: 20}, {PID: 40}},
		},
	}
	threadRows := []thread{{TID: 1}, {TID: 2}, {TID: 3}, {TID: 4}, {TID: 5}}
	threadSource := &scriptedSource[thread]{
		results: [][]thread{threadRows, threadRows},
	}

	processes := snapshot.NewCategory[process]("processes", processSource)
	threads := snapshot.NewCategory[thread]("threads", threadSource)
	root := snapshot.NewRoot([]snapshot.Refresher{processes, threads})

	before := time.Now()
	require.NoError(t, root.Refresh(context.Background()))
	assert.False(t, processes.Changed())
	assert.False(t, threads.Changed())
	assert.False(t, processes.LastUpdated().Before(before))
	assert.False(t, threads.LastUpdated().Before(before))

	require.NoError(t, root.Refresh(context.Background()))
	assert.True(t, processes.Changed())
	assert.False(t, threads.Changed())
	assert.Len(t, threads.Records(), 5)
}

func TestRootFreshness(t *testing.T) {
	a := snapshot.NewCategory[process]("a",
		snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
			return nil, nil
		}))
	b := snapshot.NewCategory[process]("b",
		snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
			return nil, nil
		}))
	root := snapshot.NewRoot([]snapshot.Refresher{a, b})

	assert.True(t, root.Freshness().IsZero(), "never-refreshed aggregate has no freshness")

	require.NoError(t, a.Refresh(context.Background()))
	assert.True(t, root.Freshness().IsZero(), "one stale category pins freshness at never")

	require.NoError(t, b.Refresh(context.Background()))
	freshness := root.Freshness()
	assert.Equal(t, a.LastUpdated(), freshness,
		"freshness is the oldest category refresh time")
	assert.False(t, freshness.After(b.LastUpdated()))
}

func TestAggregateErrorMessage(t *testing.T) {
	agg := &snapshot.AggregateError{Errors: []*snapshot.QueryError{
		{Category: "fans", Err: errors.New("no such table")},
		{Category: "batteries", Err: errors.New("permission denied")},
	}}

	msg := agg.Error()
	assert.Contains(t, msg, "2 categories failed")
	assert.Contains(t, msg, `"fans"`)
	assert.Contains(t, msg, `"batteries"`)

	qe := &snapshot.QueryError{Category: "fans", Err: errors.New("no such table")}
	single := &snapshot.AggregateError{Errors: []*snapshot.QueryError{qe}}
	assert.Equal(t, qe.Error(), single.Error())
}
