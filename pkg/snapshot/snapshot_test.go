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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostsnap/agent/pkg/snapshot"
)

type process struct {
	PID  int
	Name string
}

// scriptedSource returns each queued result in turn, repeating the last
// one once the script runs out.
type scriptedSource[T any] struct {
	mu      sync.Mutex
	results [][]T
	errs    []error
	calls   int
}

func (s *scriptedSource[T]) Query(ctx context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.results[i], nil
}

func (s *scriptedSource[T]) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCategoryInitialState(t *testing.T) {
	c := snapshot.NewCategory[process]("processes", &scriptedSource[process]{})

	records, lastUpdated, changed := c.State()
	assert.Empty(t, records)
	assert.True(t, lastUpdated.IsZero(), "lastUpdated should be the never sentinel before first refresh")
	assert.False(t, changed)
	assert.Equal(t, "processes", c.Name())
}

func TestCategoryFirstRefreshIsNotAChange(t *testing.T) {
	source := &scriptedSource[process]{
		results: [][]process{{{PID: 10, Name: "init"}}},
	}
	c := snapshot.NewCategory[process]("processes", source)

	require.NoError(t, c.Refresh(context.Background()))

	records, lastUpdated, changed := c.State()
	assert.Len(t, records, 1)
	assert.False(t, lastUpdated.IsZero())
	assert.False(t, changed, "first population has no prior state to differ from")
}

func TestCategoryNoOpRefreshIsIdempotent(t *testing.T) {
	rows := []process{{PID: 10, Name: "init"}, {PID: 20, Name: "sshd"}}
	source := &scriptedSource[process]{
		results: [][]process{rows, rows},
	}
	c := snapshot.NewCategory[process]("processes", source)

	require.NoError(t, c.Refresh(context.Background()))
	_, first, _ := c.State()

	require.NoError(t, c.Refresh(context.Background()))
	records, second, changed := c.State()

	assert.False(t, changed, "identical record sets must not flag a change")
	assert.Equal(t, rows, records)
	assert.False(t, second.Before(first), "lastUpdated must advance on every successful refresh")
}

func TestCategoryChangeDetection(t *testing.T) {
	tests := []struct {
		name        string
		first       []process
		second      []process
		wantChanged bool
	}{
		{
			name:        "record replaced",
			first:       []process{{PID: 10}, {PID: 20}, {PID: 30}},
			second:      []process{{PID: 10}, {PID: 20}, {PID: 40}},
			wantChanged: true,
		},
		{
			name:        "record added",
			first:       []process{{PID: 10}},
			second:      []process{{PID: 10}, {PID: 20}},
			wantChanged: true,
		},
		{
			name:        "record removed",
			first:       []process{{PID: 10}, {PID: 20}},
			second:      []process{{PID: 10}},
			wantChanged: true,
		},
		{
			name:        "field changed",
			first:       []process{{PID: 10, Name: "sshd"}},
			second:      []process{{PID: 10, Name: "sshd: worker"}},
			wantChanged: true,
		},
		{
			name:        "reordered rows are not a change",
			first:       []process{{PID: 10}, {PID: 20}, {PID: 30}},
			second:      []process{{PID: 30}, {PID: 10}, {PID: 20}},
			wantChanged: false,
		},
		{
			name:        "duplicate multiplicity changed",
			first:       []process{{PID: 10}, {PID: 10}},
			second:      []process{{PID: 10}},
			wantChanged: true,
		},
		{
			name:        "both empty",
			first:       []process{},
			second:      []process{},
			wantChanged: false,
		},
		{
			name:        "emptied out",
			first:       []process{{PID: 10}},
			second:      []process{},
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &scriptedSource[process]{
				results: [][]process{tt.first, tt.second},
			}
			c := snapshot.NewCategory[process]("processes", source)

			require.NoError(t, c.Refresh(context.Background()))
			require.NoError(t, c.Refresh(context.Background()))

			assert.Equal(t, tt.wantChanged, c.Changed())
		})
	}
}

func TestCategoryFailureLeavesStateUntouched(t *testing.T) {
	queryErr := errors.New("instrumentation unavailable")
	source := &scriptedSource[process]{
		results: [][]process{{{PID: 10, Name: "init"}}, nil},
		errs:    []error{nil, queryErr},
	}
	c := snapshot.NewCategory[process]("processes", source)

	require.NoError(t, c.Refresh(context.Background()))
	beforeRecords, beforeTime, beforeChanged := c.State()

	err := c.Refresh(context.Background())
	require.Error(t, err)

	var qe *snapshot.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "processes", qe.Category)
	assert.ErrorIs(t, err, queryErr)

	afterRecords, afterTime, afterChanged := c.State()
	assert.Equal(t, beforeRecords, afterRecords)
	assert.Equal(t, beforeTime, afterTime)
	assert.Equal(t, beforeChanged, afterChanged)
}

func TestCategoryQueryTimeout(t *testing.T) {
	source := snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []process{{PID: 10}}, nil
		}
	})
	c := snapshot.NewCategory[process]("processes", source,
		snapshot.WithQueryTimeout(20*time.Millisecond))

	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, lastUpdated, _ := c.State()
	assert.True(t, lastUpdated.IsZero(), "a timed-out query must not commit")
}

// TestCategoryAtomicCommit hammers State from a reader goroutine while
// refreshes alternate between two record sets. After the first refresh
// every committed state has a non-zero timestamp, a known record set,
// and changed=true, so a torn commit would surface as a mismatched
// triple.
func TestCategoryAtomicCommit(t *testing.T) {
	setA := []process{{PID: 10, Name: "a"}}
	setB := []process{{PID: 20, Name: "b"}, {PID: 30, Name: "b"}}
	var flip int
	source := snapshot.SourceFunc[process](func(ctx context.Context) ([]process, error) {
		flip++
		if flip%2 == 0 {
			return setB, nil
		}
		return setA, nil
	})
	c := snapshot.NewCategory[process]("processes", source)
	require.NoError(t, c.Refresh(context.Background()))

	done := make(chan struct{})
	var readerErr error
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			records, lastUpdated, changed := c.State()
			if lastUpdated.IsZero() {
				readerErr = errors.New("observed zero lastUpdated after first refresh")
				return
			}
			switch len(records) {
			case len(setA), len(setB):
			default:
				readerErr = errors.New("observed record set from no committed refresh")
				return
			}
			// Every refresh after the first flips the set.
			if i > 0 && len(records) == len(setB) && !changed {
				readerErr = errors.New("observed new records with stale change flag")
				return
			}
		}
	}()

	for i := 0; i < 500; i++ {
		require.NoError(t, c.Refresh(context.Background()))
	}
	<-done
	require.NoError(t, readerErr)
}

func TestSourceFuncAdapter(t *testing.T) {
	source := snapshot.SourceFunc[int](func(ctx context.Context) ([]int, error) {
		return []int{1, 2, 3}, nil
	})

	rows, err := source.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, rows)
}
