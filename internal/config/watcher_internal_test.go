// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reloadFixture(t *testing.T) (string, *[]string, func(updates chan Config) *Watcher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interval: 10s\n"), 0o644))

	logged := &[]string{}
	logger := funcr.New(func(_, args string) {
		*logged = append(*logged, args)
	}, funcr.Options{Verbosity: 1})

	return path, logged, func(updates chan Config) *Watcher {
		return &Watcher{
			path:    path,
			logger:  logger,
			updates: updates,
			done:    make(chan struct{}),
		}
	}
}

func TestReloadLogsDelivery(t *testing.T) {
	_, logged, newWatcher := reloadFixture(t)

	w := newWatcher(make(chan Config, 1))
	w.reload()

	require.Len(t, w.updates, 1)
	require.Len(t, *logged, 1)
	assert.Contains(t, (*logged)[0], "config reloaded")
}

func TestReloadAbandonedSendDoesNotLog(t *testing.T) {
	_, logged, newWatcher := reloadFixture(t)

	// An unbuffered channel with no consumer forces the send to lose to
	// the closed done channel.
	w := newWatcher(make(chan Config))
	close(w.done)
	w.reload()

	assert.Empty(t, *logged)
}
