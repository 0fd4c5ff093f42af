// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watcher reloads the config file when it changes on disk and delivers
// the new configuration on Updates. Reloads that fail to parse or
// validate are logged and dropped; the previous configuration stays in
// effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  logr.Logger
	updates chan Config
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewWatcher watches the config file at path. The file's directory is
// watched rather than the file itself so editors that replace the file
// (rename-over-write) keep triggering reloads.
func NewWatcher(path string, logger logr.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		if cerr := fsWatcher.Close(); cerr != nil {
			logger.Error(cerr, "failed to close fs watcher")
		}
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		watcher: fsWatcher,
		logger:  logger.WithName("config.watcher"),
		updates: make(chan Config, 1),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Updates delivers each successfully reloaded configuration. The channel
// holds one pending update; when reloads outpace the consumer only the
// newest survives.
func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

// Close stops watching and closes the updates channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
		close(w.updates)
	})
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error(err, "ignoring config reload", "path", w.path)
		return
	}

	// Drop the stale pending update, if any, then deliver.
	select {
	case <-w.updates:
	default:
	}
	select {
	case w.updates <- cfg:
		w.logger.V(1).Info("config reloaded", "path", w.path)
	case <-w.done:
	}
}
