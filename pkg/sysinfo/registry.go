// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/hostsnap/agent/pkg/snapshot"
)

// NewCategorySource builds a ready-to-refresh category snapshot for one
// registered category.
type NewCategorySource func(logger logr.Logger, config CollectionConfig) (snapshot.Refresher, error)

var (
	registryMu     sync.RWMutex
	registry       = make(map[CategoryName]NewCategorySource)
	registryLogger = stdr.New(log.New(os.Stderr, "[sysinfo.registry] ", log.LstdFlags))
)

// Register adds a category source factory to the global registry.
//
// This is called during package initialization (typically from init()
// functions in pkg/sysinfo/sources) so categories are known before any
// machine snapshot is assembled. It panics if the category is already
// registered.
func Register(name CategoryName, factory NewCategorySource) {
	if factory == nil {
		panic(fmt.Sprintf("nil source factory for category %s", name))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source for category %s already registered", name))
	}
	registry[name] = factory
	registryLogger.V(1).Info("registered category source", "category", name)
}

// GetSource returns the factory registered for the named category.
func GetSource(name CategoryName) (NewCategorySource, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no source registered for category %q", name)
	}
	return factory, nil
}

// Available returns the registered category names in sorted order.
func Available() []CategoryName {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]CategoryName, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
