// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/hostsnap/agent/internal/config"
	"github.com/hostsnap/agent/internal/machine"
	"github.com/hostsnap/agent/pkg/snapshot"
	"github.com/hostsnap/agent/pkg/sysinfo"
	_ "github.com/hostsnap/agent/pkg/sysinfo/sources" // register category sources
)

var (
	setupLog logr.Logger

	// CLI Options (alphabetical order)
	configPath     string
	devLogging     bool
	etcPath        string
	interval       time.Duration
	listCategories bool
	maxConcurrent  int
	once           bool
	procPath       string
	sysPath        string
	varPath        string
)

func init() {
	flag.StringVar(&configPath, "config", "",
		"Path to the agent configuration file. Watched for changes unless -once is set.")
	flag.BoolVar(&devLogging, "dev-logging", false,
		"Use human-readable development logging instead of JSON.")
	flag.StringVar(&etcPath, "etc-path", "",
		"Override for the host /etc mount point.")
	flag.DurationVar(&interval, "interval", 0,
		"Override for the refresh interval in watch mode.")
	flag.BoolVar(&listCategories, "list-categories", false,
		"Print the registered inventory categories and exit.")
	flag.IntVar(&maxConcurrent, "max-concurrent", 0,
		"Bound on concurrently refreshing categories. 0 means unbounded.")
	flag.BoolVar(&once, "once", false,
		"Take a single snapshot, print it as JSON to stdout and exit.")
	flag.StringVar(&procPath, "proc-path", "",
		"Override for the host /proc mount point.")
	flag.StringVar(&sysPath, "sys-path", "",
		"Override for the host /sys mount point.")
	flag.StringVar(&varPath, "var-path", "",
		"Override for the host /var mount point.")
}

func main() {
	flag.Parse()

	zapLog, err := buildZapLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zapLog.Sync() }()
	logger := zapr.NewLogger(zapLog)
	setupLog = logger.WithName("setup")

	if listCategories {
		for _, name := range sysinfo.Available() {
			fmt.Println(name)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		setupLog.Error(err, "failed to load configuration")
		os.Exit(1)
	}

	m, err := machine.New(logger, machine.OptionsFromConfig(cfg))
	if err != nil {
		setupLog.Error(err, "failed to build machine snapshot")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		os.Exit(runOnce(ctx, m))
	}
	if err := runWatch(ctx, logger, cfg, m); err != nil {
		setupLog.Error(err, "agent exited with error")
		os.Exit(1)
	}
}

func buildZapLogger() (*zap.Logger, error) {
	if devLogging {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig layers the flag overrides over the config file (or the
// defaults when no file is given).
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if procPath != "" {
		cfg.Paths.Proc = procPath
	}
	if sysPath != "" {
		cfg.Paths.Sys = sysPath
	}
	if etcPath != "" {
		cfg.Paths.Etc = etcPath
	}
	if varPath != "" {
		cfg.Paths.Var = varPath
	}
	if interval > 0 {
		cfg.Interval = config.Duration(interval)
	}
	if maxConcurrent > 0 {
		cfg.MaxConcurrent = maxConcurrent
	}
	return cfg, cfg.Validate()
}

// runOnce takes one concurrent snapshot and prints it. Partial failure
// is expected and reported on stderr while the successfully refreshed
// categories are still printed.
func runOnce(ctx context.Context, m *machine.Machine) int {
	exitCode := 0
	if err := m.RefreshConcurrent(ctx); err != nil {
		var agg *snapshot.AggregateError
		if errors.As(err, &agg) {
			setupLog.Error(err, "snapshot incomplete",
				"failed_categories", agg.FailedCategories())
		} else {
			setupLog.Error(err, "snapshot failed")
		}
		exitCode = 1
	}

	data, err := json.MarshalIndent(m.Export(), "", "  ")
	if err != nil {
		setupLog.Error(err, "failed to encode snapshot")
		return 1
	}
	fmt.Println(string(data))
	return exitCode
}

func runWatch(ctx context.Context, logger logr.Logger, cfg config.Config, m *machine.Machine) error {
	var updates <-chan config.Config
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger)
		if err != nil {
			return fmt.Errorf("failed to watch config file: %w", err)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Error(err, "failed to close config watcher")
			}
		}()
		updates = watcher.Updates()
	}

	mgr, err := machine.NewManager(logger, m, machine.ManagerConfig{
		Interval: time.Duration(cfg.Interval),
		Updates:  updates,
	})
	if err != nil {
		return err
	}
	return mgr.Start(ctx)
}
