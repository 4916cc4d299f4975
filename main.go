// Command klutch-controller runs the scaling sequence controller: it
// raises the minReplicas floor of opted-in autoscalers in response to an
// external trigger, holds it for a configured duration, then reverts it.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/klutch-io/klutch-controller/pkg/adapter"
	"github.com/klutch-io/klutch-controller/pkg/config"
	"github.com/klutch-io/klutch-controller/pkg/engine"
	"github.com/klutch-io/klutch-controller/pkg/kubeclient"
	"github.com/klutch-io/klutch-controller/pkg/metrics"
	"github.com/klutch-io/klutch-controller/pkg/supervisor"
	"github.com/klutch-io/klutch-controller/pkg/trigger"
	"github.com/spf13/pflag"
)

// triggerChannelCapacity is the bounded capacity of the shared
// multi-producer trigger channel. Several pending triggers are acceptable,
// the engine coalesces them while a sequence is active.
const triggerChannelCapacity = 16

const metricsAddr = ":9090"

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var debug bool
	pflag.StringVar(&configPath, "config", "./config.yaml", "Path to configuration file")
	pflag.BoolVar(&debug, "debug", false, "Enable verbose logging")
	pflag.Parse()

	logger := newLogger(debug)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 2
	}
	if debug {
		cfg.Common.Debug = true
	}
	if cfg.Common.Debug && !debug {
		logger = newLogger(true)
		slog.SetDefault(logger)
	}

	discoveredNamespace := kubeclient.DiscoverNamespace()
	if err := cfg.ValidateNamespace(discoveredNamespace); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}

	clientset, err := kubeclient.Get()
	if err != nil {
		logger.Error("failed to build kubernetes client", "error", err)
		return 1
	}

	a := adapter.New(clientset)
	triggers := make(chan engine.Trigger, triggerChannelCapacity)

	eng := engine.New(cfg.Common, a, triggers, logger)
	components := []supervisor.Component{eng}

	if cfg.TriggerConfigMap.Enabled {
		components = append(components, trigger.NewConfigMapPoller(cfg.Common, cfg.TriggerConfigMap, a, triggers, logger))
	}
	if cfg.TriggerWebHook.Enabled {
		components = append(components, trigger.NewWebhook(cfg.TriggerWebHook, triggers, logger))
	}
	if cfg.Common.ScanOrphansInterval > 0 {
		components = append(components, engine.NewOrphanSweeper(cfg.Common, a, cfg.Common.ScanOrphansInterval, eng.Active, logger))
	}

	metrics.Serve(metricsAddr)
	engine.LogStartupSummary(cfg.Common, logger)

	sup := supervisor.New(logger, supervisor.DefaultTimeout)
	return sup.Run(context.Background(), components...)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
