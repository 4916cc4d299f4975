package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/klutch-io/klutch-controller/pkg/adapter"
	"github.com/klutch-io/klutch-controller/pkg/config"
	"github.com/klutch-io/klutch-controller/pkg/engine"
	"github.com/klutch-io/klutch-controller/pkg/metrics"
)

// ConfigMapPoller fires a trigger when a fresh labeled marker ConfigMap
// appears: it polls on a scan interval, takes the newest marker, validates
// it by age, and always cleans up what was listed.
type ConfigMapPoller struct {
	namespace         string
	triggerLabelKey   string
	triggerLabelValue string
	scanInterval      time.Duration
	maxAge            time.Duration
	adapter           adapter.Adapter
	triggers          chan<- engine.Trigger
	log               *slog.Logger
	now               func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewConfigMapPoller constructs a ConfigMapPoller from the common and
// trigger_config_map configuration sections.
func NewConfigMapPoller(common config.CommonConfig, cm config.TriggerConfigMapConfig, a adapter.Adapter, triggers chan<- engine.Trigger, log *slog.Logger) *ConfigMapPoller {
	return &ConfigMapPoller{
		namespace:         common.Namespace,
		triggerLabelKey:   common.TriggerMarkerLabelKey,
		triggerLabelValue: common.TriggerMarkerLabelValue,
		scanInterval:      cm.ScanInterval,
		maxAge:            cm.MaxAge,
		adapter:           a,
		triggers:          triggers,
		log:               log.With("source", "trigger-configmap"),
		now:               time.Now,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Name implements Source.
func (p *ConfigMapPoller) Name() string { return "trigger-configmap" }

// Stop implements Source. Safe to call multiple times.
func (p *ConfigMapPoller) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

// Alive implements Source.
func (p *ConfigMapPoller) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Run implements Source: polls every scanInterval until stopped.
func (p *ConfigMapPoller) Run(ctx context.Context) error {
	defer close(p.done)

	ticker := time.NewTicker(p.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

func (p *ConfigMapPoller) scan(ctx context.Context) {
	markers, err := p.adapter.ListTriggerMarkers(ctx, p.namespace, p.triggerLabelKey, p.triggerLabelValue)
	if err != nil {
		p.log.Error("failed to list trigger markers", "error", err)
		return
	}
	if len(markers) == 0 {
		p.log.Debug("no trigger markers found")
		return
	}

	newest := markers[0]
	if newest.CreationTimestamp.Time.Add(p.maxAge).Before(p.now()) {
		p.log.Warn("trigger marker expired, ignoring", "name", newest.Name, "namespace", newest.Namespace,
			"createdAt", newest.CreationTimestamp.Time, "maxAge", p.maxAge)
	} else {
		p.emit()
	}

	if err := p.adapter.DeleteTriggerMarker(ctx, newest.Name, newest.Namespace); err != nil {
		p.log.Error("failed to delete trigger marker", "name", newest.Name, "namespace", newest.Namespace, "error", err)
	}

	if len(markers) > 1 {
		p.log.Warn("more than one trigger marker found, keeping only the newest", "extra", len(markers)-1)
		for _, stale := range markers[1:] {
			if err := p.adapter.DeleteTriggerMarker(ctx, stale.Name, stale.Namespace); err != nil {
				p.log.Error("failed to delete stale trigger marker", "name", stale.Name, "namespace", stale.Namespace, "error", err)
			}
		}
	}
}

func (p *ConfigMapPoller) emit() {
	metrics.TriggersReceived.WithLabelValues(p.Name()).Inc()
	select {
	case p.triggers <- engine.Trigger{Source: p.Name()}:
		p.log.Info("trigger fired")
	default:
		p.log.Warn("trigger channel full, dropping trigger")
	}
}
