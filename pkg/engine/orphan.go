package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klutch-io/klutch-controller/pkg/adapter"
	"github.com/klutch-io/klutch-controller/pkg/config"
	"github.com/klutch-io/klutch-controller/pkg/metrics"
)

// OrphanSweeper is an optional periodic task, gated by
// common.scan_orphans_interval, that reverts any autoscaler carrying the
// in-progress status annotation while no sequence is active. It refuses to
// run while a sequence is active, since adoption (not the sweeper) owns
// recovery in that case.
type OrphanSweeper struct {
	cfg      config.CommonConfig
	adapter  adapter.Adapter
	interval time.Duration
	active   func() bool
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewOrphanSweeper constructs a sweeper that ticks every interval. active
// reports whether a sequence is currently active (the engine's shared flag).
func NewOrphanSweeper(cfg config.CommonConfig, a adapter.Adapter, interval time.Duration, active func() bool, log *slog.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		cfg:      cfg,
		adapter:  a,
		interval: interval,
		active:   active,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name implements the supervisor Component contract.
func (s *OrphanSweeper) Name() string { return "orphan-sweeper" }

// Stop requests cooperative shutdown. Safe to call multiple times.
func (s *OrphanSweeper) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Alive implements the supervisor Component contract.
func (s *OrphanSweeper) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Run ticks every interval until stopped, sweeping on each tick.
func (s *OrphanSweeper) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Warn("orphan sweep skipped", "error", err)
			}
		}
	}
}

// Sweep performs one orphan sweep: list all autoscalers, revert any that
// carry the status annotation. It is exported so it can be unit tested
// without waiting on the ticker.
func (s *OrphanSweeper) Sweep(ctx context.Context) error {
	if s.active() {
		return ErrOrphanSweepConflict
	}
	return sweepOrphans(ctx, s.cfg, s.adapter, s.log)
}

// sweepOrphans reverts every autoscaler carrying the status annotation.
// Callers must ensure no sequence is active. Shared by the periodic sweeper
// and the engine's startup sweep.
func sweepOrphans(ctx context.Context, cfg config.CommonConfig, a adapter.Adapter, log *slog.Logger) error {
	hpas, err := a.ListAutoscalers(ctx)
	if err != nil {
		return fmt.Errorf("list autoscalers: %w", err)
	}

	for _, hpa := range hpas {
		raw, ok := hpa.Annotations[cfg.StatusAnnotKey]
		if !ok {
			continue
		}

		var status AutoscalerStatusData
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			log.Error("orphan sweep: unparseable status annotation", "name", hpa.Name, "namespace", hpa.Namespace, "error", err)
			continue
		}

		m := ManagedAutoscaler{Name: hpa.Name, Namespace: hpa.Namespace, Status: status}
		patch := revertHpa(cfg, hpa, m)
		if _, err := a.PatchAutoscaler(ctx, hpa.Name, hpa.Namespace, patch); err != nil {
			log.Error("orphan sweep: failed to revert", "name", hpa.Name, "namespace", hpa.Namespace, "error", err)
			metrics.RevertErrors.Inc()
			continue
		}

		log.Info("orphan sweep: reverted autoscaler", "name", hpa.Name, "namespace", hpa.Namespace, "originalMinReplicas", status.OriginalMinReplicas)
		metrics.OrphansReverted.Inc()
	}

	return nil
}
