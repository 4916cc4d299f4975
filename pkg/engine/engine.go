// Package engine implements the single-writer scaling sequence state
// machine: it consumes triggers and drives scale-up, reconcile and revert
// across the set of managed autoscalers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klutch-io/klutch-controller/pkg/adapter"
	"github.com/klutch-io/klutch-controller/pkg/config"
	"github.com/klutch-io/klutch-controller/pkg/metrics"
)

// Engine is the scaling sequence engine. It implements the supervisor's
// Component contract: Name, Run, Stop, Alive.
type Engine struct {
	cfg      config.CommonConfig
	adapter  adapter.Adapter
	triggers <-chan Trigger
	log      *slog.Logger
	now      func() time.Time

	active atomic.Bool
	stop   chan struct{}
	done   chan struct{}
}

// New constructs an Engine. triggers is the shared multi-producer channel
// that trigger sources enqueue onto.
func New(cfg config.CommonConfig, a adapter.Adapter, triggers <-chan Trigger, log *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		adapter:  a,
		triggers: triggers,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// LogStartupSummary logs the resolved configuration once before the
// supervisor starts the components.
func LogStartupSummary(cfg config.CommonConfig, log *slog.Logger) {
	log.Info("klutch-controller starting",
		"namespace", cfg.Namespace,
		"duration", cfg.Duration,
		"reconcileInterval", cfg.ReconcileInterval,
		"scanOrphansInterval", cfg.ScanOrphansInterval,
		"enabledKey", cfg.EnabledKey,
		"enabledValue", cfg.EnabledValue,
		"statusAnnotKey", cfg.StatusAnnotKey,
		"statusConfigMapName", cfg.StatusConfigMapName,
	)
}

// Name implements the supervisor Component contract.
func (e *Engine) Name() string { return "engine" }

// Stop requests cooperative shutdown. Safe to call multiple times.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

// Alive reports whether Run has returned.
func (e *Engine) Alive() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Active reports whether a sequence is currently active. Exposed read-only
// for trigger sources and the orphan sweeper.
func (e *Engine) Active() bool { return e.active.Load() }

// Run executes the state machine until stopped. It performs startup
// adoption before entering the loop.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	state := stateIdle
	var seq SequenceState

	adopted, active, err := e.adopt(ctx)
	if err != nil {
		e.log.Error("startup adoption failed", "error", err)
		return err
	}
	if active {
		seq = adopted
		e.active.Store(true)
		state = stateActive
		e.log.Info("adopted persisted sequence on startup", "startedAt", seq.StartedAt, "managed", len(seq.Managed))
	} else {
		// No status object to adopt, so any autoscaler still carrying the
		// status annotation is an orphan and must be reverted before the
		// engine goes idle.
		if err := sweepOrphans(ctx, e.cfg, e.adapter, e.log); err != nil {
			e.log.Error("startup orphan sweep failed", "error", err)
		}
	}

	for {
		select {
		case <-e.stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		switch state {
		case stateIdle:
			state = e.runIdle(ctx)
		case stateStartSequence:
			seq, state = e.runStartSequence(ctx)
		case stateActive:
			state = e.runActive(ctx, seq)
		case stateReconcile:
			e.runReconcile(ctx, seq)
			state = stateActive
		case stateEndSequence:
			e.runEndSequence(ctx, seq)
			seq = SequenceState{}
			state = stateIdle
		}
	}
}

func (e *Engine) runIdle(ctx context.Context) sequenceState {
	select {
	case <-e.stop:
		return stateIdle
	case <-ctx.Done():
		return stateIdle
	case <-e.triggers:
		e.log.Info("trigger received, starting sequence")
		return stateStartSequence
	case <-time.After(e.cfg.ReconcileInterval):
		return stateIdle
	}
}

func (e *Engine) runStartSequence(ctx context.Context) (SequenceState, sequenceState) {
	sequenceID := uuid.NewString()
	log := e.log.With("sequence_id", sequenceID)

	candidates, err := e.adapter.ListAutoscalers(ctx)
	if err != nil {
		log.Error("failed to list autoscalers, aborting sequence start", "error", err)
		metrics.ReconcileErrors.Inc()
		return SequenceState{}, stateIdle
	}

	managed := make([]ManagedAutoscaler, 0, len(candidates))
	for _, hpa := range candidates {
		if !isEnabled(e.cfg, hpa) {
			continue
		}
		m, patch, clamped, err := scaleHpa(e.cfg, hpa, e.now())
		if err != nil {
			log.Warn("scale-up rejected", "autoscaler", hpaRepr(hpa), "error", err)
			metrics.ScaleUpErrors.WithLabelValues(scaleUpReason(err)).Inc()
			continue
		}
		if clamped {
			log.Warn("scale-up target exceeded maxReplicas, clamped", "autoscaler", hpaRepr(hpa), "appliedMinReplicas", m.Status.AppliedMinReplicas)
		}
		if _, err := e.adapter.PatchAutoscaler(ctx, hpa.Name, hpa.Namespace, patch); err != nil {
			log.Error("failed to patch autoscaler during scale-up", "autoscaler", hpaRepr(hpa), "error", err)
			metrics.ScaleUpErrors.WithLabelValues("transport").Inc()
			continue
		}
		log.Info("scaled up autoscaler", "name", hpa.Name, "namespace", hpa.Namespace, "appliedMinReplicas", m.Status.AppliedMinReplicas)
		managed = append(managed, m)
	}

	if len(managed) == 0 {
		log.Warn("no autoscalers scaled up, returning to idle")
		return SequenceState{}, stateIdle
	}

	body, err := json.Marshal(managed)
	if err != nil {
		log.Error("failed to marshal sequence status", "error", err)
		return SequenceState{}, stateIdle
	}

	cm, err := e.adapter.CreateStatusObject(ctx, e.cfg.Namespace, e.cfg.StatusConfigMapName,
		map[string]string{e.cfg.StatusLabelKey: e.cfg.StatusLabelValue},
		map[string]string{"status": string(body)})
	if err != nil {
		log.Error("failed to persist sequence status, aborting sequence start", "error", err)
		return SequenceState{}, stateIdle
	}

	e.active.Store(true)
	metrics.SequencesStarted.Inc()
	metrics.SequenceActive.Set(1)
	metrics.ManagedAutoscalers.Set(float64(len(managed)))

	startedAt := cm.CreationTimestamp.Time
	if startedAt.IsZero() {
		startedAt = e.now()
	}

	seq := SequenceState{StartedAt: startedAt, Managed: managed}
	log.Info("sequence started", "managed", len(managed))
	return seq, stateActive
}

func (e *Engine) runActive(ctx context.Context, seq SequenceState) sequenceState {
	select {
	case <-e.stop:
		return stateActive
	case <-ctx.Done():
		return stateActive
	case <-time.After(e.cfg.ReconcileInterval):
	}

	e.drainTriggers()

	if e.now().After(seq.StartedAt.Add(e.cfg.Duration)) {
		return stateEndSequence
	}
	return stateReconcile
}

func (e *Engine) drainTriggers() {
	for {
		select {
		case t := <-e.triggers:
			e.log.Info("trigger ignored, sequence already active", "source", t.Source)
			metrics.TriggersDropped.Inc()
		default:
			return
		}
	}
}

func (e *Engine) runReconcile(ctx context.Context, seq SequenceState) {
	for _, m := range seq.Managed {
		hpa, err := e.adapter.ReadAutoscaler(ctx, m.Name, m.Namespace)
		if err != nil {
			e.log.Error("reconcile: failed to read autoscaler", "name", m.Name, "namespace", m.Namespace, "error", err)
			metrics.ReconcileErrors.Inc()
			continue
		}
		patch, err := reconcileHpa(e.cfg, hpa, m)
		if err != nil {
			e.log.Error("reconcile: failed to build patch", "name", m.Name, "namespace", m.Namespace, "error", err)
			metrics.ReconcileErrors.Inc()
			continue
		}
		if len(patch) == 0 {
			continue
		}
		if _, err := e.adapter.PatchAutoscaler(ctx, m.Name, m.Namespace, patch); err != nil {
			e.log.Error("reconcile: failed to patch autoscaler", "name", m.Name, "namespace", m.Namespace, "error", err)
			metrics.ReconcileErrors.Inc()
			continue
		}
		e.log.Debug("reconciled autoscaler", "name", m.Name, "namespace", m.Namespace)
	}
}

func (e *Engine) runEndSequence(ctx context.Context, seq SequenceState) {
	for _, m := range seq.Managed {
		if err := e.revertOne(ctx, m); err != nil {
			e.log.Error("revert failed", "name", m.Name, "namespace", m.Namespace, "error", err)
			metrics.RevertErrors.Inc()
		}
	}

	if err := e.adapter.DeleteStatusObject(ctx, e.cfg.StatusConfigMapName, e.cfg.Namespace); err != nil {
		e.log.Error("failed to delete status object", "error", err)
	}

	e.active.Store(false)
	metrics.SequencesEnded.Inc()
	metrics.SequenceActive.Set(0)
	metrics.ManagedAutoscalers.Set(0)
	e.log.Info("sequence ended")
}

func (e *Engine) revertOne(ctx context.Context, m ManagedAutoscaler) error {
	hpa, err := e.adapter.ReadAutoscaler(ctx, m.Name, m.Namespace)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	patch := revertHpa(e.cfg, hpa, m)
	if _, err := e.adapter.PatchAutoscaler(ctx, m.Name, m.Namespace, patch); err != nil {
		return fmt.Errorf("patch: %w", err)
	}
	e.log.Info("reverted autoscaler", "name", m.Name, "namespace", m.Namespace, "originalMinReplicas", m.Status.OriginalMinReplicas)
	return nil
}

// adopt lists persisted status objects, adopts the newest and deletes the
// rest. Returns active=false if none exist.
func (e *Engine) adopt(ctx context.Context) (SequenceState, bool, error) {
	objects, err := e.adapter.ListStatusObjects(ctx, e.cfg.Namespace, e.cfg.StatusLabelKey, e.cfg.StatusLabelValue)
	if err != nil {
		return SequenceState{}, false, fmt.Errorf("list status objects: %w", err)
	}
	if len(objects) == 0 {
		return SequenceState{}, false, nil
	}

	newest := objects[0]
	var managed []ManagedAutoscaler
	if err := json.Unmarshal([]byte(newest.Data["status"]), &managed); err != nil {
		return SequenceState{}, false, fmt.Errorf("parse status object %s: %w", newest.Name, err)
	}

	for _, stale := range objects[1:] {
		e.log.Warn("deleting older status object found at startup", "name", stale.Name, "namespace", stale.Namespace)
		if err := e.adapter.DeleteStatusObject(ctx, stale.Name, stale.Namespace); err != nil {
			e.log.Error("failed to delete stale status object", "name", stale.Name, "error", err)
		}
	}

	metrics.SequencesStarted.Inc()
	metrics.SequenceActive.Set(1)
	metrics.ManagedAutoscalers.Set(float64(len(managed)))
	return SequenceState{StartedAt: newest.CreationTimestamp.Time, Managed: managed}, true, nil
}

func scaleUpReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyScaled):
		return "already_scaled"
	case errors.Is(err, ErrBadScalePercent):
		return "bad_scale_percent"
	case errors.Is(err, ErrWouldNotIncrease):
		return "would_not_increase"
	default:
		return "unknown"
	}
}
