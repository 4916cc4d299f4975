package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/klutch-io/klutch-controller/pkg/adapter"
	"github.com/klutch-io/klutch-controller/pkg/config"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
)

// scaleHpa computes the raised floor for hpa and returns the resulting
// ManagedAutoscaler record plus the merge-patch that applies it. clamped
// reports whether the computed target exceeded spec.maxReplicas and was
// clamped down to it, which the caller logs but does not treat as an error.
func scaleHpa(cfg config.CommonConfig, hpa *autoscalingv2.HorizontalPodAutoscaler, now time.Time) (m ManagedAutoscaler, patch adapter.MergePatch, clamped bool, err error) {
	repr := hpaRepr(hpa)

	if _, ok := hpa.Annotations[cfg.StatusAnnotKey]; ok {
		return ManagedAutoscaler{}, nil, false, fmt.Errorf("%w: %s", ErrAlreadyScaled, repr)
	}

	rawPercent, ok := hpa.Annotations[cfg.ScalePercentKey]
	if !ok {
		return ManagedAutoscaler{}, nil, false, fmt.Errorf("%w: %s", ErrBadScalePercent, repr)
	}
	percent, convErr := strconv.Atoi(rawPercent)
	if convErr != nil {
		return ManagedAutoscaler{}, nil, false, fmt.Errorf("%w: %s: %v", ErrBadScalePercent, repr, convErr)
	}

	var minReplicas int32
	if hpa.Spec.MinReplicas != nil {
		minReplicas = *hpa.Spec.MinReplicas
	}
	maxReplicas := hpa.Spec.MaxReplicas
	current := hpa.Status.CurrentReplicas

	target := int32(math.Ceil(float64(current) * float64(percent) / 100))

	if target <= minReplicas {
		return ManagedAutoscaler{}, nil, false, fmt.Errorf("%w: %s", ErrWouldNotIncrease, repr)
	}
	if target > maxReplicas {
		target = maxReplicas
		clamped = true
	}

	status := AutoscalerStatusData{
		OriginalMinReplicas:     minReplicas,
		OriginalCurrentReplicas: current,
		AppliedMinReplicas:      target,
		AppliedAt:               now.Unix(),
	}
	statusJSON, marshalErr := json.Marshal(status)
	if marshalErr != nil {
		return ManagedAutoscaler{}, nil, false, fmt.Errorf("marshal status for %s: %w", repr, marshalErr)
	}

	patch = adapter.MergePatch{
		"metadata": map[string]interface{}{
			"annotations": map[string]interface{}{
				cfg.StatusAnnotKey: string(statusJSON),
			},
		},
		"spec": map[string]interface{}{
			"minReplicas": target,
		},
	}

	m = ManagedAutoscaler{
		Name:      hpa.Name,
		Namespace: hpa.Namespace,
		Status:    status,
	}
	return m, patch, clamped, nil
}

// reconcileHpa re-derives the JSON-patch needed to re-assert the stored
// status on hpa, or returns an empty patch when nothing drifted. An external
// actor may have stripped the annotation or overwritten spec.minReplicas;
// both are restored.
func reconcileHpa(cfg config.CommonConfig, hpa *autoscalingv2.HorizontalPodAutoscaler, m ManagedAutoscaler) (adapter.JSONPatch, error) {
	var patch adapter.JSONPatch

	if _, ok := hpa.Annotations[cfg.StatusAnnotKey]; !ok {
		statusJSON, err := json.Marshal(m.Status)
		if err != nil {
			return nil, fmt.Errorf("marshal status for %s: %w", hpaRepr(hpa), err)
		}
		if hpa.Annotations == nil {
			patch = append(patch, adapter.JSONPatchOp{Op: "add", Path: "/metadata/annotations", Value: map[string]string{}})
		}
		patch = append(patch, adapter.JSONPatchOp{
			Op:    "add",
			Path:  adapter.AnnotationPatchPath(cfg.StatusAnnotKey),
			Value: string(statusJSON),
		})
	}

	var currentMin int32
	if hpa.Spec.MinReplicas != nil {
		currentMin = *hpa.Spec.MinReplicas
	}
	if currentMin != m.Status.AppliedMinReplicas {
		patch = append(patch, adapter.JSONPatchOp{
			Op:    "replace",
			Path:  "/spec/minReplicas",
			Value: m.Status.AppliedMinReplicas,
		})
	}

	return patch, nil
}

// revertHpa builds the JSON-patch that restores hpa's original floor and
// removes the status annotation if still present.
func revertHpa(cfg config.CommonConfig, hpa *autoscalingv2.HorizontalPodAutoscaler, m ManagedAutoscaler) adapter.JSONPatch {
	patch := adapter.JSONPatch{
		{Op: "replace", Path: "/spec/minReplicas", Value: m.Status.OriginalMinReplicas},
	}
	if _, ok := hpa.Annotations[cfg.StatusAnnotKey]; ok {
		patch = append(patch, adapter.JSONPatchOp{
			Op:   "remove",
			Path: adapter.AnnotationPatchPath(cfg.StatusAnnotKey),
		})
	}
	return patch
}

// isEnabled is the opt-in predicate: the annotation value must match
// exactly, presence alone is not enough.
func isEnabled(cfg config.CommonConfig, hpa *autoscalingv2.HorizontalPodAutoscaler) bool {
	return hpa.Annotations[cfg.EnabledKey] == cfg.EnabledValue
}

func hpaRepr(hpa *autoscalingv2.HorizontalPodAutoscaler) string {
	return fmt.Sprintf("HorizontalPodAutoscaler(namespace=%s, name=%s, uid=%s)", hpa.Namespace, hpa.Name, hpa.UID)
}
