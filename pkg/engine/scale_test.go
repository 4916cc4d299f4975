package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/klutch-io/klutch-controller/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func testConfig() config.CommonConfig {
	return config.CommonConfig{
		EnabledKey:      "klutch.it/enabled",
		EnabledValue:    "true",
		ScalePercentKey: "klutch.it/scale-percentage-of-actual",
		StatusAnnotKey:  "klutch.it/status",
	}
}

func makeHPA(min, max, current int32, annotations map[string]string) *autoscalingv2.HorizontalPodAutoscaler {
	return &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{
			Name:        "api",
			Namespace:   "ns",
			Annotations: annotations,
		},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			MinReplicas: &min,
			MaxReplicas: max,
		},
		Status: autoscalingv2.HorizontalPodAutoscalerStatus{
			CurrentReplicas: current,
		},
	}
}

// The scale target is computed from status.currentReplicas, not from the
// existing floor.
func TestScaleHpa_UsesCurrentNotMin(t *testing.T) {
	cfg := testConfig()
	hpa := makeHPA(2, 10, 3, map[string]string{cfg.ScalePercentKey: "200"})
	now := time.Unix(1700000000, 0)

	m, patch, clamped, err := scaleHpa(cfg, hpa, now)
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.Equal(t, int32(6), m.Status.AppliedMinReplicas)
	assert.Equal(t, int32(2), m.Status.OriginalMinReplicas)
	assert.Equal(t, int32(3), m.Status.OriginalCurrentReplicas)
	assert.Equal(t, now.Unix(), m.Status.AppliedAt)

	spec := patch["spec"].(map[string]interface{})
	assert.Equal(t, int32(6), spec["minReplicas"])

	meta := patch["metadata"].(map[string]interface{})
	ann := meta["annotations"].(map[string]interface{})
	var status AutoscalerStatusData
	require.NoError(t, json.Unmarshal([]byte(ann[cfg.StatusAnnotKey].(string)), &status))
	assert.Equal(t, int32(2), status.OriginalMinReplicas)
	assert.Equal(t, int32(3), status.OriginalCurrentReplicas)
	assert.Equal(t, int32(6), status.AppliedMinReplicas)
}

// Fractional targets round up.
func TestScaleHpa_RoundsUp(t *testing.T) {
	cfg := testConfig()
	hpa := makeHPA(2, 10, 3, map[string]string{cfg.ScalePercentKey: "150"})

	m, _, clamped, err := scaleHpa(cfg, hpa, time.Now())
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.Equal(t, int32(5), m.Status.AppliedMinReplicas)
}

// Targets above spec.maxReplicas are clamped to it.
func TestScaleHpa_ClampsToMax(t *testing.T) {
	cfg := testConfig()
	hpa := makeHPA(2, 10, 6, map[string]string{cfg.ScalePercentKey: "200"})

	m, _, clamped, err := scaleHpa(cfg, hpa, time.Now())
	require.NoError(t, err)
	assert.True(t, clamped)
	assert.Equal(t, int32(10), m.Status.AppliedMinReplicas)
}

// A target at or below the current floor is rejected (covers the
// never-started workload with currentReplicas=0).
func TestScaleHpa_WouldNotIncrease(t *testing.T) {
	cfg := testConfig()
	hpa := makeHPA(2, 10, 0, map[string]string{cfg.ScalePercentKey: "200"})

	_, _, _, err := scaleHpa(cfg, hpa, time.Now())
	require.ErrorIs(t, err, ErrWouldNotIncrease)
}

// A missing or unparseable percent annotation is rejected.
func TestScaleHpa_BadScalePercent(t *testing.T) {
	cfg := testConfig()

	unparseable := makeHPA(2, 10, 3, map[string]string{cfg.ScalePercentKey: "foobar"})
	_, _, _, err := scaleHpa(cfg, unparseable, time.Now())
	require.ErrorIs(t, err, ErrBadScalePercent)

	missing := makeHPA(2, 10, 3, nil)
	_, _, _, err = scaleHpa(cfg, missing, time.Now())
	require.ErrorIs(t, err, ErrBadScalePercent)
}

func TestScaleHpa_AlreadyScaled(t *testing.T) {
	cfg := testConfig()
	hpa := makeHPA(2, 10, 3, map[string]string{
		cfg.ScalePercentKey: "200",
		cfg.StatusAnnotKey:  `{"appliedMinReplicas":6}`,
	})

	_, _, _, err := scaleHpa(cfg, hpa, time.Now())
	require.ErrorIs(t, err, ErrAlreadyScaled)
}

func TestIsEnabled_RequiresValueMatch(t *testing.T) {
	cfg := testConfig()

	assert.True(t, isEnabled(cfg, makeHPA(1, 2, 1, map[string]string{cfg.EnabledKey: "true"})))
	assert.False(t, isEnabled(cfg, makeHPA(1, 2, 1, map[string]string{cfg.EnabledKey: "false"})))
	// presence alone (empty value) is not sufficient in the stricter, later semantics
	assert.False(t, isEnabled(cfg, makeHPA(1, 2, 1, map[string]string{cfg.EnabledKey: ""})))
	assert.False(t, isEnabled(cfg, makeHPA(1, 2, 1, nil)))
}

func TestReconcileHpa_Idempotent(t *testing.T) {
	cfg := testConfig()
	status := AutoscalerStatusData{OriginalMinReplicas: 2, AppliedMinReplicas: 6, AppliedAt: 1700000000}
	statusJSON, err := json.Marshal(status)
	require.NoError(t, err)

	hpa := makeHPA(6, 10, 6, map[string]string{cfg.StatusAnnotKey: string(statusJSON)})
	m := ManagedAutoscaler{Name: "api", Namespace: "ns", Status: status}

	patch, err := reconcileHpa(cfg, hpa, m)
	require.NoError(t, err)
	assert.Empty(t, patch, "unchanged autoscaler should produce no patch ops")
}

func TestReconcileHpa_ReassertsDriftedMinAndMissingAnnotation(t *testing.T) {
	cfg := testConfig()
	status := AutoscalerStatusData{OriginalMinReplicas: 2, AppliedMinReplicas: 6, AppliedAt: 1700000000}
	m := ManagedAutoscaler{Name: "api", Namespace: "ns", Status: status}

	// external actor stripped the annotation and reset minReplicas
	hpa := makeHPA(2, 10, 6, nil)

	patch, err := reconcileHpa(cfg, hpa, m)
	require.NoError(t, err)
	require.Len(t, patch, 3)
	assert.Equal(t, "add", patch[0].Op)
	assert.Equal(t, "/metadata/annotations", patch[0].Path)
	assert.Equal(t, "add", patch[1].Op)
	assert.Equal(t, "/metadata/annotations/klutch.it~1status", patch[1].Path)
	assert.Equal(t, "replace", patch[2].Op)
	assert.Equal(t, "/spec/minReplicas", patch[2].Path)
	assert.Equal(t, int32(6), patch[2].Value)
}

func TestRevertHpa_RestoresOriginalAndRemovesAnnotation(t *testing.T) {
	cfg := testConfig()
	status := AutoscalerStatusData{OriginalMinReplicas: 2, AppliedMinReplicas: 6, AppliedAt: 1700000000}
	m := ManagedAutoscaler{Name: "api", Namespace: "ns", Status: status}

	hpa := makeHPA(6, 10, 6, map[string]string{cfg.StatusAnnotKey: `{"appliedMinReplicas":6}`})

	patch := revertHpa(cfg, hpa, m)
	require.Len(t, patch, 2)
	assert.Equal(t, "replace", patch[0].Op)
	assert.Equal(t, "/spec/minReplicas", patch[0].Path)
	assert.Equal(t, int32(2), patch[0].Value)
	assert.Equal(t, "remove", patch[1].Op)
	assert.Equal(t, "/metadata/annotations/klutch.it~1status", patch[1].Path)
}

func TestRevertHpa_SkipsRemoveWhenAnnotationAbsent(t *testing.T) {
	cfg := testConfig()
	status := AutoscalerStatusData{OriginalMinReplicas: 2, AppliedMinReplicas: 6}
	m := ManagedAutoscaler{Name: "api", Namespace: "ns", Status: status}

	hpa := makeHPA(6, 10, 6, nil)

	patch := revertHpa(cfg, hpa, m)
	require.Len(t, patch, 1)
	assert.Equal(t, "replace", patch[0].Op)
}
