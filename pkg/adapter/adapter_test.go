package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/klutch-io/klutch-controller/pkg/adapter"
	"github.com/stretchr/testify/require"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func cm(name, namespace string, labels map[string]string, age time.Duration) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         namespace,
			Labels:            labels,
			CreationTimestamp: metav1.NewTime(time.Now().Add(-age)),
		},
	}
}

func TestListTriggerMarkers_OrderedNewestFirst(t *testing.T) {
	client := fake.NewSimpleClientset(
		cm("trigger-old", "ns", map[string]string{"klutch.it/trigger": "1"}, time.Hour),
		cm("trigger-new", "ns", map[string]string{"klutch.it/trigger": "1"}, time.Minute),
		cm("unrelated", "ns", map[string]string{"other": "label"}, time.Minute),
	)
	a := adapter.New(client)

	markers, err := a.ListTriggerMarkers(context.Background(), "ns", "klutch.it/trigger", "1")
	require.NoError(t, err)
	require.Len(t, markers, 2)
	require.Equal(t, "trigger-new", markers[0].Name)
	require.Equal(t, "trigger-old", markers[1].Name)
}

func TestDeleteTriggerMarker(t *testing.T) {
	client := fake.NewSimpleClientset(cm("trigger-1", "ns", map[string]string{"klutch.it/trigger": "1"}, 0))
	a := adapter.New(client)

	require.NoError(t, a.DeleteTriggerMarker(context.Background(), "trigger-1", "ns"))

	markers, err := a.ListTriggerMarkers(context.Background(), "ns", "klutch.it/trigger", "1")
	require.NoError(t, err)
	require.Empty(t, markers)
}

func TestCreateAndDeleteStatusObject(t *testing.T) {
	client := fake.NewSimpleClientset()
	a := adapter.New(client)

	created, err := a.CreateStatusObject(context.Background(), "ns", "klutch-status",
		map[string]string{"klutch.it/status": "1"}, map[string]string{"sequence_id": "abc"})
	require.NoError(t, err)
	require.Equal(t, "klutch-status", created.Name)
	require.Equal(t, "abc", created.Data["sequence_id"])

	objs, err := a.ListStatusObjects(context.Background(), "ns", "klutch.it/status", "1")
	require.NoError(t, err)
	require.Len(t, objs, 1)

	require.NoError(t, a.DeleteStatusObject(context.Background(), "klutch-status", "ns"))

	objs, err = a.ListStatusObjects(context.Background(), "ns", "klutch.it/status", "1")
	require.NoError(t, err)
	require.Empty(t, objs)
}

func hpa(name, namespace string, minReplicas int32) *autoscalingv2.HorizontalPodAutoscaler {
	return &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			MinReplicas: &minReplicas,
		},
	}
}

func TestListAndReadAutoscalers(t *testing.T) {
	client := fake.NewSimpleClientset(
		hpa("api", "ns-a", 2),
		hpa("worker", "ns-b", 1),
	)
	a := adapter.New(client)

	all, err := a.ListAutoscalers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := a.ReadAutoscaler(context.Background(), "api", "ns-a")
	require.NoError(t, err)
	require.Equal(t, int32(2), *got.Spec.MinReplicas)
}

func TestPatchAutoscaler_MergePatch(t *testing.T) {
	client := fake.NewSimpleClientset(hpa("api", "ns-a", 2))
	a := adapter.New(client)

	newMin := int32(5)
	patch := adapter.MergePatch{
		"spec": map[string]interface{}{
			"minReplicas": newMin,
		},
	}

	updated, err := a.PatchAutoscaler(context.Background(), "api", "ns-a", patch)
	require.NoError(t, err)
	require.Equal(t, int32(5), *updated.Spec.MinReplicas)
}

func TestPatchAutoscaler_JSONPatchAnnotation(t *testing.T) {
	client := fake.NewSimpleClientset(hpa("api", "ns-a", 2))
	a := adapter.New(client)

	patch := adapter.JSONPatch{
		{Op: "add", Path: "/metadata/annotations", Value: map[string]string{}},
		{Op: "add", Path: adapter.AnnotationPatchPath("klutch.it/status"), Value: "scaled"},
	}

	updated, err := a.PatchAutoscaler(context.Background(), "api", "ns-a", patch)
	require.NoError(t, err)
	require.Equal(t, "scaled", updated.Annotations["klutch.it/status"])
}

func TestAnnotationPatchPath_EscapesSlash(t *testing.T) {
	require.Equal(t, "/metadata/annotations/klutch.it~1status", adapter.AnnotationPatchPath("klutch.it/status"))
}
