// Package adapter provides a narrow, testable contract over the two cluster
// object kinds the scaling engine touches: ConfigMaps (trigger markers and
// persisted status) and autoscalers (HorizontalPodAutoscaler). It carries no
// business logic — see pkg/engine for the state machine that calls it.
package adapter

import (
	"context"
	"sort"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// Adapter is the narrow contract over the cluster operations the engine and
// trigger sources need.
type Adapter interface {
	ListTriggerMarkers(ctx context.Context, namespace, labelKey, labelValue string) ([]*corev1.ConfigMap, error)
	DeleteTriggerMarker(ctx context.Context, name, namespace string) error

	ListStatusObjects(ctx context.Context, namespace, labelKey, labelValue string) ([]*corev1.ConfigMap, error)
	CreateStatusObject(ctx context.Context, namespace, name string, labels map[string]string, data map[string]string) (*corev1.ConfigMap, error)
	DeleteStatusObject(ctx context.Context, name, namespace string) error

	ListAutoscalers(ctx context.Context) ([]*autoscalingv2.HorizontalPodAutoscaler, error)
	ReadAutoscaler(ctx context.Context, name, namespace string) (*autoscalingv2.HorizontalPodAutoscaler, error)
	PatchAutoscaler(ctx context.Context, name, namespace string, patch Patch) (*autoscalingv2.HorizontalPodAutoscaler, error)
}

// k8sAdapter implements Adapter directly atop a kubernetes.Interface.
type k8sAdapter struct {
	client kubernetes.Interface
}

// New returns an Adapter backed by client.
func New(client kubernetes.Interface) Adapter {
	return &k8sAdapter{client: client}
}

func (a *k8sAdapter) ListTriggerMarkers(ctx context.Context, namespace, labelKey, labelValue string) ([]*corev1.ConfigMap, error) {
	return a.listConfigMaps(ctx, namespace, labelKey, labelValue)
}

func (a *k8sAdapter) DeleteTriggerMarker(ctx context.Context, name, namespace string) error {
	return a.client.CoreV1().ConfigMaps(namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

func (a *k8sAdapter) ListStatusObjects(ctx context.Context, namespace, labelKey, labelValue string) ([]*corev1.ConfigMap, error) {
	return a.listConfigMaps(ctx, namespace, labelKey, labelValue)
}

func (a *k8sAdapter) CreateStatusObject(ctx context.Context, namespace, name string, lbls map[string]string, data map[string]string) (*corev1.ConfigMap, error) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    lbls,
		},
		Data: data,
	}
	return a.client.CoreV1().ConfigMaps(namespace).Create(ctx, cm, metav1.CreateOptions{})
}

func (a *k8sAdapter) DeleteStatusObject(ctx context.Context, name, namespace string) error {
	return a.client.CoreV1().ConfigMaps(namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

func (a *k8sAdapter) listConfigMaps(ctx context.Context, namespace, labelKey, labelValue string) ([]*corev1.ConfigMap, error) {
	selector := labels.Set(map[string]string{labelKey: labelValue}).AsSelector()
	list, err := a.client.CoreV1().ConfigMaps(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, err
	}

	result := make([]*corev1.ConfigMap, 0, len(list.Items))
	for i := range list.Items {
		result = append(result, &list.Items[i])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreationTimestamp.Time.After(result[j].CreationTimestamp.Time)
	})
	return result, nil
}

func (a *k8sAdapter) ListAutoscalers(ctx context.Context) ([]*autoscalingv2.HorizontalPodAutoscaler, error) {
	list, err := a.client.AutoscalingV2().HorizontalPodAutoscalers(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	result := make([]*autoscalingv2.HorizontalPodAutoscaler, 0, len(list.Items))
	for i := range list.Items {
		result = append(result, &list.Items[i])
	}
	return result, nil
}

func (a *k8sAdapter) ReadAutoscaler(ctx context.Context, name, namespace string) (*autoscalingv2.HorizontalPodAutoscaler, error) {
	return a.client.AutoscalingV2().HorizontalPodAutoscalers(namespace).Get(ctx, name, metav1.GetOptions{})
}

// PatchAutoscaler issues patch, retrying on resource-version conflicts.
func (a *k8sAdapter) PatchAutoscaler(ctx context.Context, name, namespace string, patch Patch) (*autoscalingv2.HorizontalPodAutoscaler, error) {
	body, patchType, err := patch.Encode()
	if err != nil {
		return nil, err
	}

	var result *autoscalingv2.HorizontalPodAutoscaler
	err = retry.OnError(retry.DefaultBackoff, apierrors.IsConflict, func() error {
		var patchErr error
		result, patchErr = a.client.AutoscalingV2().HorizontalPodAutoscalers(namespace).Patch(
			ctx, name, patchType, body, metav1.PatchOptions{})
		return patchErr
	})
	return result, err
}
