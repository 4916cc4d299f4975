// Package kubeclient builds the Kubernetes clientset used by the cluster
// adapter and discovers the controller's own namespace when not configured.
package kubeclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"

var inClusterConfig = rest.InClusterConfig

// Get creates a Kubernetes clientset from in-cluster config, falling back to
// a local kubeconfig.
func Get() (*kubernetes.Clientset, error) {
	cfg, err := GetRestConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

// GetRestConfig returns a *rest.Config from in-cluster config, or from the
// kubeconfig pointed to by KUBECONFIG (or the default lookup path).
func GetRestConfig() (*rest.Config, error) {
	if cfg, err := inClusterConfig(); err == nil { // seam for tests
		return cfg, nil
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = filepath.Join(homeDir(), ".kube", "config")
	}
	if _, err := os.Stat(kubeconfig); os.IsNotExist(err) {
		return nil, fmt.Errorf("neither in-cluster config nor kubeconfig (%s) available", kubeconfig)
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// DiscoverNamespace reads the controller's own namespace from the
// service-account mount. Returns "" if not running in-cluster; never an
// error, since absence is the expected out-of-cluster case.
func DiscoverNamespace() string {
	data, err := os.ReadFile(filepath.Join(serviceAccountDir, "namespace"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // for Windows
}
