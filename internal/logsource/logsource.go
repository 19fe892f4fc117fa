// Package logsource gets a benchmark log onto the local disk.
package logsource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
)

// Source produces a local file with a job's log. dest is a suggested path; a source
// may return another path if the log already exists locally.
type Source interface {
	Fetch(ctx context.Context, dest string) (string, error)
}

// File is a log that already exists on disk.
type File string

func (f File) Fetch(ctx context.Context, dest string) (string, error) {
	info, err := os.Stat(string(f))
	if err != nil {
		return "", fmt.Errorf("job log: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("job log %s is a directory", f)
	}
	return string(f), nil
}

// Pod is the log of a container of a pod that ran the benchmark.
type Pod struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string
	// Container may be empty for single-container pods.
	Container string
}

func (p *Pod) Fetch(ctx context.Context, dest string) (string, error) {
	req := p.Client.CoreV1().Pods(p.Namespace).GetLogs(p.Name, &corev1.PodLogOptions{
		Container: p.Container,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open log stream for %s/%s: %w", p.Namespace, p.Name, err)
	}
	defer stream.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()
	n, err := io.Copy(f, stream)
	if err != nil {
		return "", fmt.Errorf("error reading logs: %w", err)
	}
	klog.Infof("wrote %d bytes of logs from pod %s/%s to %s", n, p.Namespace, p.Name, dest)
	return dest, nil
}

// NewClientset builds a clientset from a kubeconfig path. An empty path uses the in-cluster config.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return kubernetes.NewForConfig(restConfig)
}
