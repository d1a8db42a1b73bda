package metrics

import (
	"sync"

	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the shared recorder registered with the controller-runtime
// registry served on /metrics.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewRecorder(ctrlmetrics.Registry)
	})
	return defaultRecorder
}
