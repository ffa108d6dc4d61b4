package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"completiond/internal/config"
	"completiond/internal/pipeline"
	"completiond/internal/pipeline/pipelinetest"
	"completiond/pkg/types"
)

func ptr[T any](v T) *T { return &v }

// newTestManager builds and opens a manager over fake runtimes keyed by the
// runtime name each service uses.
func newTestManager(t *testing.T, rts map[string]pipeline.Runtime, svcs ...config.ServiceConfig) (*Manager, *pipeline.MemoryPublisher) {
	t.Helper()
	pub := pipeline.NewMemoryPublisher()
	m, err := New(Config{Services: svcs, Runtimes: rts, Publisher: pub})
	require.NoError(t, err)
	m.hostStatus = func(context.Context) *types.HostStatus {
		return &types.HostStatus{CPUCores: 4, MemTotalBytes: 1 << 30, MemAvailableBytes: 1 << 29}
	}
	_ = m.Open(context.Background())
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, pub
}

func fakeRuntimes(rt *pipelinetest.Runtime) map[string]pipeline.Runtime {
	return map[string]pipeline.Runtime{config.RuntimeHFServer: rt}
}

func svc(name, model, task string) config.ServiceConfig {
	return config.ServiceConfig{Name: name, Runtime: config.RuntimeHFServer, Model: model, Task: task}
}
