package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"completiond/internal/completion"
	"completiond/internal/config"
	"completiond/internal/pipeline"
	"completiond/internal/pipeline/pipelinetest"
	"completiond/pkg/types"
)

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Services: []config.ServiceConfig{svc("a", "m", ""), svc("a", "m", "")}})
	require.Error(t, err)

	_, err = New(Config{Services: []config.ServiceConfig{svc("a", "m", "")}, DefaultService: "b"})
	require.True(t, IsServiceNotFound(err))
}

func TestOpenBuildsEachServiceOnce(t *testing.T) {
	rt := &pipelinetest.Runtime{}
	m, pub := newTestManager(t, fakeRuntimes(rt),
		svc("t5", "t5-small", ""),
		svc("bart", "facebook/bart-large-cnn", "summarization"),
	)

	require.True(t, m.Ready())
	assert.Equal(t, "t5", m.DefaultService())
	require.Len(t, rt.Opens(), 2)
	assert.Equal(t, pipeline.TaskText2TextGeneration, rt.Opens()[0].Task)
	assert.Equal(t, pipeline.TaskSummarization, rt.Opens()[1].Task)

	infos := m.Services()
	require.Len(t, infos, 2)
	assert.Equal(t, types.ServiceInfo{Name: "t5", Runtime: "hfserver", Model: "t5-small", Task: "text2text-generation", Device: "cpu", State: "ready"}, infos[0])
	assert.Equal(t, []string{"ready", "service_ready", "ready", "service_ready"}, pub.Names())

	// A second Open leaves ready services alone.
	require.NoError(t, m.Open(context.Background()))
	assert.Len(t, rt.Opens(), 2)
}

func TestFailedServiceDoesNotBlockOthers(t *testing.T) {
	good := &pipelinetest.Runtime{}
	missing := &pipelinetest.Runtime{RuntimeName: "llamaserver", ProbeErr: pipeline.ErrUnavailable("llama-server not found")}
	pub := pipeline.NewMemoryPublisher()
	m, err := New(Config{
		Services: []config.ServiceConfig{
			svc("t5", "t5-small", ""),
			{Name: "local", Runtime: config.RuntimeLlamaServer, Model: "tinyllama"},
			{Name: "nort", Runtime: config.RuntimeLlamaCpp, Model: "tinyllama"},
		},
		Runtimes:  map[string]pipeline.Runtime{config.RuntimeHFServer: good, config.RuntimeLlamaServer: missing},
		Publisher: pub,
	})
	require.NoError(t, err)

	err = m.Open(context.Background())
	require.Error(t, err)
	assert.True(t, completion.IsDependencyMissing(err))
	assert.True(t, m.Ready())
	assert.Empty(t, missing.Opens(), "no pipeline opened when the runtime is missing")

	infos := m.Services()
	assert.Equal(t, "error", infos[1].State)
	assert.Contains(t, infos[1].Error, "llama-server not found")
	assert.Equal(t, "error", infos[2].State)
	assert.Contains(t, pub.Names(), "service_fail")

	_, err = m.Complete(context.Background(), types.CompleteRequest{Service: "local", Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsServiceUnavailable(err))
	assert.True(t, completion.IsDependencyMissing(err))

	_, err = m.Complete(context.Background(), types.CompleteRequest{Service: "nope", Prompt: "hi"})
	assert.True(t, IsServiceNotFound(err))
}

func TestReadyFollowsDefaultService(t *testing.T) {
	rt := &pipelinetest.Runtime{OpenErr: errors.New("download failed")}
	m, _ := newTestManager(t, fakeRuntimes(rt), svc("t5", "t5-small", ""))
	assert.False(t, m.Ready())
	assert.Equal(t, "error", m.Status(context.Background()).State)
}

func TestCloseReleasesBackends(t *testing.T) {
	rt := &pipelinetest.Runtime{}
	m, _ := newTestManager(t, fakeRuntimes(rt), svc("t5", "t5-small", ""), svc("gpt2", "gpt2", "text-generation"))

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 2, rt.Closed())
	assert.False(t, m.Ready())

	_, err := m.Complete(context.Background(), types.CompleteRequest{Prompt: "hi"})
	assert.True(t, IsServiceUnavailable(err))

	// Idempotent.
	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, 2, rt.Closed())
}

func TestCustomBuild(t *testing.T) {
	var got config.ServiceConfig
	m, err := New(Config{
		Services: []config.ServiceConfig{svc("x", "m", "")},
		Runtimes: fakeRuntimes(&pipelinetest.Runtime{}),
		Build: func(ctx context.Context, rt pipeline.Runtime, sc config.ServiceConfig, opts ...completion.Option) (Backend, error) {
			got = sc
			return &staticBackend{out: "fixed"}, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.Open(context.Background()))
	assert.Equal(t, "m", got.Model)

	resp, err := m.Complete(context.Background(), types.CompleteRequest{Prompt: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", resp.Content)
	assert.Equal(t, "", m.Services()[0].Device, "device unknown for backends that do not report one")
}

type staticBackend struct{ out string }

func (b *staticBackend) Complete(context.Context, string, completion.RequestSettings) (string, error) {
	return b.out, nil
}

func (b *staticBackend) CompleteStream(_ context.Context, _ string, _ completion.RequestSettings, onChunk func(string) error) (string, error) {
	return b.out, onChunk(b.out)
}

func (b *staticBackend) Close() error { return nil }

// slowBackend takes d per call and records calls that saw it closed.
type slowBackend struct {
	d          time.Duration
	closed     atomic.Bool
	afterClose atomic.Int32
	closes     atomic.Int32
}

func (b *slowBackend) Complete(ctx context.Context, _ string, _ completion.RequestSettings) (string, error) {
	if b.closed.Load() {
		b.afterClose.Add(1)
	}
	time.Sleep(b.d)
	if b.closed.Load() {
		b.afterClose.Add(1)
	}
	return "ok", nil
}

func (b *slowBackend) CompleteStream(ctx context.Context, p string, s completion.RequestSettings, onChunk func(string) error) (string, error) {
	return b.Complete(ctx, p, s)
}

func (b *slowBackend) Close() error {
	b.closed.Store(true)
	b.closes.Add(1)
	return nil
}

func newSlowManager(t *testing.T, b *slowBackend) *Manager {
	t.Helper()
	sc := svc("slow", "m", "")
	sc.MaxConcurrent = 1
	sc.MaxQueueDepth = 8
	m, err := New(Config{
		Services: []config.ServiceConfig{sc},
		Runtimes: fakeRuntimes(&pipelinetest.Runtime{}),
		Build: func(context.Context, pipeline.Runtime, config.ServiceConfig, ...completion.Option) (Backend, error) {
			return b, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.Open(context.Background()))
	return m
}

func completeConcurrently(m *Manager, n int) (*sync.WaitGroup, *atomic.Int32) {
	var wg sync.WaitGroup
	var unavailable atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Complete(context.Background(), types.CompleteRequest{Prompt: "hi"})
			if IsServiceUnavailable(err) {
				unavailable.Add(1)
			}
		}()
	}
	return &wg, &unavailable
}

func TestCloseNeverClosesBackendUnderAdmittedRequests(t *testing.T) {
	for i := 0; i < 20; i++ {
		b := &slowBackend{d: 15 * time.Millisecond}
		m := newSlowManager(t, b)
		wg, unavailable := completeConcurrently(m, 4)
		time.Sleep(5 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		require.NoError(t, m.Close(ctx))
		cancel()
		wg.Wait()

		require.Eventually(t, func() bool { return b.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
		assert.Zero(t, b.afterClose.Load(), "a request ran on a closed backend")
		assert.Positive(t, unavailable.Load(), "queued requests are turned away once closed")
	}
}

func TestCloseWaitsForAdmittedRequests(t *testing.T) {
	b := &slowBackend{d: 10 * time.Millisecond}
	m := newSlowManager(t, b)
	wg, _ := completeConcurrently(m, 3)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, int32(1), b.closes.Load())
	wg.Wait()
	assert.Zero(t, b.afterClose.Load())
}
