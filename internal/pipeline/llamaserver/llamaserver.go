// Package llamaserver implements a pipeline runtime that spawns and
// supervises one llama-server process per pipeline and talks to it through
// the OpenAI-compatible /v1/completions endpoint.
package llamaserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"completiond/internal/pipeline"
	"completiond/internal/registry"
)

// Name is the runtime name reported in capabilities and logs.
const Name = "llamaserver"

const (
	defaultBin          = "llama-server"
	defaultHost         = "127.0.0.1"
	defaultReadyTimeout = 30 * time.Second
	stderrTailBytes     = 4096
	stopGrace           = 2 * time.Second
)

// Config configures the subprocess runtime.
type Config struct {
	// Bin is the llama-server executable (name on PATH or absolute path).
	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	// ModelsDir is scanned to resolve model ids to gguf files.
	ModelsDir   string
	ContextSize int
	Threads     int
	// GPULayers offloaded for accelerator placement. Zero offloads all.
	GPULayers    int
	ExtraArgs    []string
	ReadyTimeout time.Duration
	// RequestTimeout bounds a single completion. Zero disables.
	RequestTimeout time.Duration
}

// Runtime spawns llama-server processes.
type Runtime struct {
	cfg        Config
	log        zerolog.Logger
	httpClient *http.Client
	publisher  pipeline.EventPublisher

	mu    sync.Mutex
	procs map[int]*procInfo // key: pid
}

var _ pipeline.Runtime = (*Runtime)(nil)

type procInfo struct {
	cmd     *exec.Cmd
	baseURL string
	model   string
	port    int
	exited  chan struct{}
}

// New constructs the runtime. Nothing is spawned until Open.
func New(cfg Config, log zerolog.Logger, pub pipeline.EventPublisher) *Runtime {
	if strings.TrimSpace(cfg.Bin) == "" {
		cfg.Bin = defaultBin
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = defaultHost
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if pub == nil {
		pub = pipeline.NoopPublisher{}
	}
	return &Runtime{
		cfg: cfg,
		log: log.With().Str("runtime", Name).Logger(),
		// Timeout=0: all calls use context-based deadlines.
		httpClient: &http.Client{Timeout: 0},
		publisher:  pub,
		procs:      make(map[int]*procInfo),
	}
}

func (r *Runtime) Name() string { return Name }

// Probe checks that the llama-server binary can be found.
func (r *Runtime) Probe(ctx context.Context) (pipeline.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Capabilities{}, err
	}
	path, err := exec.LookPath(r.cfg.Bin)
	if err != nil {
		return pipeline.Capabilities{}, pipeline.ErrUnavailable(fmt.Sprintf("llamaserver: %s not found: %v", r.cfg.Bin, err))
	}
	n := pipeline.CountCUDADevices()
	return pipeline.Capabilities{
		Runtime:              Name,
		Version:              path,
		AcceleratorAvailable: n > 0,
		AcceleratorCount:     n,
		Tasks: []pipeline.Task{
			pipeline.TaskTextGeneration,
			pipeline.TaskText2TextGeneration,
			pipeline.TaskSummarization,
		},
	}, nil
}

// Open resolves the model file, spawns llama-server and waits until it
// answers /v1/models.
func (r *Runtime) Open(ctx context.Context, spec pipeline.Spec) (pipeline.Pipeline, error) {
	modelPath, err := registry.Resolve(r.cfg.ModelsDir, spec.ModelID)
	if err != nil {
		return nil, err
	}
	p, err := r.spawn(ctx, modelPath, spec.Device)
	if err != nil {
		return nil, err
	}
	return &session{rt: r, proc: p, task: spec.Task}, nil
}

// args builds the llama-server command line.
func (r *Runtime) args(modelPath string, port int, dev pipeline.Device) []string {
	args := []string{
		"-m", modelPath,
		"--host", r.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if r.cfg.ContextSize > 0 {
		args = append(args, "-c", strconv.Itoa(r.cfg.ContextSize))
	}
	if r.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(r.cfg.Threads))
	}
	if dev.IsAccelerator() {
		ngl := r.cfg.GPULayers
		if ngl <= 0 {
			ngl = 999
		}
		args = append(args, "-ngl", strconv.Itoa(ngl), "-mg", strconv.Itoa(dev.Index))
	} else {
		args = append(args, "-ngl", "0")
	}
	return append(args, r.cfg.ExtraArgs...)
}

func (r *Runtime) spawn(ctx context.Context, modelPath string, dev pipeline.Device) (*procInfo, error) {
	var port int
	var err error
	if r.cfg.PortStart > 0 && r.cfg.PortEnd >= r.cfg.PortStart {
		port, err = pickPortInRange(r.cfg.Host, r.cfg.PortStart, r.cfg.PortEnd)
	} else {
		port, err = pickFreePort(r.cfg.Host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", r.cfg.Host, port)

	cmd := exec.Command(r.cfg.Bin, r.args(modelPath, port, dev)...)
	// Captured stderr; its tail is included on failure.
	var stderr lockedBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, pipeline.ErrUnavailable(fmt.Sprintf("llamaserver: start %s: %v", r.cfg.Bin, err))
		}
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	pid := cmd.Process.Pid
	log := r.log.With().Str("model", modelPath).Int("pid", pid).Int("port", port).Logger()
	log.Info().Str("event", "spawn_start").Str("device", dev.String()).Msg("llama-server started")
	r.publisher.Publish(pipeline.Event{Name: "spawn_start", Subject: modelPath, Fields: map[string]any{"pid": pid, "host": r.cfg.Host, "port": port}})

	p := &procInfo{cmd: cmd, baseURL: baseURL, model: modelPath, port: port, exited: make(chan struct{})}
	r.mu.Lock()
	r.procs[pid] = p
	r.mu.Unlock()

	waitErrCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		close(p.exited)
		waitErrCh <- err
	}()

	deadline := time.Now().Add(r.cfg.ReadyTimeout)
	for {
		if time.Now().After(deadline) {
			log.Warn().Str("event", "spawn_timeout").Msg("llama-server not ready in time")
			r.publisher.Publish(pipeline.Event{Name: "spawn_timeout", Subject: modelPath, Fields: map[string]any{"pid": pid}})
			_ = r.stop(p)
			return nil, fmt.Errorf("llama-server not ready in time: %s", baseURL)
		}
		select {
		case werr := <-waitErrCh:
			r.forget(pid)
			tail := stderr.Tail(stderrTailBytes)
			if werr != nil {
				log.Warn().Err(werr).Str("event", "spawn_exit").Msg("llama-server exited early")
				r.publisher.Publish(pipeline.Event{Name: "spawn_exit", Subject: modelPath, Fields: map[string]any{"pid": pid, "error": werr.Error()}})
				return nil, fmt.Errorf("llama-server exited early: %v; stderr tail: %s", werr, tail)
			}
			log.Warn().Str("event", "spawn_exit").Bool("before_ready", true).Msg("llama-server exited before ready")
			r.publisher.Publish(pipeline.Event{Name: "spawn_exit", Subject: modelPath, Fields: map[string]any{"pid": pid, "before_ready": true}})
			return nil, fmt.Errorf("llama-server exited before ready: %s; stderr tail: %s", baseURL, tail)
		case <-ctx.Done():
			_ = r.stop(p)
			return nil, ctx.Err()
		default:
		}
		if r.isHealthy(baseURL, time.Second) {
			log.Info().Str("event", "spawn_ready").Str("url", baseURL).Msg("llama-server ready")
			r.publisher.Publish(pipeline.Event{Name: "spawn_ready", Subject: modelPath, Fields: map[string]any{"pid": pid, "url": baseURL}})
			return p, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// isHealthy checks if the llama-server at baseURL responds OK to /v1/models.
func (r *Runtime) isHealthy(baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (r *Runtime) forget(pid int) {
	r.mu.Lock()
	delete(r.procs, pid)
	r.mu.Unlock()
}

// stop sends SIGTERM, then kills after a grace period.
func (r *Runtime) stop(p *procInfo) error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	pid := p.cmd.Process.Pid
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(stopGrace):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	r.forget(pid)
	r.publisher.Publish(pipeline.Event{Name: "spawn_stop", Subject: p.model, Fields: map[string]any{"pid": pid}})
	r.log.Debug().Str("event", "spawn_stop").Int("pid", pid).Msg("llama-server stopped")
	return nil
}

// StopAll terminates all managed subprocesses. Best effort.
func (r *Runtime) StopAll() {
	r.mu.Lock()
	procs := make([]*procInfo, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()
	for _, p := range procs {
		_ = r.stop(p)
	}
}

// Running returns the number of live subprocesses.
func (r *Runtime) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected addr: %s", l.Addr())
	}
	return addr.Port, nil
}

// lockedBuffer is a bytes.Buffer safe for the writer goroutine of exec.Cmd
// and a concurrent reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Tail returns at most n trailing bytes.
func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
