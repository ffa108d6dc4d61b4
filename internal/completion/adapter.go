package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"completiond/internal/pipeline"
)

// TextCompletion is the client surface callers program against.
type TextCompletion interface {
	Complete(ctx context.Context, prompt string, settings RequestSettings) (string, error)
	CompleteStream(ctx context.Context, prompt string, settings RequestSettings, onChunk func(string) error) (string, error)
}

var _ TextCompletion = (*Adapter)(nil)

// Adapter wraps a single runtime pipeline behind TextCompletion.
type Adapter struct {
	cfg       Config
	device    pipeline.Device
	runtime   string
	log       zerolog.Logger
	publisher pipeline.EventPublisher

	// mu is held shared for the length of a call and exclusively by Close.
	mu   sync.RWMutex
	pipe pipeline.Pipeline
}

// New probes the runtime, resolves the device and opens the pipeline the
// adapter will use for its whole lifetime.
//
// A runtime that cannot be resolved fails with a DependencyMissing error
// before any pipeline is opened, so no model download is attempted.
func New(ctx context.Context, rt pipeline.Runtime, modelID string, opts ...Option) (*Adapter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("model id is empty")
	}
	if rt == nil {
		return nil, ErrDependencyMissing("pipeline", errors.New("no runtime configured"))
	}
	cfg := Config{ModelID: modelID, Task: o.task, Device: o.device}
	log := o.logger.With().
		Str("component", "completion").
		Str("runtime", rt.Name()).
		Str("model", modelID).
		Str("task", string(cfg.Task)).
		Logger()

	caps, err := rt.Probe(ctx)
	if err != nil {
		log.Error().Err(err).Str("event", "probe_fail").Msg("runtime probe failed")
		o.publisher.Publish(pipeline.Event{Name: "probe_fail", Subject: modelID, Fields: map[string]any{"runtime": rt.Name(), "error": err.Error()}})
		if pipeline.IsUnavailable(err) {
			return nil, ErrDependencyMissing(rt.Name(), err)
		}
		return nil, fmt.Errorf("probe %s runtime: %w", rt.Name(), err)
	}

	dev := ResolveDevice(cfg.Device, caps)
	log = log.With().Str("device", dev.String()).Logger()
	log.Debug().
		Str("event", "probe_ok").
		Str("version", caps.Version).
		Int("accelerators", caps.AcceleratorCount).
		Msg("runtime probed")

	start := time.Now()
	p, err := rt.Open(ctx, pipeline.Spec{Task: cfg.Task, ModelID: modelID, Device: dev})
	if err != nil {
		log.Error().Err(err).Str("event", "open_fail").Dur("dur", time.Since(start)).Msg("pipeline open failed")
		o.publisher.Publish(pipeline.Event{Name: "open_fail", Subject: modelID, Fields: map[string]any{"device": dev.String(), "error": err.Error()}})
		if pipeline.IsUnavailable(err) {
			return nil, ErrDependencyMissing(rt.Name(), err)
		}
		return nil, fmt.Errorf("open pipeline %q: %w", modelID, err)
	}
	log.Info().Str("event", "ready").Dur("dur", time.Since(start)).Msg("pipeline ready")
	o.publisher.Publish(pipeline.Event{Name: "ready", Subject: modelID, Fields: map[string]any{"device": dev.String(), "task": string(cfg.Task)}})

	return &Adapter{
		cfg:       cfg,
		device:    dev,
		runtime:   rt.Name(),
		pipe:      p,
		log:       log,
		publisher: o.publisher,
	}, nil
}

// Config returns the configuration the adapter was built with.
func (a *Adapter) Config() Config { return a.cfg }

// Device returns the resolved device.
func (a *Adapter) Device() pipeline.Device { return a.device }

// Runtime returns the name of the runtime backing the pipeline.
func (a *Adapter) Runtime() string { return a.runtime }

// Complete runs the prompt through the pipeline and returns the task's
// result field from the first returned sequence.
func (a *Adapter) Complete(ctx context.Context, prompt string, settings RequestSettings) (string, error) {
	return a.do(ctx, prompt, settings, nil)
}

// CompleteStream is Complete with incremental delivery. Pipelines that can
// stream forward tokens to onChunk as they are produced; others deliver the
// final result as a single chunk. The returned string is the extracted result.
func (a *Adapter) CompleteStream(ctx context.Context, prompt string, settings RequestSettings, onChunk func(string) error) (string, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	return a.do(ctx, prompt, settings, onChunk)
}

func (a *Adapter) do(ctx context.Context, prompt string, settings RequestSettings, onChunk func(string) error) (string, error) {
	start := time.Now()
	out, err := a.run(ctx, prompt, settings, onChunk)
	if err != nil {
		a.log.Warn().Err(err).Str("event", "complete_fail").Dur("dur", time.Since(start)).Msg("completion failed")
		return "", &CompletionError{ModelID: a.cfg.ModelID, Task: a.cfg.Task, Cause: err}
	}
	a.log.Debug().Str("event", "complete").Int("chars", len(out)).Dur("dur", time.Since(start)).Msg("completion done")
	return out, nil
}

func (a *Adapter) run(ctx context.Context, prompt string, settings RequestSettings, onChunk func(string) error) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.pipe == nil {
		return "", errors.New("pipeline is closed")
	}
	params, err := buildParams(settings)
	if err != nil {
		return "", err
	}

	var recs []pipeline.Record
	streamed := false
	if s, ok := a.pipe.(pipeline.Streamer); ok && onChunk != nil {
		streamed = true
		recs, err = s.Stream(ctx, prompt, params, onChunk)
	} else {
		recs, err = a.pipe.Run(ctx, prompt, params)
	}
	if err != nil {
		return "", err
	}

	out, err := extract(a.cfg.Task, recs)
	if err != nil {
		return "", err
	}
	if onChunk != nil && !streamed {
		if err := onChunk(out); err != nil {
			return "", err
		}
	}
	return out, nil
}

// Close releases the pipeline once in-flight calls return. Calls made after
// Close fail with CompletionFailed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pipe == nil {
		return nil
	}
	err := a.pipe.Close()
	a.pipe = nil
	a.log.Debug().Str("event", "closed").Msg("pipeline closed")
	return err
}
