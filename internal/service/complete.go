package service

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"completiond/internal/completion"
	"completiond/internal/config"
	"completiond/internal/pipeline"
	"completiond/pkg/types"
)

// Complete runs req on its service and returns the whole completion.
func (m *Manager) Complete(ctx context.Context, req types.CompleteRequest) (types.CompleteResponse, error) {
	return m.run(ctx, req, nil)
}

// Stream runs req on its service and writes NDJSON to w: one token line per
// chunk followed by a final line carrying the CompleteResponse with done set.
// flush, when non-nil, is called after every line.
func (m *Manager) Stream(ctx context.Context, req types.CompleteRequest, w io.Writer, flush func()) error {
	writeLine := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	}
	resp, err := m.run(ctx, req, func(tok string) error {
		return writeLine(types.TokenLine{Token: tok})
	})
	if err != nil {
		return err
	}
	resp.Done = true
	return writeLine(resp)
}

func (m *Manager) run(ctx context.Context, req types.CompleteRequest, onChunk func(string) error) (types.CompleteResponse, error) {
	inst, err := m.lookup(req.Service)
	if err != nil {
		return types.CompleteResponse{}, err
	}
	sc := inst.cfg
	release, err := m.beginGeneration(ctx, inst)
	if err != nil {
		if IsTooBusy(err) {
			completionsTotal.WithLabelValues(sc.Name, sc.Task, "busy").Inc()
		}
		return types.CompleteResponse{}, err
	}
	defer release()

	if inst.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inst.timeout)
		defer cancel()
	}

	id := uuid.NewString()
	settings := mergeSettings(sc.Defaults, req)
	start := time.Now()
	var out string
	if onChunk != nil {
		out, err = inst.backend.CompleteStream(ctx, req.Prompt, settings, onChunk)
	} else {
		out, err = inst.backend.Complete(ctx, req.Prompt, settings)
	}
	dur := time.Since(start)
	completionDuration.WithLabelValues(sc.Name, sc.Task).Observe(dur.Seconds())

	if err != nil {
		inst.failures.Add(1)
		m.mu.Lock()
		inst.lastErr = err.Error()
		m.mu.Unlock()
		completionsTotal.WithLabelValues(sc.Name, sc.Task, "error").Inc()
		m.log.Warn().Err(err).Str("event", "complete_fail").Str("service", sc.Name).Str("id", id).Dur("dur", dur).Msg("completion failed")
		m.publisher.Publish(pipeline.Event{Name: "complete_fail", Subject: sc.Name, Fields: map[string]any{"id": id, "error": err.Error()}})
		return types.CompleteResponse{}, err
	}
	inst.completions.Add(1)
	completionsTotal.WithLabelValues(sc.Name, sc.Task, "ok").Inc()
	m.log.Debug().Str("event", "complete").Str("service", sc.Name).Str("id", id).Int("chars", len(out)).Dur("dur", dur).Msg("completion done")
	m.publisher.Publish(pipeline.Event{Name: "complete", Subject: sc.Name, Fields: map[string]any{"id": id, "dur_ms": dur.Milliseconds()}})

	task := sc.Task
	if task == "" {
		task = string(completion.DefaultTask)
	}
	return types.CompleteResponse{
		ID:         id,
		Service:    sc.Name,
		Model:      sc.Model,
		Task:       task,
		Content:    out,
		DurationMS: dur.Milliseconds(),
	}, nil
}

// mergeSettings overlays the request's explicit settings on the service defaults.
func mergeSettings(d config.SettingsConfig, req types.CompleteRequest) completion.RequestSettings {
	s := completion.RequestSettings{Temperature: d.Temperature, TopP: d.TopP, MaxTokens: d.MaxTokens}
	if req.Temperature != nil {
		s.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		s.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		s.MaxTokens = *req.MaxTokens
	}
	return s
}
