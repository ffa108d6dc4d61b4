// Package pipelinetest provides a scriptable in-memory pipeline runtime.
package pipelinetest

import (
	"context"
	"strings"
	"sync"

	"completiond/internal/pipeline"
)

// Call records one pipeline invocation.
type Call struct {
	Prompt string
	Params pipeline.Params
}

// Runtime is a fake pipeline.Runtime. Zero value probes successfully on CPU
// and opens pipelines that echo the prompt under the task's result key.
type Runtime struct {
	// RuntimeName defaults to "fake".
	RuntimeName string
	Caps        pipeline.Capabilities
	ProbeErr    error
	OpenErr     error
	// Records, when set, are returned verbatim by Run.
	Records []pipeline.Record
	RunErr  error
	// Tokens, when set, makes opened pipelines implement pipeline.Streamer
	// and emit these tokens before returning Records.
	Tokens []string
	// Block makes Run wait for ctx cancellation.
	Block bool

	mu     sync.Mutex
	probes int
	opens  []pipeline.Spec
	calls  []Call
	closed int
}

var _ pipeline.Runtime = (*Runtime)(nil)

func (r *Runtime) Name() string {
	if r.RuntimeName == "" {
		return "fake"
	}
	return r.RuntimeName
}

func (r *Runtime) Probe(ctx context.Context) (pipeline.Capabilities, error) {
	r.mu.Lock()
	r.probes++
	r.mu.Unlock()
	if r.ProbeErr != nil {
		return pipeline.Capabilities{}, r.ProbeErr
	}
	caps := r.Caps
	if caps.Runtime == "" {
		caps.Runtime = r.Name()
	}
	return caps, nil
}

func (r *Runtime) Open(ctx context.Context, spec pipeline.Spec) (pipeline.Pipeline, error) {
	r.mu.Lock()
	r.opens = append(r.opens, spec)
	r.mu.Unlock()
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	p := &Pipeline{rt: r, spec: spec}
	if len(r.Tokens) > 0 {
		return &StreamingPipeline{Pipeline: p}, nil
	}
	return p, nil
}

// Probes returns how many times Probe was called.
func (r *Runtime) Probes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes
}

// Opens returns the specs passed to Open.
func (r *Runtime) Opens() []pipeline.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Spec(nil), r.opens...)
}

// Calls returns every Run/Stream invocation.
func (r *Runtime) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Closed returns how many pipelines were closed.
func (r *Runtime) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Pipeline is the fake pipeline handed out by Runtime.
type Pipeline struct {
	rt   *Runtime
	spec pipeline.Spec
}

func (p *Pipeline) Run(ctx context.Context, prompt string, params pipeline.Params) ([]pipeline.Record, error) {
	p.rt.mu.Lock()
	p.rt.calls = append(p.rt.calls, Call{Prompt: prompt, Params: params})
	p.rt.mu.Unlock()
	if p.rt.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.rt.RunErr != nil {
		return nil, p.rt.RunErr
	}
	if p.rt.Records != nil {
		return p.rt.Records, nil
	}
	return []pipeline.Record{{p.key(): "echo: " + prompt}}, nil
}

func (p *Pipeline) key() string {
	if p.spec.Task == pipeline.TaskSummarization {
		return pipeline.KeySummaryText
	}
	return pipeline.KeyGeneratedText
}

func (p *Pipeline) Close() error {
	p.rt.mu.Lock()
	p.rt.closed++
	p.rt.mu.Unlock()
	return nil
}

// StreamingPipeline additionally implements pipeline.Streamer.
type StreamingPipeline struct {
	*Pipeline
}

func (p *StreamingPipeline) Stream(ctx context.Context, prompt string, params pipeline.Params, onToken func(string) error) ([]pipeline.Record, error) {
	for _, tok := range p.rt.Tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := onToken(tok); err != nil {
			return nil, err
		}
	}
	if p.rt.Records == nil {
		p.rt.mu.Lock()
		p.rt.calls = append(p.rt.calls, Call{Prompt: prompt, Params: params})
		p.rt.mu.Unlock()
		return []pipeline.Record{{p.key(): strings.Join(p.rt.Tokens, "")}}, nil
	}
	return p.Run(ctx, prompt, params)
}
