//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"

	"completiond/internal/pipeline"
	"completiond/internal/registry"
)

// llamaBuilt indicates whether this binary was compiled with llama support.
var llamaBuilt = true

// Probe reports the runtime as present; accelerators are detected from
// device nodes.
func (r *Runtime) Probe(ctx context.Context) (pipeline.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Capabilities{}, err
	}
	n := pipeline.CountCUDADevices()
	return pipeline.Capabilities{
		Runtime:              Name,
		Version:              "go-llama.cpp",
		AcceleratorAvailable: n > 0,
		AcceleratorCount:     n,
		Tasks: []pipeline.Task{
			pipeline.TaskTextGeneration,
			pipeline.TaskText2TextGeneration,
			pipeline.TaskSummarization,
		},
	}, nil
}

// Open loads the gguf file resolved from spec.ModelID.
func (r *Runtime) Open(ctx context.Context, spec pipeline.Spec) (pipeline.Pipeline, error) {
	path, err := registry.Resolve(r.cfg.ModelsDir, spec.ModelID)
	if err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{llama.SetContext(r.cfg.ContextSize)}
	if spec.Device.IsAccelerator() {
		mo = append(mo, llama.SetGPULayers(r.cfg.GPULayers), llama.SetMainGPU(strconv.Itoa(spec.Device.Index)))
	}
	start := time.Now()
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("event", "model_loaded").Str("path", path).Str("device", spec.Device.String()).Dur("dur", time.Since(start)).Msg("llama model loaded")
	return &session{model: m, threads: r.cfg.Threads, task: spec.Task}, nil
}

// session owns the loaded model. go-llama.cpp models are not safe for
// concurrent prediction, so calls are serialized.
type session struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	task    pipeline.Task
}

func (s *session) Run(ctx context.Context, prompt string, params pipeline.Params) ([]pipeline.Record, error) {
	return s.Stream(ctx, prompt, params, nil)
}

func (s *session) Stream(ctx context.Context, prompt string, params pipeline.Params, onToken func(string) error) ([]pipeline.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil, errors.New("llamacpp: model not initialized")
	}
	var cbErr error
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken != nil {
			if err := onToken(tok); err != nil {
				cbErr = err
				return false
			}
		}
		return true
	})

	input := pipeline.PromptFor(s.task, prompt)
	if pre := pipeline.StreamPrefix(s.task, prompt); pre != "" && onToken != nil {
		if err := onToken(pre); err != nil {
			return nil, err
		}
	}
	n := max(1, params.NumReturnSequences)
	recs := make([]pipeline.Record, 0, n)
	for i := 0; i < n; i++ {
		text, err := s.model.Predict(input, predictOptions(params, s.threads)...)
		if cbErr != nil {
			return nil, cbErr
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		recs = append(recs, pipeline.RecordFor(s.task, prompt, strings.TrimPrefix(text, input)))
	}
	return recs, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

// predictOptions converts pipeline params into go-llama.cpp options.
// Temperature and top_p are forwarded as given; zero temperature samples
// greedily. MaxNewTokens of zero leaves go-llama.cpp's own token limit in
// place. The pad token has no llama.cpp equivalent and is not forwarded.
func predictOptions(p pipeline.Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(float32(p.TopP)),
		llama.SetTemperature(float32(p.Temperature)),
	}
	if p.MaxNewTokens > 0 {
		po = append(po, llama.SetTokens(p.MaxNewTokens))
	}
	return po
}
