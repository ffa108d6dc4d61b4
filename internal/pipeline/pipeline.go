// Package pipeline defines the boundary between completion adapters and the
// external runtimes that execute models. A Runtime creates Pipelines; a
// Pipeline turns a prompt plus generation parameters into result records.
//
// Runtimes in this module:
//
//   - hfserver: transformers pipeline server reached over HTTP.
//   - llamacpp: in-process go-llama.cpp, enabled with `-tags=llama`.
//   - llamaserver: a supervised llama-server subprocess per pipeline.
//   - pipelinetest: scriptable in-memory runtime used by tests.
//
// Tokenization, batching, device placement and weight download are owned by
// the runtime. Nothing in this package retries or caches.
package pipeline

import (
	"context"
	"fmt"
)

// Task names the inference objective of a pipeline.
type Task string

const (
	TaskTextGeneration      Task = "text-generation"
	TaskText2TextGeneration Task = "text2text-generation"
	TaskSummarization       Task = "summarization"
)

// Result record keys produced by pipelines.
const (
	KeyGeneratedText = "generated_text"
	KeySummaryText   = "summary_text"
)

// DeviceKind distinguishes CPU from accelerator placement.
type DeviceKind string

const (
	DeviceCPU  DeviceKind = "cpu"
	DeviceCUDA DeviceKind = "cuda"
)

// Device is a resolved placement for a pipeline.
type Device struct {
	Kind  DeviceKind
	Index int
}

// CPU is the host device.
var CPU = Device{Kind: DeviceCPU}

// CUDA returns the accelerator device with the given index.
func CUDA(index int) Device { return Device{Kind: DeviceCUDA, Index: index} }

// IsAccelerator reports whether d refers to a GPU.
func (d Device) IsAccelerator() bool { return d.Kind == DeviceCUDA }

func (d Device) String() string {
	if d.Kind == DeviceCUDA {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return string(DeviceCPU)
}

// Spec binds a pipeline to a task, a model and a device.
type Spec struct {
	Task    Task
	ModelID string
	Device  Device
}

// Params are generation parameters passed on every pipeline call.
type Params struct {
	Temperature        float64
	TopP               float64
	MaxNewTokens       int
	PadTokenID         int
	NumReturnSequences int
}

// Record is one returned sequence, keyed by result field name
// (e.g. "generated_text", "summary_text").
type Record map[string]string

// Capabilities describes what a runtime reported when probed.
type Capabilities struct {
	// Runtime name, e.g. "hfserver".
	Runtime string
	// Free-form runtime version string(s).
	Version string
	// AcceleratorAvailable is true when at least one GPU is usable.
	AcceleratorAvailable bool
	// AcceleratorCount is the number of usable GPUs (0 when unknown or none).
	AcceleratorCount int
	// Tasks the runtime advertises. Empty means "not advertised".
	Tasks []Task
}

// Runtime creates pipelines. Probe must not download model weights; it only
// checks that the runtime itself is present and reports its capabilities.
type Runtime interface {
	Name() string
	Probe(ctx context.Context) (Capabilities, error)
	Open(ctx context.Context, spec Spec) (Pipeline, error)
}

// Pipeline is a loaded model bound to one Spec.
type Pipeline interface {
	// Run performs inference and returns one record per returned sequence.
	Run(ctx context.Context, prompt string, params Params) ([]Record, error)
	// Close releases model and device resources.
	Close() error
}

// Streamer is implemented by pipelines that can emit tokens while generating.
// The returned records are the same as Run would have returned.
type Streamer interface {
	Stream(ctx context.Context, prompt string, params Params, onToken func(string) error) ([]Record, error)
}
