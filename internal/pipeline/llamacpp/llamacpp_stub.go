//go:build !llama

package llamacpp

import (
	"context"

	"completiond/internal/pipeline"
)

// llamaBuilt indicates whether this binary was compiled with llama support.
var llamaBuilt = false

const notBuilt = "llamacpp: llama support not built (missing 'llama' build tag)"

// Probe always fails: the runtime is not compiled in.
func (r *Runtime) Probe(ctx context.Context) (pipeline.Capabilities, error) {
	return pipeline.Capabilities{}, pipeline.ErrUnavailable(notBuilt)
}

// Open always fails: the runtime is not compiled in.
func (r *Runtime) Open(ctx context.Context, spec pipeline.Spec) (pipeline.Pipeline, error) {
	return nil, pipeline.ErrUnavailable(notBuilt)
}
