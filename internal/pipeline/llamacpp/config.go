// Package llamacpp runs pipelines in-process through go-llama.cpp.
//
// The real runtime is compiled only with `-tags=llama` (cgo, links
// libllama from ./bin). Default builds get a stub whose Probe reports the
// runtime as unavailable, so adapters fail at construction with a clear
// dependency error instead of at call time.
package llamacpp

import (
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
)

// Name is the runtime name reported in capabilities and logs.
const Name = "llamacpp"

const defaultContextSize = 2048

// Config configures the in-process runtime.
type Config struct {
	// ModelsDir is scanned to resolve model ids to gguf files.
	ModelsDir string
	// ContextSize in tokens. Zero uses 2048.
	ContextSize int
	// Threads used for generation. Zero uses the physical core count.
	Threads int
	// GPULayers offloaded when the pipeline is placed on an accelerator.
	// Zero offloads every layer.
	GPULayers int
}

// Runtime is the go-llama.cpp pipeline runtime.
type Runtime struct {
	cfg Config
	log zerolog.Logger
}

// New constructs the runtime. Nothing is loaded until Open.
func New(cfg Config, log zerolog.Logger) *Runtime {
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = defaultContextSize
	}
	if cfg.Threads <= 0 {
		cfg.Threads = defaultThreads()
	}
	if cfg.GPULayers <= 0 {
		cfg.GPULayers = allLayers
	}
	return &Runtime{cfg: cfg, log: log.With().Str("runtime", Name).Logger()}
}

// allLayers is larger than the layer count of any supported model.
const allLayers = 999

func (r *Runtime) Name() string { return Name }

// Config returns the effective configuration.
func (r *Runtime) Config() Config { return r.cfg }

// defaultThreads returns the physical core count, falling back to logical
// cores and then to 4.
func defaultThreads() int {
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		return n
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return 4
}
