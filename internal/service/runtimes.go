package service

import (
	"time"

	"github.com/rs/zerolog"

	"completiond/internal/config"
	"completiond/internal/pipeline"
	"completiond/internal/pipeline/hfserver"
	"completiond/internal/pipeline/llamacpp"
	"completiond/internal/pipeline/llamaserver"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// BuildRuntimes constructs the runtimes the configured services refer to.
func BuildRuntimes(cfg config.Config, log zerolog.Logger, pub pipeline.EventPublisher) map[string]pipeline.Runtime {
	used := map[string]bool{}
	for _, s := range cfg.Services {
		used[s.Runtime] = true
	}
	out := make(map[string]pipeline.Runtime, len(used))
	for name := range used {
		if rt := NewRuntime(name, cfg, log, pub); rt != nil {
			out[name] = rt
		}
	}
	return out
}

// NewRuntime constructs one runtime by name; nil for unknown names.
func NewRuntime(name string, cfg config.Config, log zerolog.Logger, pub pipeline.EventPublisher) pipeline.Runtime {
	switch name {
	case config.RuntimeHFServer:
		h := cfg.HFServer
		return hfserver.New(hfserver.Config{
			BaseURL:        h.URL,
			Token:          h.Token,
			ConnectTimeout: ms(h.ConnectTimeoutMS),
			LoadTimeout:    ms(h.LoadTimeoutMS),
			RequestTimeout: ms(h.RequestTimeoutMS),
			ProbeTTL:       ms(h.ProbeTTLMS),
		}, log)
	case config.RuntimeLlamaCpp:
		l := cfg.Llama
		return llamacpp.New(llamacpp.Config{
			ModelsDir:   l.ModelsDir,
			ContextSize: l.ContextSize,
			Threads:     l.Threads,
			GPULayers:   l.GPULayers,
		}, log)
	case config.RuntimeLlamaServer:
		l := cfg.Llama
		return llamaserver.New(llamaserver.Config{
			Bin:          l.Bin,
			Host:         l.Host,
			PortStart:    l.PortStart,
			PortEnd:      l.PortEnd,
			ModelsDir:    l.ModelsDir,
			ContextSize:  l.ContextSize,
			Threads:      l.Threads,
			GPULayers:    l.GPULayers,
			ExtraArgs:    l.ExtraArgs,
			ReadyTimeout: ms(l.ReadyTimeoutMS),
		}, log, pub)
	}
	return nil
}
