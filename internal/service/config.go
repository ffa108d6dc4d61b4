package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"completiond/internal/completion"
	"completiond/internal/config"
	"completiond/internal/pipeline"
)

// Defaults applied when the corresponding ServiceConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxConcurrent = 1
	defaultMaxWait       = 30 * time.Second
)

// Backend is what a service drives. *completion.Adapter satisfies it.
type Backend interface {
	completion.TextCompletion
	Close() error
}

// BuildFunc constructs the backend for one service.
type BuildFunc func(ctx context.Context, rt pipeline.Runtime, sc config.ServiceConfig, opts ...completion.Option) (Backend, error)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Services       []config.ServiceConfig
	DefaultService string
	// Runtimes by name (see config.Runtime* constants).
	Runtimes  map[string]pipeline.Runtime
	Logger    zerolog.Logger
	Publisher pipeline.EventPublisher
	// Build defaults to buildAdapter.
	Build BuildFunc
}

// buildAdapter is the default BuildFunc.
func buildAdapter(ctx context.Context, rt pipeline.Runtime, sc config.ServiceConfig, opts ...completion.Option) (Backend, error) {
	opts = append([]completion.Option{
		completion.WithTask(pipeline.Task(sc.Task)),
		completion.WithDevice(sc.DeviceSelector()),
	}, opts...)
	a, err := completion.New(ctx, rt, sc.Model, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}
