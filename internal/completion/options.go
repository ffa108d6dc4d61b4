package completion

import (
	"github.com/rs/zerolog"

	"completiond/internal/pipeline"
)

// Config is the immutable configuration an Adapter was built with.
type Config struct {
	ModelID string
	Task    pipeline.Task
	// Device selector: -1 for CPU, >= 0 for a GPU index.
	Device int
}

// Option configures New.
type Option func(*options)

type options struct {
	task      pipeline.Task
	device    int
	logger    zerolog.Logger
	publisher pipeline.EventPublisher
}

func defaultOptions() options {
	return options{
		task:      DefaultTask,
		device:    DefaultDevice,
		logger:    zerolog.Nop(),
		publisher: pipeline.NoopPublisher{},
	}
}

// WithTask sets the pipeline task. Empty keeps DefaultTask.
func WithTask(t pipeline.Task) Option {
	return func(o *options) {
		if t != "" {
			o.task = t
		}
	}
}

// WithDevice sets the device selector (-1 CPU, >= 0 GPU index).
func WithDevice(selector int) Option {
	return func(o *options) { o.device = selector }
}

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPublisher installs an event publisher. nil keeps the no-op publisher.
func WithPublisher(p pipeline.EventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}
