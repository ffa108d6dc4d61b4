package service

import (
	"sync"
	"sync/atomic"
	"time"

	"completiond/internal/config"
)

// State represents the lifecycle state of a service.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
	StateClosed  State = "closed"
)

// instance is one named service bound to a backend.
type instance struct {
	cfg     config.ServiceConfig
	state   State
	err     error
	device  string
	backend Backend

	timeout time.Duration
	maxWait time.Duration
	// queueCh bounds waiting plus running requests; genCh bounds running ones.
	queueCh chan struct{}
	genCh   chan struct{}
	// active counts admitted requests, queued or running.
	active sync.WaitGroup

	lastUsed    time.Time
	lastErr     string
	completions atomic.Uint64
	failures    atomic.Uint64
}

func newInstance(sc config.ServiceConfig) *instance {
	depth := sc.MaxQueueDepth
	if depth <= 0 {
		depth = defaultMaxQueueDepth
	}
	conc := sc.MaxConcurrent
	if conc <= 0 {
		conc = defaultMaxConcurrent
	}
	if conc > depth {
		depth = conc
	}
	wait := time.Duration(sc.MaxWaitMS) * time.Millisecond
	if wait <= 0 {
		wait = defaultMaxWait
	}
	return &instance{
		cfg:     sc,
		state:   StateLoading,
		timeout: time.Duration(sc.TimeoutMS) * time.Millisecond,
		maxWait: wait,
		queueCh: make(chan struct{}, depth),
		genCh:   make(chan struct{}, conc),
	}
}
