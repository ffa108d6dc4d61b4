package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"completiond/internal/completion"
	"completiond/internal/pipeline"
	"completiond/pkg/types"
)

// Manager owns the configured services.
type Manager struct {
	mu          sync.RWMutex
	services    map[string]*instance
	order       []string
	defaultName string
	runtimes    map[string]pipeline.Runtime
	build       BuildFunc
	log         zerolog.Logger
	publisher   pipeline.EventPublisher
	startTime   time.Time
	// hostStatus is swappable in tests.
	hostStatus func(ctx context.Context) *types.HostStatus
}

// New registers the configured services in the loading state. Call Open to
// construct their backends.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Services) == 0 {
		return nil, errors.New("no services configured")
	}
	m := &Manager{
		services:   make(map[string]*instance, len(cfg.Services)),
		runtimes:   cfg.Runtimes,
		build:      cfg.Build,
		log:        cfg.Logger.With().Str("component", "service").Logger(),
		publisher:  cfg.Publisher,
		startTime:  time.Now(),
		hostStatus: readHost,
	}
	if m.build == nil {
		m.build = buildAdapter
	}
	if m.publisher == nil {
		m.publisher = pipeline.NoopPublisher{}
	}
	for _, sc := range cfg.Services {
		if _, dup := m.services[sc.Name]; dup {
			return nil, fmt.Errorf("duplicate service name %q", sc.Name)
		}
		m.services[sc.Name] = newInstance(sc)
		m.order = append(m.order, sc.Name)
	}
	m.defaultName = cfg.DefaultService
	if m.defaultName == "" {
		m.defaultName = m.order[0]
	}
	if _, ok := m.services[m.defaultName]; !ok {
		return nil, ErrServiceNotFound(m.defaultName)
	}
	return m, nil
}

// Open constructs the backend of every loading service, in configuration
// order. A service whose construction fails is marked error and the others
// still come up. It returns the joined construction errors.
func (m *Manager) Open(ctx context.Context) error {
	var errs []error
	for _, name := range m.order {
		m.mu.RLock()
		inst := m.services[name]
		st := inst.state
		m.mu.RUnlock()
		if st != StateLoading {
			continue
		}
		if err := m.openInstance(ctx, inst); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) openInstance(ctx context.Context, inst *instance) error {
	sc := inst.cfg
	log := m.log.With().Str("service", sc.Name).Str("runtime", sc.Runtime).Str("model", sc.Model).Logger()
	start := time.Now()

	rt := m.runtimes[sc.Runtime]
	var (
		b   Backend
		err error
	)
	if rt == nil {
		err = completion.ErrDependencyMissing(sc.Runtime, errors.New("runtime not configured"))
	} else {
		b, err = m.build(ctx, rt, sc, completion.WithLogger(log), completion.WithPublisher(m.publisher))
	}
	if err != nil {
		m.mu.Lock()
		inst.state = StateError
		inst.err = err
		m.mu.Unlock()
		constructFailures.WithLabelValues(sc.Name, sc.Runtime).Inc()
		log.Error().Err(err).Str("event", "service_fail").Dur("dur", time.Since(start)).Msg("service construction failed")
		m.publisher.Publish(pipeline.Event{Name: "service_fail", Subject: sc.Name, Fields: map[string]any{"error": err.Error()}})
		return err
	}

	dev := ""
	if d, ok := b.(interface{ Device() pipeline.Device }); ok {
		dev = d.Device().String()
	}
	m.mu.Lock()
	if inst.state == StateClosed {
		m.mu.Unlock()
		_ = b.Close()
		return serviceUnavailableError{name: sc.Name, state: StateClosed}
	}
	inst.backend = b
	inst.device = dev
	inst.state = StateReady
	m.mu.Unlock()
	log.Info().Str("event", "service_ready").Str("device", dev).Dur("dur", time.Since(start)).Msg("service ready")
	m.publisher.Publish(pipeline.Event{Name: "service_ready", Subject: sc.Name, Fields: map[string]any{"device": dev}})
	return nil
}

// Ready reports whether the default service can take requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.services[m.defaultName].state == StateReady
}

// DefaultService returns the name used when a request names none.
func (m *Manager) DefaultService() string { return m.defaultName }

// lookup resolves a service by name ("" means the default).
func (m *Manager) lookup(name string) (*instance, error) {
	if name == "" {
		name = m.defaultName
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.services[name]
	if !ok {
		return nil, ErrServiceNotFound(name)
	}
	if inst.state != StateReady {
		return nil, serviceUnavailableError{name: name, state: inst.state, cause: inst.err}
	}
	return inst, nil
}

// Close marks every service closed and releases the ready backends.
// Admitted requests are drained first, bounded by ctx. A backend that still
// has requests running when ctx is done is closed once they return.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	var toClose []*instance
	for _, name := range m.order {
		inst := m.services[name]
		if inst.state == StateReady {
			toClose = append(toClose, inst)
		}
		inst.state = StateClosed
	}
	m.mu.Unlock()

	var errs []error
	for _, inst := range toClose {
		idle := m.idle(inst)
		select {
		case <-idle:
			if err := m.closeBackend(inst); err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			m.log.Warn().Str("event", "drain_timeout").Str("service", inst.cfg.Name).Int("inflight", len(inst.genCh)).Msg("closing once in-flight requests return")
			go func() {
				<-idle
				if err := m.closeBackend(inst); err != nil {
					m.log.Error().Err(err).Str("event", "close_fail").Str("service", inst.cfg.Name).Msg("deferred close failed")
				}
			}()
		}
	}
	return errors.Join(errs...)
}

// idle is closed once inst has no admitted requests. The state must already
// be closed so no new request can be admitted.
func (m *Manager) idle(inst *instance) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		inst.active.Wait()
		close(done)
	}()
	return done
}

func (m *Manager) closeBackend(inst *instance) error {
	if err := inst.backend.Close(); err != nil {
		return fmt.Errorf("close %s: %w", inst.cfg.Name, err)
	}
	m.log.Debug().Str("event", "service_closed").Str("service", inst.cfg.Name).Msg("service closed")
	return nil
}
