package service

import (
	"context"
	"time"
)

// beginGeneration admits a request on inst: it reserves a queue slot and
// then a run slot. Admitted requests are tracked on inst.active until the
// returned release func runs, so Close can wait for them.
func (m *Manager) beginGeneration(ctx context.Context, inst *instance) (func(), error) {
	name := inst.cfg.Name
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	m.mu.Lock()
	if inst.state != StateReady {
		st, cause := inst.state, inst.err
		m.mu.Unlock()
		return func() {}, serviceUnavailableError{name: name, state: st, cause: cause}
	}
	inst.active.Add(1)
	m.mu.Unlock()

	queued, running := false, false
	defer func() {
		if running {
			return
		}
		if queued {
			<-inst.queueCh
		}
		inst.active.Done()
	}()

	timer := time.NewTimer(inst.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
		queued = true
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{service: name}
	}

	// Both stages share one timer: total wait is bounded by maxWait.
	select {
	case inst.genCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{service: name}
	}

	m.mu.Lock()
	if inst.state != StateReady {
		st := inst.state
		m.mu.Unlock()
		<-inst.genCh
		return func() {}, serviceUnavailableError{name: name, state: st}
	}
	inst.lastUsed = time.Now()
	m.mu.Unlock()
	running = true
	return func() {
		<-inst.genCh
		<-inst.queueCh
		inst.active.Done()
	}, nil
}
