package service

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"completiond/internal/completion"
	"completiond/pkg/types"
)

// Services lists the configured services in configuration order.
func (m *Manager) Services() []types.ServiceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ServiceInfo, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.info(m.services[name]))
	}
	return out
}

// info must be called with m.mu held.
func (m *Manager) info(inst *instance) types.ServiceInfo {
	task := inst.cfg.Task
	if task == "" {
		task = string(completion.DefaultTask)
	}
	si := types.ServiceInfo{
		Name:    inst.cfg.Name,
		Runtime: inst.cfg.Runtime,
		Model:   inst.cfg.Model,
		Task:    task,
		Device:  inst.device,
		State:   string(inst.state),
	}
	if inst.err != nil {
		si.Error = inst.err.Error()
	}
	return si
}

// Status builds a detailed status response for /status.
func (m *Manager) Status(ctx context.Context) types.StatusResponse {
	now := time.Now()
	m.mu.RLock()
	resp := types.StatusResponse{
		Default:        m.defaultName,
		State:          string(m.services[m.defaultName].state),
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
		Services:       make([]types.ServiceStatus, 0, len(m.order)),
	}
	for _, name := range m.order {
		inst := m.services[name]
		st := types.ServiceStatus{
			ServiceInfo:      m.info(inst),
			QueueLen:         max(0, len(inst.queueCh)-len(inst.genCh)),
			Inflight:         len(inst.genCh),
			MaxQueueDepth:    cap(inst.queueCh),
			CompletionsTotal: inst.completions.Load(),
			FailuresTotal:    inst.failures.Load(),
			LastError:        inst.lastErr,
		}
		if !inst.lastUsed.IsZero() {
			st.LastUsed = inst.lastUsed.Unix()
		}
		resp.Services = append(resp.Services, st)
	}
	hostStatus := m.hostStatus
	m.mu.RUnlock()

	if hostStatus != nil {
		resp.Host = hostStatus(ctx)
	}
	return resp
}

// readHost reports host figures; nil when the platform gives none.
func readHost(ctx context.Context) *types.HostStatus {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil
	}
	h := &types.HostStatus{MemTotalBytes: vm.Total, MemAvailableBytes: vm.Available}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.CPUCores = n
	}
	return h
}
