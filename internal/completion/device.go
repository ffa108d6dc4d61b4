package completion

import "completiond/internal/pipeline"

// DefaultDevice selects the CPU.
const DefaultDevice = -1

// ResolveDevice maps a device selector to a concrete device: the accelerator
// with that index when selector >= 0 and the runtime reported one, else CPU.
func ResolveDevice(selector int, caps pipeline.Capabilities) pipeline.Device {
	if selector >= 0 && caps.AcceleratorAvailable {
		return pipeline.CUDA(selector)
	}
	return pipeline.CPU
}
