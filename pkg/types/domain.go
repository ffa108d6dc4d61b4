package types

// ServiceInfo describes a configured completion service.
type ServiceInfo struct {
	// Stable service name.
	// example: t5
	Name string `json:"name" example:"t5"`
	// Runtime backing the service (hfserver, llamacpp, llamaserver).
	// example: hfserver
	Runtime string `json:"runtime" example:"hfserver"`
	// Model identifier passed to the runtime.
	// example: t5-small
	Model string `json:"model" example:"t5-small"`
	// Pipeline task.
	// example: text2text-generation
	Task string `json:"task" example:"text2text-generation"`
	// Resolved device; empty until the pipeline is open.
	// example: cpu
	Device string `json:"device,omitempty" example:"cpu"`
	// Lifecycle state: loading, ready, error or closed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Construction error when State is error.
	Error string `json:"error,omitempty"`
}
