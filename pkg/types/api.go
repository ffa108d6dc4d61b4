package types

// CompleteRequest represents a completion request payload.
type CompleteRequest struct {
	// Optional service name. If empty, the server default is used.
	// example: t5
	Service string `json:"service,omitempty" example:"t5"`
	// Required prompt text to complete.
	// example: Translate to French: Hello
	Prompt string `json:"prompt" example:"Translate to French: Hello"`
	// If true, stream results as NDJSON tokens followed by a final done line.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate. Omitted uses the service default.
	// example: 20
	MaxTokens *int `json:"max_tokens,omitempty" example:"20"`
	// Sampling temperature. Omitted uses the service default.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability. Omitted uses the service default.
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
}

// CompleteResponse is returned by POST /complete when stream is false, and
// is the payload of the final NDJSON line when it is true.
type CompleteResponse struct {
	// Completion identifier.
	// example: 2f6c5f0e-4d0a-4a53-9b7e-5a1f7c3f0a11
	ID string `json:"id" example:"2f6c5f0e-4d0a-4a53-9b7e-5a1f7c3f0a11"`
	// Service that produced the completion.
	// example: t5
	Service string `json:"service" example:"t5"`
	// Model behind the service.
	// example: t5-small
	Model string `json:"model" example:"t5-small"`
	// Pipeline task.
	// example: text2text-generation
	Task string `json:"task" example:"text2text-generation"`
	// Completion text.
	// example: Bonjour
	Content string `json:"content" example:"Bonjour"`
	// Set on the final line of a streamed response.
	Done bool `json:"done,omitempty"`
	// Wall time spent in the pipeline in milliseconds.
	// example: 120
	DurationMS int64 `json:"duration_ms" example:"120"`
}

// TokenLine is one streamed NDJSON token line.
type TokenLine struct {
	// example: Bon
	Token string `json:"token" example:"Bon"`
}

// ServicesResponse wraps the list returned by GET /services.
type ServicesResponse struct {
	Services []ServiceInfo `json:"services"`
	// Name of the service used when a request names none.
	// example: t5
	Default string `json:"default" example:"t5"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ServiceStatus summarizes one service for /status.
type ServiceStatus struct {
	ServiceInfo
	// Current queue length.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Requests currently running in the pipeline.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Completed requests.
	// example: 12
	CompletionsTotal uint64 `json:"completions_total" example:"12"`
	// Failed requests.
	// example: 1
	FailuresTotal uint64 `json:"failures_total" example:"1"`
	// Last time this service served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix,omitempty" example:"1700000000"`
	// Last failure message, if any.
	LastError string `json:"last_error,omitempty"`
}

// HostStatus carries host resource figures.
type HostStatus struct {
	// example: 8
	CPUCores int `json:"cpu_cores" example:"8"`
	// example: 16777216000
	MemTotalBytes uint64 `json:"mem_total_bytes" example:"16777216000"`
	// example: 8388608000
	MemAvailableBytes uint64 `json:"mem_available_bytes" example:"8388608000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Services []ServiceStatus `json:"services"`
	// Overall state: ready when the default service is ready.
	// example: ready
	State string `json:"state" example:"ready"`
	// example: t5
	Default string `json:"default" example:"t5"`
	// Host resources; omitted when unavailable.
	Host *HostStatus `json:"host,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
