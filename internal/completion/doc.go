// Package completion provides the text-completion adapter that sits between
// callers and an external pipeline runtime. It is structured into small
// files by concern:
//
//   - adapter.go: Adapter construction, Complete/CompleteStream, Close.
//   - options.go: functional options and their defaults.
//   - device.go: device selector resolution against probed capabilities.
//   - task.go: task kinds and result-field extraction.
//   - settings.go: request settings and the fixed generation parameters.
//   - errors.go: DependencyMissing, UnsupportedTask, CompletionFailed.
//
// One Adapter owns exactly one pipeline, opened in New and reused for every
// call. The adapter never retries, caches, times out or serializes calls;
// those are the caller's concern (see internal/service).
package completion
