// Package service exposes named completion services, one TextCompletion
// adapter each, and coordinates their use. It is structured into small
// files by concern:
//
//   - manager.go: Manager type, construction of the configured services, Ready, Close.
//   - config.go: Config and package defaults.
//   - types.go: State and the per-service instance.
//   - errors.go: error types and helpers (IsServiceNotFound, IsTooBusy, IsServiceUnavailable).
//   - admission.go: per-service queueing and concurrency admission.
//   - complete.go: Complete and Stream entry points.
//   - status.go: Services/Status reporting, host figures.
//   - metrics.go: Prometheus collectors.
//   - runtimes.go: builds pipeline runtimes from the daemon config.
//
// External packages should use public methods only (New, Open, Ready,
// Services, Status, Complete, Stream, Close).
package service
