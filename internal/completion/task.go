package completion

import (
	"fmt"

	"completiond/internal/pipeline"
)

// DefaultTask is used when no task is configured. It behaves most like a
// general-purpose completion model.
const DefaultTask = pipeline.TaskText2TextGeneration

// supportedTasks lists the task kinds Complete can extract results for.
var supportedTasks = []pipeline.Task{
	pipeline.TaskTextGeneration,
	pipeline.TaskText2TextGeneration,
	pipeline.TaskSummarization,
}

// SupportedTasks returns the task kinds Complete can extract results for.
func SupportedTasks() []pipeline.Task {
	out := make([]pipeline.Task, len(supportedTasks))
	copy(out, supportedTasks)
	return out
}

// resultKey maps a task kind to the record field holding its output.
func resultKey(task pipeline.Task) (string, error) {
	switch task {
	case pipeline.TaskTextGeneration, pipeline.TaskText2TextGeneration:
		return pipeline.KeyGeneratedText, nil
	case pipeline.TaskSummarization:
		return pipeline.KeySummaryText, nil
	default:
		return "", &UnsupportedTaskError{Task: task}
	}
}

// extract returns the task's result field from the first record, unmodified.
func extract(task pipeline.Task, recs []pipeline.Record) (string, error) {
	key, err := resultKey(task)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", ErrNoResults
	}
	v, ok := recs[0][key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingField, key)
	}
	return v, nil
}
