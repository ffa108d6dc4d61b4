package pipeline

import (
	"fmt"
	"strings"
)

// summarizePrompt frames summarization input for plain causal models.
const summarizePrompt = "Summarize the following text.\n\n%s\n\nSummary:"

// PromptFor adapts input for runtimes that only do raw text continuation,
// so that they behave like the task's pipeline.
func PromptFor(task Task, input string) string {
	if task == TaskSummarization {
		return fmt.Sprintf(summarizePrompt, strings.TrimSpace(input))
	}
	return input
}

// StreamPrefix is emitted before the first streamed token so that the
// concatenated stream equals the record RecordFor builds. Only
// text-generation echoes its input.
func StreamPrefix(task Task, input string) string {
	if task == TaskTextGeneration {
		return input
	}
	return ""
}

// RecordFor shapes raw continuation output into the record the task's
// pipeline would return. text-generation echoes the input followed by the
// continuation; text2text-generation returns only the output; summarization
// returns the output under summary_text. Unknown tasks get generated_text.
func RecordFor(task Task, input, output string) Record {
	switch task {
	case TaskTextGeneration:
		return Record{KeyGeneratedText: input + output}
	case TaskSummarization:
		return Record{KeySummaryText: strings.TrimSpace(output)}
	default:
		return Record{KeyGeneratedText: output}
	}
}
