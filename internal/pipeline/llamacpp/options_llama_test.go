//go:build llama

package llamacpp

import (
	"testing"

	llama "github.com/go-skynet/go-llama.cpp"

	"completiond/internal/pipeline"
)

func TestPredictOptions_ZeroSamplingIsForwarded(t *testing.T) {
	o := llama.NewPredictOptions(predictOptions(pipeline.Params{Temperature: 0, TopP: 0, MaxNewTokens: 12}, 4)...)
	if o.Temperature != 0 || o.TopP != 0 {
		t.Fatalf("zero sampling settings must be forwarded, got temperature=%v top_p=%v", o.Temperature, o.TopP)
	}
	if o.Tokens != 12 || o.Threads != 4 {
		t.Fatalf("unexpected tokens/threads: %d/%d", o.Tokens, o.Threads)
	}

	o = llama.NewPredictOptions(predictOptions(pipeline.Params{Temperature: 0.7, TopP: 0.9}, 0)...)
	if o.Temperature != float32(0.7) || o.TopP != float32(0.9) || o.Threads != 1 {
		t.Fatalf("unexpected options: %+v", o)
	}
}
