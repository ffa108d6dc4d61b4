package completion

import (
	"fmt"

	"completiond/internal/pipeline"
)

// PadTokenID is the end-of-sequence token used as padding on every call.
const PadTokenID = 50256

// RequestSettings carries per-call generation settings. The adapter owns no
// defaults; zero values are passed through to the runtime as-is.
type RequestSettings struct {
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// buildParams translates settings into pipeline parameters. A single
// sequence is always requested.
func buildParams(s RequestSettings) (pipeline.Params, error) {
	if s.MaxTokens < 0 {
		return pipeline.Params{}, fmt.Errorf("%w: max_tokens must be >= 0, got %d", ErrInvalidSettings, s.MaxTokens)
	}
	if s.Temperature < 0 {
		return pipeline.Params{}, fmt.Errorf("%w: temperature must be >= 0, got %g", ErrInvalidSettings, s.Temperature)
	}
	if s.TopP < 0 || s.TopP > 1 {
		return pipeline.Params{}, fmt.Errorf("%w: top_p must be within [0, 1], got %g", ErrInvalidSettings, s.TopP)
	}
	return pipeline.Params{
		Temperature:        s.Temperature,
		TopP:               s.TopP,
		MaxNewTokens:       s.MaxTokens,
		PadTokenID:         PadTokenID,
		NumReturnSequences: 1,
	}, nil
}
