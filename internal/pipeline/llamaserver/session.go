package llamaserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"completiond/internal/pipeline"
)

// session is one spawned llama-server bound to a task.
type session struct {
	rt   *Runtime
	proc *procInfo
	task pipeline.Task
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	N           int     `json:"n,omitempty"`
	Stream      bool    `json:"stream"`
}

// streamChoice is a minimal subset of an OpenAI completion stream chunk.
type streamChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

func (s *session) Run(ctx context.Context, prompt string, params pipeline.Params) ([]pipeline.Record, error) {
	return s.Stream(ctx, prompt, params, nil)
}

// Stream posts a streaming completion and forwards choice 0 fragments to
// onToken. The pad token has no llama-server equivalent and is not sent.
func (s *session) Stream(ctx context.Context, prompt string, params pipeline.Params, onToken func(string) error) ([]pipeline.Record, error) {
	if s.proc == nil {
		return nil, errors.New("llamaserver: session closed")
	}
	if s.rt.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.rt.cfg.RequestTimeout)
		defer cancel()
	}
	n := max(1, params.NumReturnSequences)
	payload := completionRequest{
		Prompt:      pipeline.PromptFor(s.task, prompt),
		MaxTokens:   params.MaxNewTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		N:           n,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.proc.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.rt.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, stderrTailBytes))
		return nil, fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	if pre := pipeline.StreamPrefix(s.task, prompt); pre != "" && onToken != nil {
		if err := onToken(pre); err != nil {
			return nil, err
		}
	}
	outs := make([]strings.Builder, n)
	rd := bufio.NewReader(resp.Body)
	for {
		line, rerr := rd.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg streamResponse
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				s.rt.log.Debug().Str("event", "unknown_stream_line").Str("line", l).Msg("skipping stream line")
			}
			for _, c := range msg.Choices {
				if c.Index < 0 || c.Index >= n || c.Text == "" {
					continue
				}
				outs[c.Index].WriteString(c.Text)
				if c.Index == 0 && onToken != nil {
					if err := onToken(c.Text); err != nil {
						return nil, err
					}
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, rerr
		}
	}

	recs := make([]pipeline.Record, 0, n)
	for i := range outs {
		recs = append(recs, pipeline.RecordFor(s.task, prompt, outs[i].String()))
	}
	return recs, nil
}

// Close stops the llama-server process.
func (s *session) Close() error {
	if s.proc == nil {
		return nil
	}
	err := s.rt.stop(s.proc)
	s.proc = nil
	return err
}
