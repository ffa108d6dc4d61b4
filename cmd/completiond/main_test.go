package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"completiond/pkg/types"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("event", "x").Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"event":"x"`) {
		t.Fatalf("unexpected output: %q", buf.String())
	}
	if _, err := newLogger(&buf, "loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := newLogger(&buf, "", "console"); err != nil {
		t.Fatalf("empty level should default: %v", err)
	}
}

// fakePipelineServer speaks the pipeline server protocol and echoes inputs.
func fakePipelineServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var deletes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","transformers":"4.44.0","torch":"2.4.0"}`))
	})
	mux.HandleFunc("POST /pipelines", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p1"}`))
	})
	mux.HandleFunc("POST /pipelines/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs string `json:"inputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode([]map[string]string{{"generated_text": "fr: " + req.Inputs}})
	})
	mux.HandleFunc("DELETE /pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		deletes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &deletes
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := buildRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--env-file", "", "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCompleteCommand(t *testing.T) {
	t.Setenv("COMPLETIOND_CONFIG", "")
	srv, deletes := fakePipelineServer(t)
	out, err := execute(t, "complete", "--model", "t5-small", "--hf-url", srv.URL, "Translate to French: Hello")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if strings.TrimSpace(out) != "fr: Translate to French: Hello" {
		t.Fatalf("unexpected output %q", out)
	}
	if deletes.Load() != 1 {
		t.Fatalf("expected the pipeline to be closed, got %d deletes", deletes.Load())
	}
}

func TestCompleteCommandJSON(t *testing.T) {
	srv, _ := fakePipelineServer(t)
	out, err := execute(t, "complete", "--model", "gpt2", "--task", "text-generation", "--hf-url", srv.URL, "--json", "--prompt", "Once")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	var resp types.CompleteResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("json: %v (%q)", err, out)
	}
	if resp.Task != "text-generation" || resp.Content != "fr: Once" || resp.Service != "gpt2" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCompleteCommandDependencyMissing(t *testing.T) {
	_, err := execute(t, "complete", "--model", "t5-small", "--hf-url", "", "hi")
	if err == nil || !strings.Contains(err.Error(), "not available") {
		t.Fatalf("expected a missing-runtime error, got %v", err)
	}
}

func TestCompleteCommandNeedsPrompt(t *testing.T) {
	if _, err := execute(t, "complete", "--model", "t5-small"); err == nil {
		t.Fatalf("expected an error without a prompt")
	}
}

func TestServicesCommand(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "completiond.yaml")
	cfg := "services:\n  - name: t5\n    model: t5-small\n  - name: bart\n    model: facebook/bart-large-cnn\n    task: summarization\n"
	if err := os.WriteFile(p, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", p, "services")
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	var resp types.ServicesResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Default != "t5" || len(resp.Services) != 2 || resp.Services[0].Task != "text2text-generation" {
		t.Fatalf("unexpected services: %+v", resp)
	}
}

func TestProbeCommand(t *testing.T) {
	srv, _ := fakePipelineServer(t)
	out, err := execute(t, "probe", "--runtime", "hfserver", "--hf-url", srv.URL)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out, "transformers=4.44.0") {
		t.Fatalf("unexpected probe output %q", out)
	}
	if _, err := execute(t, "probe", "--runtime", "onnx"); err == nil {
		t.Fatalf("expected unknown runtime error")
	}
}
