package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"completiond/internal/config"
	"completiond/internal/httpapi"
	"completiond/internal/pipeline"
	"completiond/internal/service"
)

// pipelineServer is an in-process stand-in for the transformers pipeline
// server. Run answers with the task's result key.
type pipelineServer struct {
	*httptest.Server

	// noTorch makes /health report a missing ML stack.
	noTorch bool
	// gate, when set, holds every run until it is closed.
	gate chan struct{}

	mu      sync.Mutex
	tasks   map[string]string
	runs    []runCall
	started chan struct{}
	deleted int
}

type runCall struct {
	Pipeline   string         `json:"-"`
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters"`
}

func newPipelineServer(t *testing.T, configure func(*pipelineServer)) *pipelineServer {
	t.Helper()
	ps := &pipelineServer{tasks: map[string]string{}, started: make(chan struct{}, 16)}
	if configure != nil {
		configure(ps)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		h := map[string]any{"status": "ok", "transformers": "4.44.0", "torch": "2.4.0", "cuda_available": false}
		if ps.noTorch {
			delete(h, "torch")
		}
		_ = json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("POST /pipelines", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Task, Model, Device string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		ps.mu.Lock()
		id := req.Model + "#" + req.Task
		ps.tasks[id] = req.Task
		ps.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("POST /pipelines/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		var call runCall
		_ = json.NewDecoder(r.Body).Decode(&call)
		call.Pipeline = r.PathValue("id")
		ps.mu.Lock()
		ps.runs = append(ps.runs, call)
		task := ps.tasks[call.Pipeline]
		ps.mu.Unlock()
		ps.started <- struct{}{}
		if ps.gate != nil {
			select {
			case <-ps.gate:
			case <-r.Context().Done():
				return
			}
		}
		key := "generated_text"
		if task == "summarization" {
			key = "summary_text"
		}
		_ = json.NewEncoder(w).Encode([]map[string]string{{key: "out(" + call.Inputs + ")"}})
	})
	mux.HandleFunc("DELETE /pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.deleted++
		ps.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pipelineServer) Runs() []runCall {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]runCall(nil), ps.runs...)
}

// startDaemon wires config file -> runtimes -> services -> HTTP API the way
// `completiond serve` does, and serves it from an httptest server.
func startDaemon(t *testing.T, yamlCfg string) (*httptest.Server, *service.Manager) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "completiond.yaml")
	if err := os.WriteFile(p, []byte(yamlCfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	log := zerolog.Nop()
	mgr, err := service.New(service.Config{
		Services:       cfg.Services,
		DefaultService: cfg.DefaultService,
		Runtimes:       service.BuildRuntimes(cfg, log, pipeline.NoopPublisher{}),
		Logger:         log,
	})
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	_ = mgr.Open(context.Background())
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close(context.Background())
	})
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
