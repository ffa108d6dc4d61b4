package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"completiond/pkg/types"
)

func TestE2E_CompleteOverPipelineServer(t *testing.T) {
	ps := newPipelineServer(t, nil)
	srv, _ := startDaemon(t, fmt.Sprintf(`
hfserver:
  url: %s
services:
  - name: t5
    model: t5-small
    defaults: {temperature: 0.7, top_p: 0.9, max_tokens: 20}
  - name: bart
    model: facebook/bart-large-cnn
    task: summarization
`, ps.URL))

	resp, body := httpPostJSON(t, srv.URL+"/complete", `{"prompt":"Translate to French: Hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var cr types.CompleteResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("json: %v", err)
	}
	if cr.Content != "out(Translate to French: Hello)" || cr.Service != "t5" {
		t.Fatalf("unexpected response: %+v", cr)
	}

	resp, body = httpPostJSON(t, srv.URL+"/complete", `{"service":"bart","prompt":"A long article.","stream":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"token":"out(A long article.)"`) || !strings.Contains(lines[1], `"done":true`) {
		t.Fatalf("unexpected stream: %q", body)
	}

	runs := ps.Runs()
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	p := runs[0].Parameters
	if p["pad_token_id"] != float64(50256) || p["num_return_sequences"] != float64(1) || p["max_new_tokens"] != float64(20) || p["temperature"] != 0.7 {
		t.Fatalf("unexpected parameters on the wire: %v", p)
	}
}

func TestE2E_Backpressure429(t *testing.T) {
	ps := newPipelineServer(t, func(ps *pipelineServer) { ps.gate = make(chan struct{}) })
	srv, _ := startDaemon(t, fmt.Sprintf(`
hfserver: {url: "%s"}
services:
  - name: t5
    model: t5-small
    max_queue_depth: 1
    max_concurrent: 1
    max_wait_ms: 20
`, ps.URL))

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/complete", "application/json", strings.NewReader(`{"prompt":"first"}`))
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	select {
	case <-ps.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never reached the pipeline server")
	}

	resp, body := httpPostJSON(t, srv.URL+"/complete", `{"prompt":"second"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d (%s)", resp.StatusCode, body)
	}

	close(ps.gate)
	if code := <-first; code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
}

func TestE2E_MissingMLStackIsUnavailable(t *testing.T) {
	ps := newPipelineServer(t, func(ps *pipelineServer) { ps.noTorch = true })
	srv, _ := startDaemon(t, fmt.Sprintf("hfserver: {url: \"%s\"}\nservices:\n  - {name: t5, model: t5-small}\n", ps.URL))

	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", resp.StatusCode)
	}
	resp, body := httpPostJSON(t, srv.URL+"/complete", `{"prompt":"hi"}`)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "torch and transformers") {
		t.Fatalf("expected 503 naming the missing stack, got %d %s", resp.StatusCode, body)
	}

	_, body = httpGet(t, srv.URL+"/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("json: %v", err)
	}
	if st.State != "error" || st.Services[0].State != "error" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(ps.Runs()) != 0 {
		t.Fatalf("no pipeline should have run")
	}
}

func TestE2E_MetricsExposed(t *testing.T) {
	ps := newPipelineServer(t, nil)
	srv, _ := startDaemon(t, fmt.Sprintf("hfserver: {url: \"%s\"}\nservices:\n  - {name: t5, model: t5-small}\n", ps.URL))
	_, _ = httpPostJSON(t, srv.URL+"/complete", `{"prompt":"hi"}`)
	_, body := httpGet(t, srv.URL+"/metrics")
	for _, name := range []string{"completiond_http_requests_total", "completiond_service_completions_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("missing %s in /metrics", name)
		}
	}
}
