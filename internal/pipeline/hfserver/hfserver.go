// Package hfserver implements a pipeline runtime backed by a transformers
// pipeline server reached over HTTP. The server owns model download, device
// placement and inference; this package only speaks its JSON protocol:
//
//	GET    /health               runtime versions and accelerator info
//	POST   /pipelines            {task, model, device} -> {id}
//	POST   /pipelines/{id}/run   {inputs, parameters}  -> [{record}, ...]
//	DELETE /pipelines/{id}
package hfserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"completiond/internal/pipeline"
)

// Name is the runtime name reported in capabilities and logs.
const Name = "hfserver"

const (
	defaultConnectTimeout = 5 * time.Second
	defaultProbeTTL       = 30 * time.Second
	errorBodyLimit        = 4096
)

// Config configures the HTTP runtime.
type Config struct {
	// BaseURL of the pipeline server, e.g. http://127.0.0.1:8000.
	BaseURL string
	// Token is sent as a bearer token when set (e.g. a hub access token).
	Token string
	// ConnectTimeout bounds TCP connect. Zero uses 5s.
	ConnectTimeout time.Duration
	// LoadTimeout bounds pipeline creation (includes weight download). Zero disables.
	LoadTimeout time.Duration
	// RequestTimeout bounds a single run. Zero disables.
	RequestTimeout time.Duration
	// ProbeTTL controls how long a successful probe is reused. Zero uses 30s;
	// negative disables caching.
	ProbeTTL time.Duration
}

// Runtime is a pipeline.Runtime over HTTP.
type Runtime struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
	probes     *ttlcache.Cache[string, pipeline.Capabilities]
}

var _ pipeline.Runtime = (*Runtime)(nil)

// New constructs the runtime. No network access happens until Probe.
func New(cfg Config, log zerolog.Logger) *Runtime {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ProbeTTL == 0 {
		cfg.ProbeTTL = defaultProbeTTL
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	r := &Runtime{
		cfg:        cfg,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: cli,
		log:        log.With().Str("runtime", Name).Logger(),
	}
	if cfg.ProbeTTL > 0 {
		r.probes = ttlcache.New[string, pipeline.Capabilities](
			ttlcache.WithTTL[string, pipeline.Capabilities](cfg.ProbeTTL),
			ttlcache.WithDisableTouchOnHit[string, pipeline.Capabilities](),
		)
	}
	return r
}

func (r *Runtime) Name() string { return Name }

// healthResponse is the payload of GET /health.
type healthResponse struct {
	Status          string   `json:"status"`
	Transformers    string   `json:"transformers"`
	Torch           string   `json:"torch"`
	CUDAAvailable   bool     `json:"cuda_available"`
	CUDADeviceCount int      `json:"cuda_device_count"`
	Tasks           []string `json:"tasks,omitempty"`
}

// Probe checks that the server is reachable and has its ML stack installed.
// An unconfigured base URL fails without touching the network.
func (r *Runtime) Probe(ctx context.Context) (pipeline.Capabilities, error) {
	if r.baseURL == "" {
		return pipeline.Capabilities{}, pipeline.ErrUnavailable("hfserver: base url not configured")
	}
	if r.probes != nil {
		if item := r.probes.Get(r.baseURL); item != nil {
			return item.Value(), nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()
	var h healthResponse
	if err := r.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return pipeline.Capabilities{}, err
		}
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return pipeline.Capabilities{}, ctx.Err()
		}
		return pipeline.Capabilities{}, pipeline.ErrUnavailable(fmt.Sprintf("hfserver: not reachable at %s: %v", r.baseURL, err))
	}
	if h.Transformers == "" || h.Torch == "" {
		return pipeline.Capabilities{}, pipeline.ErrUnavailable("hfserver: please ensure that torch and transformers are installed on the pipeline server")
	}
	caps := pipeline.Capabilities{
		Runtime:              Name,
		Version:              fmt.Sprintf("transformers=%s torch=%s", h.Transformers, h.Torch),
		AcceleratorAvailable: h.CUDAAvailable,
		AcceleratorCount:     h.CUDADeviceCount,
	}
	for _, t := range h.Tasks {
		caps.Tasks = append(caps.Tasks, pipeline.Task(t))
	}
	if r.probes != nil {
		r.probes.Set(r.baseURL, caps, ttlcache.DefaultTTL)
	}
	r.log.Debug().Str("event", "probe").Str("version", caps.Version).Bool("cuda", caps.AcceleratorAvailable).Msg("pipeline server probed")
	return caps, nil
}

type openRequest struct {
	Task   string `json:"task"`
	Model  string `json:"model"`
	Device string `json:"device"`
}

type openResponse struct {
	ID string `json:"id"`
}

// Open asks the server to build a pipeline. The server may download weights
// from the model hub; that is not retried here.
func (r *Runtime) Open(ctx context.Context, spec pipeline.Spec) (pipeline.Pipeline, error) {
	if r.baseURL == "" {
		return nil, pipeline.ErrUnavailable("hfserver: base url not configured")
	}
	if r.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.LoadTimeout)
		defer cancel()
	}
	start := time.Now()
	var resp openResponse
	req := openRequest{Task: string(spec.Task), Model: spec.ModelID, Device: spec.Device.String()}
	if err := r.do(ctx, http.MethodPost, "/pipelines", req, &resp); err != nil {
		return nil, fmt.Errorf("hfserver: create pipeline: %w", err)
	}
	if resp.ID == "" {
		return nil, errors.New("hfserver: create pipeline: server returned empty id")
	}
	r.log.Info().Str("event", "pipeline_open").Str("id", resp.ID).Str("model", spec.ModelID).Str("device", spec.Device.String()).Dur("dur", time.Since(start)).Msg("pipeline created")
	return &Pipeline{rt: r, id: resp.ID, spec: spec}, nil
}

// Pipeline is a server-side pipeline handle.
type Pipeline struct {
	rt   *Runtime
	id   string
	spec pipeline.Spec
}

// ID returns the server-assigned pipeline id.
func (p *Pipeline) ID() string { return p.id }

type runParameters struct {
	Temperature        float64 `json:"temperature"`
	TopP               float64 `json:"top_p"`
	MaxNewTokens       int     `json:"max_new_tokens"`
	PadTokenID         int     `json:"pad_token_id"`
	NumReturnSequences int     `json:"num_return_sequences"`
}

type runRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters runParameters `json:"parameters"`
}

func (p *Pipeline) Run(ctx context.Context, prompt string, params pipeline.Params) ([]pipeline.Record, error) {
	if p.rt.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.rt.cfg.RequestTimeout)
		defer cancel()
	}
	req := runRequest{
		Inputs: prompt,
		Parameters: runParameters{
			Temperature:        params.Temperature,
			TopP:               params.TopP,
			MaxNewTokens:       params.MaxNewTokens,
			PadTokenID:         params.PadTokenID,
			NumReturnSequences: params.NumReturnSequences,
		},
	}
	var raw []map[string]any
	if err := p.rt.do(ctx, http.MethodPost, "/pipelines/"+url.PathEscape(p.id)+"/run", req, &raw); err != nil {
		return nil, err
	}
	out := make([]pipeline.Record, 0, len(raw))
	for _, m := range raw {
		rec := make(pipeline.Record, len(m))
		for k, v := range m {
			if s, ok := v.(string); ok {
				rec[k] = s
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close deletes the server-side pipeline. A pipeline the server no longer
// knows about is treated as closed.
func (p *Pipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.rt.cfg.ConnectTimeout)
	defer cancel()
	err := p.rt.do(ctx, http.MethodDelete, "/pipelines/"+url.PathEscape(p.id), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	if err == nil {
		p.rt.log.Debug().Str("event", "pipeline_close").Str("id", p.id).Msg("pipeline deleted")
	}
	return err
}

// statusError is a non-2xx response from the pipeline server.
type statusError struct {
	Code   int
	Status string
	Body   string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return "pipeline server http error: " + e.Status
	}
	return "pipeline server http error: " + e.Status + ": " + e.Body
}

// StatusCode exposes the upstream status for callers mapping errors.
func (e *statusError) StatusCode() int { return e.Code }

func (r *Runtime) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &statusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
