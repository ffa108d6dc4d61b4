package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"completiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Services() []types.ServiceInfo
	DefaultService() string
	Status(ctx context.Context) types.StatusResponse
	Complete(ctx context.Context, req types.CompleteRequest) (types.CompleteResponse, error)
	Stream(ctx context.Context, req types.CompleteRequest, w io.Writer, flush func()) error
	Ready() bool
}

func requestID(r *http.Request) string { return middleware.GetReqID(r.Context()) }

// NewMux builds the HTTP API router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Get("/services", h.services)
	r.Get("/status", h.status)
	r.Post("/complete", h.complete)
	r.Get("/complete/ws", h.completeWS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// services godoc
// @Summary List completion services
// @Tags services
// @Produce json
// @Success 200 {object} types.ServicesResponse
// @Router /services [get]
func (h *handlers) services(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ServicesResponse{Services: h.svc.Services(), Default: h.svc.DefaultService()})
}

// status godoc
// @Summary Service status
// @Tags status
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Status(r.Context()))
}

// decodeCompleteRequest validates and decodes a /complete body. On failure
// the error response has already been written.
func decodeCompleteRequest(w http.ResponseWriter, r *http.Request) (types.CompleteRequest, bool) {
	var req types.CompleteRequest
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return req, false
	}
	return req, true
}

// complete godoc
// @Summary Complete a prompt
// @Description Returns the completion as JSON, or as NDJSON token lines followed by a final done line when stream is true.
// @Tags complete
// @Accept json
// @Produce json
// @Produce x-ndjson
// @Param request body types.CompleteRequest true "completion request"
// @Success 200 {object} types.CompleteResponse
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /complete [post]
func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCompleteRequest(w, r)
	if !ok {
		return
	}
	lvl := requestLogLevel(r)
	start := time.Now()
	requestEvent(r, LevelInfo, lvl).Str("event", "complete_start").Str("service", req.Service).Bool("stream", req.Stream).Msg("complete start")

	ctx, cancel := withBase(r.Context(), serverBaseCtx)
	defer cancel()
	if completeTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, completeTimeout)
		defer tcancel()
	}

	var err error
	if req.Stream {
		err = h.stream(ctx, w, r, req, lvl)
	} else {
		var resp types.CompleteResponse
		if resp, err = h.svc.Complete(ctx, req); err == nil {
			writeJSON(w, resp)
		}
	}
	if err != nil {
		// Client went away or the server is shutting down: nothing to write.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		code := statusFor(err)
		if code == http.StatusTooManyRequests {
			IncrementBackpressure("queue")
		}
		writeJSONError(w, code, err.Error())
		requestEvent(r, LevelError, lvl).Str("event", "complete_end").Int("status", code).Dur("dur", time.Since(start)).Err(err).Msg("complete end")
		return
	}
	requestEvent(r, LevelInfo, lvl).Str("event", "complete_end").Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("complete end")
}

// stream writes NDJSON. Headers are deferred until the first line so an
// error before any output still gets a proper status code.
func (h *handlers) stream(ctx context.Context, w http.ResponseWriter, r *http.Request, req types.CompleteRequest, lvl LogLevel) error {
	sw := &ndjsonWriter{w: w}
	var out io.Writer = sw
	if lvl >= LevelDebug {
		out = io.MultiWriter(sw, &lineLogger{log: zlog})
	}
	flush := func() {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	err := h.svc.Stream(ctx, req, out, flush)
	if err != nil && sw.started {
		// Status already sent; report in-band.
		b, _ := json.Marshal(types.ErrorResponse{Error: err.Error(), Code: statusFor(err)})
		_, _ = w.Write(append(b, '\n'))
		flush()
		return nil
	}
	return err
}

type ndjsonWriter struct {
	w       http.ResponseWriter
	started bool
}

func (n *ndjsonWriter) Write(p []byte) (int, error) {
	if !n.started {
		n.w.Header().Set("Content-Type", "application/x-ndjson")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}
	return n.w.Write(p)
}
