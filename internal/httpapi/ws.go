package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"completiond/pkg/types"
)

const wsReadTimeout = 30 * time.Second

// completeWS godoc
// @Summary Complete a prompt over a websocket
// @Description The client sends one CompleteRequest; the server replies with token frames and a final CompleteResponse frame with done set, or an ErrorResponse frame.
// @Tags complete
// @Router /complete/ws [get]
func (h *handlers) completeWS(w http.ResponseWriter, r *http.Request) {
	var origins []string
	if corsEnabled {
		origins = corsAllowedOrigins
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		zlog.Debug().Err(err).Str("event", "ws_accept_fail").Msg("websocket accept failed")
		return
	}
	wsSessions.Inc()
	defer wsSessions.Dec()
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := withBase(r.Context(), serverBaseCtx)
	defer cancel()

	readCtx, readCancel := context.WithTimeout(ctx, wsReadTimeout)
	var req types.CompleteRequest
	err = wsjson.Read(readCtx, conn, &req)
	readCancel()
	if err != nil {
		_ = conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		_ = wsjson.Write(ctx, conn, types.ErrorResponse{Error: "prompt is required", Code: http.StatusBadRequest})
		_ = conn.Close(websocket.StatusPolicyViolation, "prompt is required")
		return
	}
	if completeTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, completeTimeout)
		defer tcancel()
	}

	fw := &frameWriter{ctx: ctx, conn: conn}
	if err := h.svc.Stream(ctx, req, fw, nil); err != nil {
		if errors.Is(err, context.Canceled) && (r.Context().Err() != nil || serverBaseCtx.Err() != nil) {
			return
		}
		code := statusFor(err)
		if code == http.StatusTooManyRequests {
			IncrementBackpressure("queue")
		}
		_ = wsjson.Write(ctx, conn, types.ErrorResponse{Error: err.Error(), Code: code})
		_ = conn.Close(websocket.StatusInternalError, "completion failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// frameWriter turns each NDJSON line into one text frame.
type frameWriter struct {
	ctx  context.Context
	conn *websocket.Conn
	buf  []byte
}

func (f *frameWriter) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := f.buf[:idx]
		if len(line) > 0 && json.Valid(line) {
			if err := f.conn.Write(f.ctx, websocket.MessageText, line); err != nil {
				return 0, err
			}
		}
		f.buf = f.buf[idx+1:]
	}
	return len(p), nil
}
