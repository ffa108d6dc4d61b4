package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	cancel()
	// nolint:staticcheck // SA1012: nil is the documented reset value
	SetBaseContext(nil)
	if serverBaseCtx.Err() != nil {
		t.Fatalf("expected a live background context after reset")
	}
}

func TestWithBase_CancelsWhenBaseDone(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	ctx, done := withBase(context.Background(), base)
	defer done()
	cancelBase()
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("derived context did not cancel when base was canceled")
	}
}

func TestWithBase_CancelsWhenRequestDone(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	ctx, done := withBase(req, context.Background())
	defer done()
	cancelReq()
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("derived context did not cancel when request was canceled")
	}
}
