package httpapi

import (
	"testing"
	"time"
)

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestSetCompleteTimeout_NormalizesNegativeToZero(t *testing.T) {
	defer SetCompleteTimeout(0)
	SetCompleteTimeout(-5 * time.Second)
	if completeTimeout != 0 {
		t.Fatalf("expected 0, got %s", completeTimeout)
	}
	SetCompleteTimeout(3 * time.Second)
	if completeTimeout != 3*time.Second {
		t.Fatalf("expected 3s, got %s", completeTimeout)
	}
}
