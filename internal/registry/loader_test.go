package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("gguf"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadDir_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.GGUF", "a.gguf", "not-model.txt", "model.bin"} {
		touch(t, dir, f)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.gguf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a.gguf" || got[1].ID != "b.GGUF" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[0].SizeBytes != 4 || !filepath.IsAbs(got[0].Path) {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
}

func TestLoadDir_Missing(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	tiny := touch(t, dir, "TinyLlama-1.1B.Q4_K_M.gguf")

	cases := []string{
		"TinyLlama-1.1B.Q4_K_M.gguf",
		"tinyllama-1.1b.q4_k_m",
		"TheBloke/TinyLlama-1.1B.Q4_K_M",
		tiny,
	}
	for _, id := range cases {
		got, err := Resolve(dir, id)
		if err != nil || got != tiny {
			t.Fatalf("Resolve(%q) = %q, %v; want %q", id, got, err, tiny)
		}
	}
	if _, err := Resolve(dir, "gpt2"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if _, err := Resolve("", "gpt2"); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound without dir, got %v", err)
	}
	if _, err := Resolve(dir, " "); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound for empty id, got %v", err)
	}
}
