package pathroot

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_ResolvesVaultLayout(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	dir := t.TempDir()
	paths, err := Init(dir)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if paths.Vault != filepath.Join(dir, "vault") {
		t.Fatalf("vault = %q", paths.Vault)
	}
	if paths.DB != filepath.Join(dir, "vault", "vault.db") {
		t.Fatalf("db = %q", paths.DB)
	}
	if paths.Artifacts != filepath.Join(dir, "vault", "artifacts") {
		t.Fatalf("artifacts = %q", paths.Artifacts)
	}
	if !filepath.IsAbs(paths.UserData) {
		t.Fatalf("user data not absolute: %q", paths.UserData)
	}
}

func TestInit_SecondCallFailsFast(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	if _, err := Init(t.TempDir()); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, err := Init(t.TempDir()); err == nil {
		t.Fatal("expected second init to fail")
	} else if !strings.Contains(err.Error(), "already initialized") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGet_BeforeInitFailsFast(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	if _, err := Get(); err == nil {
		t.Fatal("expected read-before-init to fail")
	}
}

func TestGet_ReturnsFrozenPaths(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	dir := t.TempDir()
	want, err := Init(dir)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	got, err := Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != want {
		t.Fatalf("get = %+v, want %+v", got, want)
	}
}
