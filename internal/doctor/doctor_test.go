package doctor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/chatvault/internal/config"
	"github.com/basket/chatvault/internal/doctor"
	"github.com/basket/chatvault/internal/pathroot"
	"github.com/basket/chatvault/internal/vault"
)

func openTestEnv(t *testing.T) (*config.Config, *vault.Store) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	paths := pathroot.Paths{
		UserData:  dir,
		Vault:     filepath.Join(dir, "vault"),
		DB:        filepath.Join(dir, "vault", "vault.db"),
		Artifacts: filepath.Join(dir, "vault", "artifacts"),
	}
	store, err := vault.Open(context.Background(), paths, nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &cfg, store
}

func TestRun_HealthyVaultPasses(t *testing.T) {
	cfg, store := openTestEnv(t)
	d := doctor.Run(context.Background(), cfg, store, "test")

	if len(d.Results) == 0 {
		t.Fatal("no check results")
	}
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			t.Fatalf("check %s failed on a healthy vault: %s", r.Name, r.Message)
		}
	}
}

func TestRun_DetectsMissingFTSTriggers(t *testing.T) {
	cfg, store := openTestEnv(t)
	if _, err := store.DB().Exec(`DROP TRIGGER messages_fts_ai;`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}

	d := doctor.Run(context.Background(), cfg, store, "test")
	found := false
	for _, r := range d.Results {
		if r.Name == "FTS" {
			found = true
			if r.Status != "FAIL" {
				t.Fatalf("FTS check = %s, want FAIL", r.Status)
			}
		}
	}
	if !found {
		t.Fatal("no FTS check in battery")
	}
}

func TestRun_DetectsArtifactTamper(t *testing.T) {
	cfg, store := openTestEnv(t)
	runID, err := store.CreateIngestionRun(context.Background(), "chatgpt", "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res, err := store.StoreRawArtifact(context.Background(), vault.StoreArtifactParams{
		RunID: runID, Provider: "chatgpt", Type: "json", Filename: "a.json", Bytes: []byte("original"),
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	a, err := store.GetArtifact(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := tamper(a.StoredPath); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	d := doctor.Run(context.Background(), cfg, store, "test")
	for _, r := range d.Results {
		if r.Name == "Artifacts" {
			if r.Status != "FAIL" {
				t.Fatalf("Artifacts check = %s, want FAIL after tamper", r.Status)
			}
			return
		}
	}
	t.Fatal("no Artifacts check in battery")
}

func tamper(path string) error {
	return os.WriteFile(path, []byte("modified"), 0o644)
}
