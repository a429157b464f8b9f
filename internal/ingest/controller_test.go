package ingest_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/chatvault/internal/config"
	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/ingest"
	"github.com/basket/chatvault/internal/pathroot"
	"github.com/basket/chatvault/internal/vault"
)

const sentinelFixture = `[
  {
    "id": "conv-s1",
    "title": "Sentinel thread",
    "create_time": 1700000000.0,
    "mapping": {
      "n1": {
        "message": {
          "id": "m1",
          "author": {"role": "user"},
          "content": {"content_type": "text", "parts": ["SENTINEL_CHATGPT_001"]},
          "create_time": 1700000001.0
        },
        "parent": null
      }
    }
  }
]`

type harness struct {
	store      *vault.Store
	controller *ingest.Controller
	userData   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
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

	limits := func() config.ZipLimits {
		return config.ZipLimits{
			MaxEntries:         100,
			MaxSingleFileBytes: 10 << 20,
			MaxTotalBytes:      20 << 20,
			MaxRatio:           100,
		}
	}
	return &harness{
		store:      store,
		controller: ingest.New(store, limits, nil, nil, nil),
		userData:   dir,
	}
}

func (h *harness) writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return p
}

func zipBytes(t *testing.T, entries []struct {
	name string
	data []byte
}) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		f, err := w.Create(e.name)
		if err != nil {
			t.Fatalf("create %q: %v", e.name, err)
		}
		if _, err := f.Write(e.data); err != nil {
			t.Fatalf("write %q: %v", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func count(t *testing.T, store *vault.Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := store.DB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return n
}

func TestImportHeadless_SentinelRoundTrip(t *testing.T) {
	h := newHarness(t)
	fixture := h.writeFixture(t, "conversations.json", []byte(sentinelFixture))

	result, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.RunID == 0 || result.ArtifactID == 0 {
		t.Fatalf("result = %+v", result)
	}

	run, err := h.store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != vault.RunStatusComplete {
		t.Fatalf("status = %q", run.Status)
	}

	hits, err := h.store.Search(context.Background(), "SENTINEL_CHATGPT_001")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("sentinel not searchable after import")
	}
	if hits[0].Provider != "chatgpt" {
		t.Fatalf("provider = %q", hits[0].Provider)
	}
}

func TestImportHeadless_ZipExtractionAndDispatch(t *testing.T) {
	h := newHarness(t)
	data := zipBytes(t, []struct {
		name string
		data []byte
	}{
		{"export/conversations.json", []byte(sentinelFixture)},
		{"export/chat.html", []byte(`<div class="message"><div class="author">User</div><div class="content">SENTINEL_CHATGPT_001</div></div></div>`)},
		{"export/user.json", []byte(`{"email":"x"}`)},
	})
	fixture := h.writeFixture(t, "export.zip", data)

	result, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	// Parent + three children, all owned by the run.
	if got := count(t, h.store, `SELECT COUNT(1) FROM raw_artifacts WHERE ingestion_run_id = ?;`, result.RunID); got != 4 {
		t.Fatalf("artifacts = %d, want 4", got)
	}
	if got := count(t, h.store, `SELECT COUNT(1) FROM raw_artifacts WHERE parent_artifact_id = ?;`, result.ArtifactID); got != 3 {
		t.Fatalf("children = %d, want 3", got)
	}

	// chat.html is a strict fallback when conversations.json is present:
	// the sentinel must appear exactly once, not twice.
	hits, err := h.store.Search(context.Background(), "SENTINEL_CHATGPT_001")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1 (html fallback must not double-import)", len(hits))
	}

	// user.json matched no dispatch rule: stored, never parsed.
	if got := count(t, h.store, `SELECT COUNT(1) FROM threads;`); got != 1 {
		t.Fatalf("threads = %d, want 1", got)
	}
}

func TestImportHeadless_HTMLFallbackWhenNoJSON(t *testing.T) {
	h := newHarness(t)
	data := zipBytes(t, []struct {
		name string
		data []byte
	}{
		{"chat.html", []byte(`<div class="message"><div class="author">User</div><div class="content">from the html path</div></div></div>`)},
	})
	fixture := h.writeFixture(t, "export.zip", data)

	if _, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture); err != nil {
		t.Fatalf("import: %v", err)
	}
	hits, err := h.store.Search(context.Background(), "html")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
}

func TestImportHeadless_ZipSlip(t *testing.T) {
	h := newHarness(t)
	data := zipBytes(t, []struct {
		name string
		data []byte
	}{
		{"../outside.txt", []byte("escape attempt")},
	})
	fixture := h.writeFixture(t, "evil.zip", data)

	result, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture)
	if errcode.CodeOf(err) != errcode.ZipSlipDetected {
		t.Fatalf("code = %q, want ZIP_SLIP_DETECTED", errcode.CodeOf(err))
	}

	run, err2 := h.store.GetRun(context.Background(), result.RunID)
	if err2 != nil {
		t.Fatalf("get run: %v", err2)
	}
	if run.Status != vault.RunStatusFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}

	// Pre-scan is atomic: only the parent artifact exists.
	if got := count(t, h.store, `SELECT COUNT(1) FROM raw_artifacts;`); got != 1 {
		t.Fatalf("artifacts = %d, want parent only", got)
	}

	// No file named outside.txt may appear anywhere under the user data dir.
	err2 = filepath.WalkDir(h.userData, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "outside.txt" {
			t.Fatalf("extracted traversal file at %s", path)
		}
		return nil
	})
	if err2 != nil {
		t.Fatalf("walk: %v", err2)
	}
}

func TestImportHeadless_RatioBombFailsBeforeExtraction(t *testing.T) {
	h := newHarness(t)
	data := zipBytes(t, []struct {
		name string
		data []byte
	}{
		{"bomb.json", make([]byte, 1<<20)},
	})
	fixture := h.writeFixture(t, "bomb.zip", data)

	result, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture)
	if errcode.CodeOf(err) != errcode.ZipCorrupt {
		t.Fatalf("code = %q, want ZIP_CORRUPT", errcode.CodeOf(err))
	}
	if got := count(t, h.store, `SELECT COUNT(1) FROM raw_artifacts WHERE parent_artifact_id IS NOT NULL;`); got != 0 {
		t.Fatalf("children = %d, want 0 (nothing extracted)", got)
	}
	run, err2 := h.store.GetRun(context.Background(), result.RunID)
	if err2 != nil {
		t.Fatalf("get run: %v", err2)
	}
	if run.Status != vault.RunStatusFailed {
		t.Fatalf("status = %q", run.Status)
	}
}

func TestImportHeadless_FailedRunOwnsNoRows(t *testing.T) {
	h := newHarness(t)
	fixture := h.writeFixture(t, "broken.json", []byte("{not json at all"))

	result, err := h.controller.ImportHeadless(context.Background(), "claude", fixture)
	if errcode.CodeOf(err) != errcode.ParseJSONFailed {
		t.Fatalf("code = %q, want PARSE_JSON_FAILED", errcode.CodeOf(err))
	}

	run, err2 := h.store.GetRun(context.Background(), result.RunID)
	if err2 != nil {
		t.Fatalf("get run: %v", err2)
	}
	if run.Status != vault.RunStatusFailed {
		t.Fatalf("status = %q", run.Status)
	}
	if !run.ErrorMessage.Valid || run.ErrorMessage.String == "" {
		t.Fatal("error message not recorded on run")
	}

	if got := count(t, h.store, `SELECT COUNT(1) FROM threads WHERE ingestion_run_id = ?;`, result.RunID); got != 0 {
		t.Fatalf("threads = %d for failed run", got)
	}
	if got := count(t, h.store, `SELECT COUNT(1) FROM messages WHERE ingestion_run_id = ?;`, result.RunID); got != 0 {
		t.Fatalf("messages = %d for failed run", got)
	}
	// The parent artifact stays for forensics.
	if got := count(t, h.store, `SELECT COUNT(1) FROM raw_artifacts WHERE ingestion_run_id = ?;`, result.RunID); got != 1 {
		t.Fatalf("artifacts = %d, want 1", got)
	}
}

func TestImportHeadless_PartialYieldAcrossEntries(t *testing.T) {
	h := newHarness(t)
	data := zipBytes(t, []struct {
		name string
		data []byte
	}{
		{"good.json", []byte(`[{"uuid":"u1","name":"ok","chat_messages":[{"uuid":"m1","sender":"human","text":"survives"}]}]`)},
		{"bad.json", []byte("{broken")},
	})
	fixture := h.writeFixture(t, "mixed.zip", data)

	result, err := h.controller.ImportHeadless(context.Background(), "claude", fixture)
	if err != nil {
		t.Fatalf("import: %v (one good entry should carry the run)", err)
	}
	run, err := h.store.GetRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != vault.RunStatusComplete {
		t.Fatalf("status = %q", run.Status)
	}
	if got := count(t, h.store, `SELECT COUNT(1) FROM messages;`); got != 1 {
		t.Fatalf("messages = %d, want 1 from the good entry", got)
	}
}

func TestImportHeadless_AllEntriesBadFailsRun(t *testing.T) {
	h := newHarness(t)
	data := zipBytes(t, []struct {
		name string
		data []byte
	}{
		{"bad.json", []byte("{broken")},
	})
	fixture := h.writeFixture(t, "allbad.zip", data)

	result, err := h.controller.ImportHeadless(context.Background(), "claude", fixture)
	if errcode.CodeOf(err) != errcode.ParseJSONFailed {
		t.Fatalf("code = %q, want PARSE_JSON_FAILED", errcode.CodeOf(err))
	}
	run, err2 := h.store.GetRun(context.Background(), result.RunID)
	if err2 != nil {
		t.Fatalf("get run: %v", err2)
	}
	if run.Status != vault.RunStatusFailed {
		t.Fatalf("status = %q", run.Status)
	}
	if got := count(t, h.store, `SELECT COUNT(1) FROM messages;`); got != 0 {
		t.Fatalf("messages = %d for failed run", got)
	}
}

func TestImportHeadless_DedupAcrossRuns(t *testing.T) {
	h := newHarness(t)
	fixture := h.writeFixture(t, "conversations.json", []byte(sentinelFixture))

	first, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	second, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if first.ArtifactID != second.ArtifactID {
		t.Fatalf("artifact ids differ: %d vs %d", first.ArtifactID, second.ArtifactID)
	}
	if got := count(t, h.store, `SELECT COUNT(1) FROM raw_artifacts;`); got != 1 {
		t.Fatalf("artifacts = %d, want 1 (byte-identical import dedups)", got)
	}
	if first.RunID == second.RunID {
		t.Fatal("each import attempt must open its own run")
	}
}

func TestImportHeadless_WipeThenReimportIsIdentity(t *testing.T) {
	h := newHarness(t)
	fixture := h.writeFixture(t, "conversations.json", []byte(sentinelFixture))

	if _, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture); err != nil {
		t.Fatalf("import: %v", err)
	}
	before := count(t, h.store, `SELECT COUNT(1) FROM messages;`)

	if _, err := h.store.Wipe(context.Background()); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if _, err := h.controller.ImportHeadless(context.Background(), "chatgpt", fixture); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	after := count(t, h.store, `SELECT COUNT(1) FROM messages;`)
	if before != after {
		t.Fatalf("message count changed across wipe+re-import: %d vs %d", before, after)
	}
}

func TestImportHeadless_UnknownProvider(t *testing.T) {
	h := newHarness(t)
	fixture := h.writeFixture(t, "x.json", []byte("[]"))
	if _, err := h.controller.ImportHeadless(context.Background(), "copilot", fixture); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
	if got := count(t, h.store, `SELECT COUNT(1) FROM ingestion_runs;`); got != 0 {
		t.Fatalf("runs = %d, want 0 (rejected before run creation)", got)
	}
}
