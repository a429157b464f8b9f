package shared

import (
	"strings"
	"testing"
)

func TestRedact_APIKeyPatterns(t *testing.T) {
	in := `api_key: "sk-abcdefghijklmnop1234"`
	out := Redact(in)
	if strings.Contains(out, "sk-abcdefghijklmnop1234") {
		t.Fatalf("secret survived redaction: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("missing placeholder: %q", out)
	}
}

func TestRedact_PassthroughWhenClean(t *testing.T) {
	in := "import complete for run 42"
	if out := Redact(in); out != in {
		t.Fatalf("clean string modified: %q", out)
	}
}

func TestRedactPaths(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"posix", "open /home/alice/.chatvault/vault/artifacts/abc-export.zip: permission denied"},
		{"quoted", `read "/tmp/vault/export.json" failed`},
		{"windows", `open C:\Users\alice\vault.db: access denied`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RedactPaths(tt.in)
			if !strings.Contains(out, "[PATH_REDACTED]") {
				t.Fatalf("no redaction in %q", out)
			}
			if strings.Contains(out, "alice") || strings.Contains(out, "/tmp/vault") {
				t.Fatalf("path fragment survived: %q", out)
			}
		})
	}
}

func TestRedactEnvValue(t *testing.T) {
	if got := RedactEnvValue("VAULT_API_KEY", "abc"); got != "[REDACTED]" {
		t.Fatalf("sensitive key not redacted: %q", got)
	}
	if got := RedactEnvValue("VAULT_ZIP_MAX_ENTRIES", "100"); got != "100" {
		t.Fatalf("benign key redacted: %q", got)
	}
}
