package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	base := New(ZipSlipDetected, errors.New("entry escapes root"))
	if got := CodeOf(base); got != ZipSlipDetected {
		t.Fatalf("CodeOf = %q, want %q", got, ZipSlipDetected)
	}

	wrapped := fmt.Errorf("import: %w", base)
	if got := CodeOf(wrapped); got != ZipSlipDetected {
		t.Fatalf("CodeOf wrapped = %q, want %q", got, ZipSlipDetected)
	}

	if got := CodeOf(errors.New("plain")); got != UnknownError {
		t.Fatalf("CodeOf plain = %q, want %q", got, UnknownError)
	}
}

func TestCoded_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	coded := New(FSWriteFailed, cause)
	if !errors.Is(coded, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"ZIP_SLIP_DETECTED: entry name \"../x\" escapes the extraction root", ZipSlipDetected},
		{"ZIP_CORRUPT: entry ratio 200 exceeds limit 100", ZipCorrupt},
		{"PARSE_JSON_FAILED: unexpected end of input", ParseJSONFailed},
		{"HTML_NO_MESSAGES: no message blocks in chat.html", HTMLNoMessages},
		{"something else entirely", UnknownError},
		{"", UnknownError},
	}
	for _, tt := range tests {
		if got := Classify(tt.message); got != tt.want {
			t.Fatalf("Classify(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}
