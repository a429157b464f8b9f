// Package parsers normalizes vendor export payloads into threads and
// messages. Every parser shares one contract: it receives the decoded text
// of a single artifact and emits rows through a ParseTx, so one parser
// invocation is one transaction.
package parsers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/basket/chatvault/internal/vault"
)

// Provider tags accepted by the importer.
const (
	ProviderChatGPT = "chatgpt"
	ProviderClaude  = "claude"
	ProviderGemini  = "gemini"
)

// Parser normalizes one artifact's text into threads and messages inside
// the supplied transaction.
type Parser interface {
	Name() string
	Parse(pt *vault.ParseTx, runID, artifactID int64, text string) error
}

// KnownProvider reports whether tag names a supported provider.
func KnownProvider(tag string) bool {
	switch tag {
	case ProviderChatGPT, ProviderClaude, ProviderGemini:
		return true
	}
	return false
}

// SelectForEntry picks the parser for a container entry by provider and
// entry name. A nil return means the entry is stored as an artifact but
// not parsed (forensic preservation without semantic loss).
func SelectForEntry(provider, entryName string) Parser {
	base := strings.ToLower(path.Base(strings.ReplaceAll(entryName, "\\", "/")))
	switch provider {
	case ProviderChatGPT:
		if base == "conversations.json" {
			return ChatGPTJSON{}
		}
		if base == "chat.html" {
			return ChatGPTHTML{}
		}
	case ProviderClaude:
		if strings.HasSuffix(base, ".json") {
			return ClaudeJSON{}
		}
	case ProviderGemini:
		if strings.HasSuffix(base, ".json") {
			return GeminiJSON{}
		}
	}
	return nil
}

// SelectForProvider picks the parser for a bare (non-archive) export file.
func SelectForProvider(provider string) Parser {
	switch provider {
	case ProviderChatGPT:
		return ChatGPTJSON{}
	case ProviderClaude:
		return ClaudeJSON{}
	case ProviderGemini:
		return GeminiJSON{}
	}
	return nil
}

// contentHash is the SHA-256 of raw message content, hex encoded.
func contentHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// stripMarkdown reduces raw content to the plain text indexed by FTS:
// markdown heading, emphasis, and code markers are dropped.
func stripMarkdown(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '#', '*', '`':
			return -1
		}
		return r
	}, raw)
}

// firstNonEmpty returns the first value that is a non-empty string.
// Vendor shapes drift; lenient field selection beats a strict decode.
func firstNonEmpty(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// parseISOMillis converts an ISO-8601 timestamp to epoch ms. Returns 0 on
// anything unparseable.
func parseISOMillis(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}

// orderedObjectKeys returns the keys of a JSON object in document order.
// Go maps randomize iteration; message positions must follow the order the
// vendor wrote the mapping in.
func orderedObjectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		keys = append(keys, key)
		// Skip the value.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
