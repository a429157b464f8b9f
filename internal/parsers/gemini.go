package parsers

import (
	"encoding/json"
	"strings"

	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/vault"
)

// GeminiJSON parses a Gemini export. The vendor shape drifts: the message
// list may live under "conversations" or "messages", and each message's
// text, role, and timestamp come from whichever of several keys is
// populated. Field selection is lenient by design.
type GeminiJSON struct{}

func (GeminiJSON) Name() string { return "gemini-json" }

type geminiConversation struct {
	Title         string           `json:"title"`
	Conversations []map[string]any `json:"conversations"`
	Messages      []map[string]any `json:"messages"`
}

func (p GeminiJSON) Parse(pt *vault.ParseTx, runID, artifactID int64, text string) error {
	raw, err := decodeExport(ProviderGemini, text)
	if err != nil {
		return err
	}
	var conversations []geminiConversation
	if err := json.Unmarshal(raw, &conversations); err != nil {
		return errcode.New(errcode.SchemaMismatch, err)
	}

	for _, conv := range conversations {
		messages := conv.Conversations
		if len(messages) == 0 {
			messages = conv.Messages
		}

		threadID, err := pt.InsertThread(vault.Thread{
			Provider:   ProviderGemini,
			Title:      conv.Title,
			ArtifactID: artifactID,
			RunID:      runID,
		})
		if err != nil {
			return err
		}

		position := 0
		for _, msg := range messages {
			content := firstNonEmpty(msg["content"], msg["text"], msg["prompt_text"], msg["response_text"])
			if content == "" {
				continue
			}
			role := normalizeGeminiRole(firstNonEmpty(msg["author"], msg["sender"], msg["role"]))
			ts := parseISOMillis(firstNonEmpty(msg["created_at"], msg["timestamp"], msg["time"]))
			if err := pt.InsertMessage(vault.Message{
				ThreadID:      threadID,
				Provider:      ProviderGemini,
				Role:          role,
				Content:       content,
				ContentPlain:  stripMarkdown(content),
				Timestamp:     ts,
				Position:      position,
				ContentSHA256: contentHash(content),
				ArtifactID:    artifactID,
				RunID:         runID,
			}); err != nil {
				return err
			}
			position++
		}
	}
	return nil
}

// normalizeGeminiRole maps the vendor's role value by case-insensitive
// substring: user stays user; gemini/assistant/model/ai all mean the
// assistant; an empty value becomes unknown; anything else passes through.
func normalizeGeminiRole(role string) string {
	lower := strings.ToLower(role)
	if lower == "" {
		return "unknown"
	}
	if strings.Contains(lower, "user") {
		return "user"
	}
	for _, marker := range []string{"gemini", "assistant", "model", "ai"} {
		if strings.Contains(lower, marker) {
			return "assistant"
		}
	}
	return role
}
