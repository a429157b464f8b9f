package parsers

import (
	"encoding/json"

	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/vault"
)

// ClaudeJSON parses a Claude export: an array of conversation objects with
// a flat chat_messages list. Roles arrive as the sender field verbatim.
type ClaudeJSON struct{}

func (ClaudeJSON) Name() string { return "claude-json" }

type claudeConversation struct {
	UUID         string          `json:"uuid"`
	Name         string          `json:"name"`
	CreatedAt    string          `json:"created_at"`
	ChatMessages []claudeMessage `json:"chat_messages"`
}

type claudeMessage struct {
	UUID      string `json:"uuid"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func (p ClaudeJSON) Parse(pt *vault.ParseTx, runID, artifactID int64, text string) error {
	raw, err := decodeExport(ProviderClaude, text)
	if err != nil {
		return err
	}
	var conversations []claudeConversation
	if err := json.Unmarshal(raw, &conversations); err != nil {
		return errcode.New(errcode.SchemaMismatch, err)
	}

	for _, conv := range conversations {
		threadID, err := pt.InsertThread(vault.Thread{
			Provider:         ProviderClaude,
			ProviderThreadID: conv.UUID,
			Title:            conv.Name,
			CreatedAt:        parseISOMillis(conv.CreatedAt),
			ArtifactID:       artifactID,
			RunID:            runID,
		})
		if err != nil {
			return err
		}
		for position, msg := range conv.ChatMessages {
			if err := pt.InsertMessage(vault.Message{
				ThreadID:          threadID,
				Provider:          ProviderClaude,
				ProviderMessageID: msg.UUID,
				Role:              msg.Sender,
				Content:           msg.Text,
				ContentPlain:      stripMarkdown(msg.Text),
				Timestamp:         parseISOMillis(msg.CreatedAt),
				Position:          position,
				ContentSHA256:     contentHash(msg.Text),
				ArtifactID:        artifactID,
				RunID:             runID,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
