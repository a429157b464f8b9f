package parsers

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/vault"
)

// ChatGPTJSON parses conversations.json from a ChatGPT export: an array of
// conversation objects whose messages hang off a node graph keyed by
// node-id in the "mapping" object.
type ChatGPTJSON struct{}

func (ChatGPTJSON) Name() string { return "chatgpt-json" }

type chatgptConversation struct {
	ID         string                     `json:"id"`
	Title      string                     `json:"title"`
	CreateTime float64                    `json:"create_time"`
	Mapping    map[string]json.RawMessage `json:"mapping"`
}

type chatgptNode struct {
	Message *chatgptMessage `json:"message"`
	Parent  string          `json:"parent"`
}

type chatgptMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string `json:"content_type"`
		Parts       []any  `json:"parts"`
	} `json:"content"`
	CreateTime float64 `json:"create_time"`
}

func (p ChatGPTJSON) Parse(pt *vault.ParseTx, runID, artifactID int64, text string) error {
	raw, err := decodeExport(ProviderChatGPT, text)
	if err != nil {
		return err
	}

	// Decode twice: once into typed conversations, once keeping the raw
	// mapping objects so positions follow document order, not Go's
	// randomized map iteration.
	var conversations []chatgptConversation
	if err := json.Unmarshal(raw, &conversations); err != nil {
		return errcode.New(errcode.SchemaMismatch, fmt.Errorf("decode conversations: %w", err))
	}
	var rawConversations []struct {
		Mapping json.RawMessage `json:"mapping"`
	}
	if err := json.Unmarshal(raw, &rawConversations); err != nil {
		return errcode.New(errcode.SchemaMismatch, fmt.Errorf("decode raw mappings: %w", err))
	}

	for i, conv := range conversations {
		var createdAt int64
		if conv.CreateTime > 0 {
			createdAt = int64(conv.CreateTime * 1000)
		}
		threadID, err := pt.InsertThread(vault.Thread{
			Provider:         ProviderChatGPT,
			ProviderThreadID: conv.ID,
			Title:            conv.Title,
			CreatedAt:        createdAt,
			ArtifactID:       artifactID,
			RunID:            runID,
		})
		if err != nil {
			return err
		}

		keys, err := orderedObjectKeys(rawConversations[i].Mapping)
		if err != nil {
			return errcode.New(errcode.SchemaMismatch, fmt.Errorf("walk mapping: %w", err))
		}

		position := 0
		skipped := 0
		for _, nodeID := range keys {
			var node chatgptNode
			if err := json.Unmarshal(conv.Mapping[nodeID], &node); err != nil {
				return errcode.New(errcode.SchemaMismatch, fmt.Errorf("decode node %s: %w", nodeID, err))
			}
			msg := node.Message
			if msg == nil {
				continue
			}
			// Only plain text nodes are imported; tool calls, images, and
			// other content types are skipped.
			if msg.Content.ContentType != "text" {
				skipped++
				continue
			}
			rawContent := joinParts(msg.Content.Parts)
			var ts int64
			if msg.CreateTime > 0 {
				ts = int64(msg.CreateTime * 1000)
			}
			if err := pt.InsertMessage(vault.Message{
				ThreadID:          threadID,
				Provider:          ProviderChatGPT,
				ProviderMessageID: msg.ID,
				Role:              msg.Author.Role,
				Content:           rawContent,
				ContentPlain:      stripMarkdown(rawContent),
				Timestamp:         ts,
				Position:          position,
				ParentProviderID:  node.Parent,
				ContentSHA256:     contentHash(rawContent),
				ArtifactID:        artifactID,
				RunID:             runID,
			}); err != nil {
				return err
			}
			position++
		}
		if skipped > 0 {
			slog.Debug("non-text nodes skipped", "thread_id", threadID, "skipped", skipped)
		}
	}
	return nil
}

// joinParts concatenates the string parts of a message with newlines.
// Non-string parts (inline image refs) are dropped.
func joinParts(parts []any) string {
	out := ""
	first := true
	for _, p := range parts {
		s, ok := p.(string)
		if !ok {
			continue
		}
		if !first {
			out += "\n"
		}
		out += s
		first = false
	}
	return out
}
