package parsers

import (
	"regexp"
	"strings"

	"github.com/basket/chatvault/internal/errcode"
	"github.com/basket/chatvault/internal/vault"
)

// ChatGPTHTML is the best-effort fallback for chat.html exports that carry
// no conversations.json. It regex-scans message blocks; vendors change
// their HTML without notice, so an empty scan is a hard error rather than
// a silent zero-message import.
type ChatGPTHTML struct{}

func (ChatGPTHTML) Name() string { return "chatgpt-html" }

var (
	htmlMessageBlock = regexp.MustCompile(`(?s)<div class="message">(.*?</div>)\s*</div>`)
	htmlAuthor       = regexp.MustCompile(`(?s)<div class="author">(.*?)</div>`)
	htmlContent      = regexp.MustCompile(`(?s)<div class="content">(.*?)</div>`)
	htmlTag          = regexp.MustCompile(`<[^>]*>`)
	htmlTitle        = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
)

func (p ChatGPTHTML) Parse(pt *vault.ParseTx, runID, artifactID int64, text string) error {
	blocks := htmlMessageBlock.FindAllStringSubmatch(text, -1)
	if len(blocks) == 0 {
		// Looser fallback: some exports close the block with a single div.
		loose := regexp.MustCompile(`(?s)<div class="message">(.*?)</div>`)
		blocks = loose.FindAllStringSubmatch(text, -1)
	}
	if len(blocks) == 0 {
		return errcode.Newf(errcode.HTMLNoMessages, "no message blocks in chat.html")
	}

	title := "ChatGPT conversation"
	if m := htmlTitle.FindStringSubmatch(text); m != nil {
		if t := strings.TrimSpace(stripTags(m[1])); t != "" {
			title = t
		}
	}

	threadID, err := pt.InsertThread(vault.Thread{
		Provider:   ProviderChatGPT,
		Title:      title,
		ArtifactID: artifactID,
		RunID:      runID,
	})
	if err != nil {
		return err
	}

	position := 0
	for _, block := range blocks {
		body := block[1]
		role := "unknown"
		if m := htmlAuthor.FindStringSubmatch(body); m != nil {
			if a := strings.TrimSpace(stripTags(m[1])); a != "" {
				role = strings.ToLower(a)
			}
		}
		rawContent := body
		if m := htmlContent.FindStringSubmatch(body); m != nil {
			rawContent = m[1]
		}
		rawContent = strings.TrimSpace(rawContent)
		if rawContent == "" {
			continue
		}
		if err := pt.InsertMessage(vault.Message{
			ThreadID:      threadID,
			Provider:      ProviderChatGPT,
			Role:          role,
			Content:       rawContent,
			ContentPlain:  strings.TrimSpace(stripTags(rawContent)),
			Position:      position,
			ContentSHA256: contentHash(rawContent),
			ArtifactID:    artifactID,
			RunID:         runID,
		}); err != nil {
			return err
		}
		position++
	}
	return nil
}

func stripTags(s string) string {
	return htmlTag.ReplaceAllString(s, "")
}
