package parsers

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/basket/chatvault/internal/errcode"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Export-shape schemas, one per provider. They assert only the fields a
// parser dereferences, so a vendor adding fields never trips them; a
// payload that is valid JSON but matches nothing is a SCHEMA_MISMATCH
// rather than a decode panic deep inside a parser.
const chatgptExportSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["mapping"],
		"properties": {
			"mapping": {"type": "object"}
		}
	}
}`

const claudeExportSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["chat_messages"],
		"properties": {
			"chat_messages": {"type": "array"}
		}
	}
}`

const geminiExportSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"anyOf": [
			{"required": ["conversations"]},
			{"required": ["messages"]}
		]
	}
}`

var (
	schemaOnce sync.Once
	schemaErr  error
	compiled   map[string]*jsonschema.Schema
)

func compileSchemas() {
	compiled = make(map[string]*jsonschema.Schema, 3)
	sources := map[string]string{
		ProviderChatGPT: chatgptExportSchema,
		ProviderClaude:  claudeExportSchema,
		ProviderGemini:  geminiExportSchema,
	}
	for provider, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal %s schema: %w", provider, err)
			return
		}
		c := jsonschema.NewCompiler()
		name := provider + ".json"
		if err := c.AddResource(name, doc); err != nil {
			schemaErr = fmt.Errorf("add %s schema resource: %w", provider, err)
			return
		}
		s, err := c.Compile(name)
		if err != nil {
			schemaErr = fmt.Errorf("compile %s schema: %w", provider, err)
			return
		}
		compiled[provider] = s
	}
}

// decodeExport parses text as JSON and validates it against the provider's
// export schema. Invalid JSON is PARSE_JSON_FAILED; valid JSON with no
// recognized provider fields is SCHEMA_MISMATCH. On success the raw array
// is returned for the parser to decode into its own shape.
func decodeExport(provider, text string) (json.RawMessage, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, errcode.New(errcode.ParseJSONFailed, err)
	}
	schema, ok := compiled[provider]
	if !ok {
		return nil, fmt.Errorf("no export schema for provider %q", provider)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, errcode.New(errcode.SchemaMismatch, err)
	}
	return json.RawMessage(text), nil
}
