package syncqueue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-kind payload schemas. Payloads failing these never enter the queue;
// once queued, an operation is only removed by the drain loop.
var payloadSchemas = map[OperationKind]string{
	KindAddReaction: `{
		"type": "object",
		"required": ["articleId", "userId", "reactionType", "authToken"],
		"properties": {
			"articleId":    {"type": "string", "minLength": 1},
			"userId":       {"type": "string", "minLength": 1},
			"reactionType": {"type": "string", "minLength": 1},
			"authToken":    {"type": "string", "minLength": 1}
		}
	}`,
	KindRemoveReaction: `{
		"type": "object",
		"required": ["reactionId", "authToken"],
		"properties": {
			"reactionId": {"type": "string", "minLength": 1},
			"authToken":  {"type": "string", "minLength": 1}
		}
	}`,
	KindAddComment: `{
		"type": "object",
		"required": ["articleId", "userId", "content", "authToken"],
		"properties": {
			"articleId": {"type": "string", "minLength": 1},
			"userId":    {"type": "string", "minLength": 1},
			"content":   {"type": "string", "minLength": 1},
			"authToken": {"type": "string", "minLength": 1}
		}
	}`,
	KindDeleteComment: `{
		"type": "object",
		"required": ["commentId", "authToken"],
		"properties": {
			"commentId": {"type": "string", "minLength": 1},
			"authToken":  {"type": "string", "minLength": 1}
		}
	}`,
	KindUpdateArticle: `{
		"type": "object",
		"required": ["articleId", "updates", "authToken"],
		"properties": {
			"articleId": {"type": "string", "minLength": 1},
			"updates":   {"type": "object", "minProperties": 1},
			"authToken": {"type": "string", "minLength": 1}
		}
	}`,
}

// PayloadValidator checks operation payloads against the per-kind schemas.
type PayloadValidator struct {
	schemas map[OperationKind]*jsonschema.Schema
}

// NewPayloadValidator compiles the payload schemas. Compilation errors are a
// programming mistake, so this panics rather than returning an error.
func NewPayloadValidator() *PayloadValidator {
	compiler := jsonschema.NewCompiler()
	for kind, raw := range payloadSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			panic(fmt.Sprintf("payload schema for %s does not parse: %v", kind, err))
		}
		if err := compiler.AddResource(string(kind)+".json", doc); err != nil {
			panic(fmt.Sprintf("payload schema for %s not accepted: %v", kind, err))
		}
	}
	schemas := make(map[OperationKind]*jsonschema.Schema, len(payloadSchemas))
	for kind := range payloadSchemas {
		schemas[kind] = compiler.MustCompile(string(kind) + ".json")
	}
	return &PayloadValidator{schemas: schemas}
}

var (
	defaultValidatorOnce sync.Once
	defaultValidator     *PayloadValidator
)

func DefaultPayloadValidator() *PayloadValidator {
	defaultValidatorOnce.Do(func() {
		defaultValidator = NewPayloadValidator()
	})
	return defaultValidator
}

// Validate reports ErrInvalidInput (wrapped with schema detail) when the
// payload does not satisfy the kind's schema.
func (v *PayloadValidator) Validate(kind OperationKind, payload OperationPayload) error {
	if v == nil {
		return nil
	}
	schema, ok := v.schemas[kind]
	if !ok {
		return ErrUnknownKind
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidInput, kind, err)
	}
	return nil
}
