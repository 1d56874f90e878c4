package conversation

import (
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// JSONSchema describes the wire form produced by Message.MarshalJSON rather
// than the Go struct layout.
func (Message) JSONSchema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set(fieldRole, &jsonschema.Schema{
		Type:        "string",
		Description: "Speaker of the message",
		Examples:    []any{string(RoleUser), string(RoleAssistant)},
	})
	props.Set(fieldContent, &jsonschema.Schema{
		Type:        "string",
		Description: "Visible message text",
	})
	props.Set(fieldThinkingContent, &jsonschema.Schema{
		Type:        "string",
		Description: "Reasoning segment extracted from the raw content",
	})
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		AdditionalProperties: jsonschema.TrueSchema,
	}
}

// SnapshotSchema returns the JSON schema of a persisted Snapshot.
func SnapshotSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	return r.Reflect(&Snapshot{})
}
