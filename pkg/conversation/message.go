package conversation

import (
	"bytes"
	"encoding/json"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

const (
	fieldRole            = "role"
	fieldContent         = "content"
	fieldThinkingContent = "thinkingContent"
)

// Message is one turn of dialogue as the remote service stores it.
//
// Content is the visible text. ThinkingContent is nil unless a reasoning
// segment was extracted from the raw content by a Parser. Every other field
// sent by the producer is kept verbatim in Extra and written back on marshal,
// including a content value that is not a JSON string.
type Message struct {
	Role            Role
	Content         string
	ThinkingContent *string
	Extra           map[string]any
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// HasThinking reports whether a reasoning segment was extracted.
func (m Message) HasThinking() bool {
	return m.ThinkingContent != nil
}

// Thinking returns the extracted reasoning segment, or "".
func (m Message) Thinking() string {
	if m.ThinkingContent == nil {
		return ""
	}
	return *m.ThinkingContent
}

func (m Message) clone() Message {
	ret := m
	if m.ThinkingContent != nil {
		t := *m.ThinkingContent
		ret.ThinkingContent = &t
	}
	if m.Extra != nil {
		ret.Extra = clone.Clone(m.Extra).(map[string]any)
	}
	return ret
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Role != "" {
		out[fieldRole] = m.Role
	}
	if _, ok := m.Extra[fieldContent]; !ok {
		out[fieldContent] = m.Content
	}
	if m.ThinkingContent != nil {
		out[fieldThinkingContent] = *m.ThinkingContent
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "could not decode message")
	}

	*m = Message{}
	if role, ok := raw[fieldRole].(string); ok {
		m.Role = Role(role)
		delete(raw, fieldRole)
	}
	switch content := raw[fieldContent].(type) {
	case string:
		m.Content = content
		delete(raw, fieldContent)
	case nil:
		delete(raw, fieldContent)
	}
	if thinking, ok := raw[fieldThinkingContent].(string); ok {
		m.ThinkingContent = &thinking
		delete(raw, fieldThinkingContent)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}
