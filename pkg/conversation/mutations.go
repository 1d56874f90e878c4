package conversation

import (
	"strings"

	"github.com/pkg/errors"
)

// Mutation represents a deterministic change to the local state.
//
// Mutations that target a conversation id that does not exist return an
// error wrapping ErrConversationNotFound and leave the state untouched.
type Mutation interface {
	Apply(s *State) error
	Name() string
}

type prependConversationMutation struct {
	conversation *Conversation
}

// MutatePrependConversation inserts c at the front of the list and selects it.
func MutatePrependConversation(c *Conversation) Mutation {
	return prependConversationMutation{conversation: c}
}

func (m prependConversationMutation) Apply(s *State) error {
	if s == nil {
		return ErrNilState
	}
	if m.conversation == nil {
		return errors.New("conversation is nil")
	}
	if strings.TrimSpace(m.conversation.ID) == "" {
		return errors.New("conversation id is empty")
	}
	if c, _ := s.Find(m.conversation.ID); c != nil {
		return errors.Errorf("conversation %q already exists", m.conversation.ID)
	}
	c := m.conversation.Clone()
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	s.Conversations = append([]*Conversation{c}, s.Conversations...)
	s.CurrentConversationID = c.ID
	return nil
}

func (m prependConversationMutation) Name() string { return "prepend_conversation" }

type appendMessageMutation struct {
	conversationID string
	message        Message
}

// MutateAppendMessage appends msg to the messages of a conversation.
func MutateAppendMessage(conversationID string, msg Message) Mutation {
	return appendMessageMutation{conversationID: conversationID, message: msg}
}

func (m appendMessageMutation) Apply(s *State) error {
	c, _ := s.Find(m.conversationID)
	if c == nil {
		return errors.Wrap(ErrConversationNotFound, m.conversationID)
	}
	c.Messages = append(c.Messages, m.message.clone())
	return nil
}

func (m appendMessageMutation) Name() string { return "append_message" }

type renameConversationMutation struct {
	conversationID string
	title          string
}

func MutateRenameConversation(conversationID string, title string) Mutation {
	return renameConversationMutation{conversationID: conversationID, title: title}
}

func (m renameConversationMutation) Apply(s *State) error {
	c, _ := s.Find(m.conversationID)
	if c == nil {
		return errors.Wrap(ErrConversationNotFound, m.conversationID)
	}
	c.Title = m.title
	return nil
}

func (m renameConversationMutation) Name() string { return "rename_conversation" }

type deleteConversationMutation struct {
	conversationID string
}

// MutateDeleteConversation removes a conversation. If it was selected, the
// first remaining conversation becomes current, or none if the list is empty.
func MutateDeleteConversation(conversationID string) Mutation {
	return deleteConversationMutation{conversationID: conversationID}
}

func (m deleteConversationMutation) Apply(s *State) error {
	_, idx := s.Find(m.conversationID)
	if idx < 0 {
		return errors.Wrap(ErrConversationNotFound, m.conversationID)
	}
	s.Conversations = append(s.Conversations[:idx:idx], s.Conversations[idx+1:]...)
	if s.CurrentConversationID == m.conversationID {
		s.CurrentConversationID = ""
		if len(s.Conversations) > 0 {
			s.CurrentConversationID = s.Conversations[0].ID
		}
	}
	return nil
}

func (m deleteConversationMutation) Name() string { return "delete_conversation" }

type selectConversationMutation struct {
	conversationID string
}

// MutateSelectConversation sets the current conversation without checking
// that it exists. An empty id clears the selection.
func MutateSelectConversation(conversationID string) Mutation {
	return selectConversationMutation{conversationID: conversationID}
}

func (m selectConversationMutation) Apply(s *State) error {
	if s == nil {
		return ErrNilState
	}
	s.CurrentConversationID = m.conversationID
	return nil
}

func (m selectConversationMutation) Name() string { return "select_conversation" }

type replaceConversationsMutation struct {
	conversations []*Conversation
}

// MutateReplaceConversations replaces the whole list. Repeated ids keep their
// first occurrence. A selection that is no longer in the list is cleared.
func MutateReplaceConversations(convs []*Conversation) Mutation {
	return replaceConversationsMutation{conversations: convs}
}

func (m replaceConversationsMutation) Apply(s *State) error {
	if s == nil {
		return ErrNilState
	}
	convs := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		convs = append(convs, c.Clone())
	}
	s.Conversations = dedupeConversations(convs)
	if _, ok := s.Current(); !ok {
		s.CurrentConversationID = ""
	}
	return nil
}

func (m replaceConversationsMutation) Name() string { return "replace_conversations" }

type replaceMessagesMutation struct {
	conversationID string
	messages       []Message
}

// MutateReplaceMessages replaces the message history of a conversation.
func MutateReplaceMessages(conversationID string, msgs []Message) Mutation {
	return replaceMessagesMutation{conversationID: conversationID, messages: msgs}
}

func (m replaceMessagesMutation) Apply(s *State) error {
	c, _ := s.Find(m.conversationID)
	if c == nil {
		return errors.Wrap(ErrConversationNotFound, m.conversationID)
	}
	c.Messages = cloneMessages(m.messages)
	return nil
}

func (m replaceMessagesMutation) Name() string { return "replace_messages" }
