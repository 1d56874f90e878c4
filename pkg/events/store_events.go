package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

const TopicStore = "chatmirror.store"

type EventType string

const (
	EventConversationCreated EventType = "conversation-created"
	EventConversationDeleted EventType = "conversation-deleted"
	EventConversationRenamed EventType = "conversation-renamed"
	EventCurrentChanged      EventType = "current-changed"
	EventMessageAdded        EventType = "message-added"
	EventConversationsLoaded EventType = "conversations-loaded"
	EventMessagesLoaded      EventType = "messages-loaded"
	EventSyncFailed          EventType = "sync-failed"
)

// StoreEvent describes a change to the conversation store.
type StoreEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Op             string    `json:"op,omitempty"`
	Error          string    `json:"error,omitempty"`
	Count          int       `json:"count,omitempty"`
	Time           time.Time `json:"time"`
}

// Publisher receives store events. *PublisherManager satisfies it.
type Publisher interface {
	PublishBlind(payload interface{})
}

func NewStoreEventFromMessage(msg *message.Message) (StoreEvent, error) {
	var e StoreEvent
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return StoreEvent{}, errors.Wrap(err, "could not decode store event")
	}
	if e.Type == "" {
		return StoreEvent{}, errors.New("store event without type")
	}
	return e, nil
}
