package store

import (
	"context"

	"github.com/go-go-golems/chatmirror/pkg/events"
	"github.com/go-go-golems/chatmirror/pkg/remote"
	"github.com/rs/zerolog/log"
)

const (
	opLoadConversations  = remote.OpListConversations
	opLoadMessages       = remote.OpListMessages
	opCreateConversation = remote.OpCreateConversation
	opUpdateTitle        = remote.OpUpdateTitle
	opDeleteConversation = remote.OpDeleteConversation
	opSaveMessage        = remote.OpSaveMessage
)

const NetworkErrorMessage = "network error, please try again later"

// Messages recorded when the server rejects a call without a message.
var fallbackMessages = map[string]string{
	opLoadConversations:  "failed to load conversations",
	opLoadMessages:       "failed to load messages",
	opCreateConversation: "failed to create conversation",
	opUpdateTitle:        "failed to update conversation title",
	opDeleteConversation: "failed to delete conversation",
	opSaveMessage:        "failed to save message",
}

// command is the remote half of a store operation. The local half has
// already been applied when it runs.
type command struct {
	op             string
	conversationID string
	call           func(ctx context.Context) error
}

func (s *Store) run(ctx context.Context, c command) *SyncHandle {
	return s.dispatcher.submit(ctx, func(ctx context.Context) error {
		err := c.call(ctx)
		if err != nil {
			s.recordFailure(c.op, c.conversationID, err)
		}
		return err
	})
}

// recordFailure logs err and stores a user facing message in SyncError.
// Application errors keep the server message; everything else is reported
// as a network error.
func (s *Store) recordFailure(op string, conversationID string, err error) {
	msg := NetworkErrorMessage
	if appErr, ok := remote.AsAppError(err); ok {
		msg = appErr.Msg
		if msg == "" {
			msg = fallbackMessages[op]
		}
		log.Warn().Err(err).Str("op", op).Str("conversation", conversationID).Int("code", appErr.Code).Msg("server rejected request")
	} else {
		log.Error().Err(err).Str("op", op).Str("conversation", conversationID).Msg("request failed")
	}

	s.mu.Lock()
	s.syncError = msg
	s.mu.Unlock()

	s.publish(events.StoreEvent{
		Type:           events.EventSyncFailed,
		ConversationID: conversationID,
		Op:             op,
		Error:          msg,
	})
}
