package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublisherManagerDeliversStoreEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	ch, err := pubSub.Subscribe(ctx, TopicStore)
	require.NoError(t, err)

	pm := NewPublisherManager()
	pm.AddPublisher(TopicStore, pubSub)

	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	pm.PublishBlind(StoreEvent{Type: EventConversationCreated, ConversationID: "chat_1", Time: now})
	first := receive(t, ch)
	pm.PublishBlind(StoreEvent{Type: EventSyncFailed, Op: "delete-conversation", Error: "boom", Time: now})
	second := receive(t, ch)

	assert.Equal(t, "0", first.Metadata.Get(MetadataSequenceNumber))
	assert.Equal(t, "1", second.Metadata.Get(MetadataSequenceNumber))

	e, err := NewStoreEventFromMessage(first)
	require.NoError(t, err)
	assert.Equal(t, EventConversationCreated, e.Type)
	assert.Equal(t, "chat_1", e.ConversationID)
	assert.True(t, now.Equal(e.Time))

	e, err = NewStoreEventFromMessage(second)
	require.NoError(t, err)
	assert.Equal(t, EventSyncFailed, e.Type)
	assert.Equal(t, "boom", e.Error)
}

func TestPublishWithoutPublishers(t *testing.T) {
	pm := NewPublisherManager()
	assert.NoError(t, pm.Publish(StoreEvent{Type: EventMessageAdded}))
}

func TestNewStoreEventFromMessageRejectsGarbage(t *testing.T) {
	_, err := NewStoreEventFromMessage(message.NewMessage("1", []byte("not json")))
	assert.Error(t, err)

	_, err = NewStoreEventFromMessage(message.NewMessage("2", []byte(`{}`)))
	assert.Error(t, err)
}
