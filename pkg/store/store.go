// Package store implements the local conversation cache.
//
// Every operation applies its local change first and then, if the change
// has a remote counterpart, issues the remote call. Remote failures never
// roll back the local change; they are logged and recorded in SyncError.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/chatmirror/pkg/conversation"
	"github.com/go-go-golems/chatmirror/pkg/events"
	"github.com/go-go-golems/chatmirror/pkg/mirror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTitle       = "New conversation"
	DefaultMaxInflight = 4
	DefaultSyncTimeout = 30 * time.Second

	maxIDAttempts = 16
)

// ErrIDExhausted is returned by CreateConversation when the id generator
// keeps producing ids that are already taken.
var ErrIDExhausted = errors.New("could not allocate a unique conversation id")

// Remote is the subset of the sync client used by the store.
// *remote.Client implements it.
type Remote interface {
	ListConversations(ctx context.Context) ([]*conversation.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
	CreateConversation(ctx context.Context, id string, title string) error
	UpdateConversationTitle(ctx context.Context, id string, title string) error
	DeleteConversation(ctx context.Context, id string) error
	SaveMessage(ctx context.Context, conversationID string, msg conversation.Message) error
}

type Store struct {
	mu        sync.Mutex
	state     *conversation.State
	isLoading bool
	syncError string

	remote       Remote
	parser       *conversation.Parser
	ids          conversation.IDGenerator
	now          func() time.Time
	defaultTitle string
	publisher    events.Publisher

	maxInflight int
	syncTimeout time.Duration
	dispatcher  *dispatcher
}

type Option func(*Store)

// WithParser runs every loaded message through p. Without a parser loaded
// messages are stored unchanged.
func WithParser(p *conversation.Parser) Option {
	return func(s *Store) {
		s.parser = p
	}
}

func WithIDGenerator(g conversation.IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithDefaultTitle(title string) Option {
	return func(s *Store) {
		s.defaultTitle = title
	}
}

func WithMaxInflight(n int) Option {
	return func(s *Store) {
		s.maxInflight = n
	}
}

func WithSyncTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.syncTimeout = d
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

func New(remote Remote, options ...Option) *Store {
	s := &Store{
		state:        conversation.NewState(),
		remote:       remote,
		ids:          conversation.NewTimestampIDGenerator(),
		now:          time.Now,
		defaultTitle: DefaultTitle,
		maxInflight:  DefaultMaxInflight,
		syncTimeout:  DefaultSyncTimeout,
	}
	for _, o := range options {
		o(s)
	}
	if s.defaultTitle == "" {
		s.defaultTitle = DefaultTitle
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = DefaultSyncTimeout
	}
	s.dispatcher = newDispatcher(s.maxInflight, s.syncTimeout)
	return s
}

// apply runs m under the lock. A missing conversation is reported as
// (false, nil) so that callers can treat it as a no-op.
func (s *Store) apply(m conversation.Mutation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state.Apply(m); err != nil {
		if errors.Is(err, conversation.ErrConversationNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLoading = loading
}

func (s *Store) publish(e events.StoreEvent) {
	if s.publisher == nil {
		return
	}
	e.Time = s.now()
	s.publisher.PublishBlind(e)
}

func (s *Store) parse(msgs []conversation.Message) []conversation.Message {
	if s.parser == nil {
		return msgs
	}
	ret := make([]conversation.Message, len(msgs))
	for i, m := range msgs {
		ret[i] = s.parser.Parse(m)
	}
	return ret
}

// LoadConversations replaces the local list with the remote one. If the
// list is non-empty and nothing is selected, the first conversation is
// selected and its messages are loaded.
func (s *Store) LoadConversations(ctx context.Context) {
	s.setLoading(true)
	defer s.setLoading(false)

	convs, err := s.remote.ListConversations(ctx)
	if err != nil {
		s.recordFailure(opLoadConversations, "", err)
		return
	}

	var toLoad string
	s.mu.Lock()
	err = s.state.Apply(conversation.MutateReplaceConversations(convs))
	if err == nil && len(s.state.Conversations) > 0 && s.state.CurrentConversationID == "" {
		toLoad = s.state.Conversations[0].ID
		err = s.state.Apply(conversation.MutateSelectConversation(toLoad))
	}
	count := len(s.state.Conversations)
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("could not apply loaded conversations")
		return
	}
	log.Debug().Int("count", count).Msg("loaded conversations")
	s.publish(events.StoreEvent{Type: events.EventConversationsLoaded, Count: count})

	if toLoad != "" {
		s.publish(events.StoreEvent{Type: events.EventCurrentChanged, ConversationID: toLoad})
		s.loadMessages(ctx, toLoad)
	}
}

// LoadConversationMessages replaces the messages of the conversation id with
// the remote ones. An empty id is a no-op. If the conversation disappeared
// locally in the meantime the result is dropped.
func (s *Store) LoadConversationMessages(ctx context.Context, id string) {
	if id == "" {
		return
	}
	s.setLoading(true)
	defer s.setLoading(false)
	s.loadMessages(ctx, id)
}

func (s *Store) loadMessages(ctx context.Context, id string) {
	msgs, err := s.remote.ListMessages(ctx, id)
	if err != nil {
		s.recordFailure(opLoadMessages, id, err)
		return
	}

	found, err := s.apply(conversation.MutateReplaceMessages(id, s.parse(msgs)))
	if err != nil {
		log.Error().Err(err).Str("conversation", id).Msg("could not apply loaded messages")
		return
	}
	if !found {
		log.Debug().Str("conversation", id).Msg("dropping messages for unknown conversation")
		return
	}
	s.publish(events.StoreEvent{
		Type:           events.EventMessagesLoaded,
		ConversationID: id,
		Count:          len(msgs),
	})
}

// CreateConversation creates a conversation locally, selects it and then
// creates it remotely. An empty title is replaced with the default title.
func (s *Store) CreateConversation(ctx context.Context, title string) (string, *SyncHandle) {
	if title == "" {
		title = s.defaultTitle
	}

	now := s.now()
	s.mu.Lock()
	id, err := s.allocateID(now)
	if err == nil {
		err = s.state.Apply(conversation.MutatePrependConversation(conversation.NewConversation(id, title, now)))
	}
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("conversation", id).Msg("could not create conversation")
		return id, completedHandle(err)
	}

	log.Debug().Str("conversation", id).Str("title", title).Msg("created conversation")
	s.publish(events.StoreEvent{Type: events.EventConversationCreated, ConversationID: id})

	return id, s.run(ctx, command{
		op:             opCreateConversation,
		conversationID: id,
		call: func(ctx context.Context) error {
			return s.remote.CreateConversation(ctx, id, title)
		},
	})
}

// allocateID asks the generator for an id that is not taken yet. Must be
// called with s.mu held.
func (s *Store) allocateID(now time.Time) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.ids.NewID(now)
		if c, _ := s.state.Find(id); c == nil {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// AddMessage appends msg to a conversation. It never calls the remote and
// does nothing if the conversation is unknown.
func (s *Store) AddMessage(id string, msg conversation.Message) {
	found, err := s.apply(conversation.MutateAppendMessage(id, msg))
	if err != nil {
		log.Error().Err(err).Str("conversation", id).Msg("could not add message")
		return
	}
	if found {
		s.publish(events.StoreEvent{Type: events.EventMessageAdded, ConversationID: id})
	}
}

// SaveMessage appends msg locally and then posts it. Unknown conversations
// are ignored and nothing is posted.
func (s *Store) SaveMessage(ctx context.Context, id string, msg conversation.Message) *SyncHandle {
	found, err := s.apply(conversation.MutateAppendMessage(id, msg))
	if err != nil {
		return completedHandle(err)
	}
	if !found {
		return completedHandle(nil)
	}
	s.publish(events.StoreEvent{Type: events.EventMessageAdded, ConversationID: id})

	return s.run(ctx, command{
		op:             opSaveMessage,
		conversationID: id,
		call: func(ctx context.Context) error {
			return s.remote.SaveMessage(ctx, id, msg)
		},
	})
}

// UpdateConversationTitle renames a conversation locally, then remotely.
// The remote call is issued even if the conversation is unknown locally.
func (s *Store) UpdateConversationTitle(ctx context.Context, id string, title string) *SyncHandle {
	found, err := s.apply(conversation.MutateRenameConversation(id, title))
	if err != nil {
		return completedHandle(err)
	}
	if found {
		s.publish(events.StoreEvent{Type: events.EventConversationRenamed, ConversationID: id})
	}

	return s.run(ctx, command{
		op:             opUpdateTitle,
		conversationID: id,
		call: func(ctx context.Context) error {
			return s.remote.UpdateConversationTitle(ctx, id, title)
		},
	})
}

// DeleteConversation removes a conversation locally, then remotely. If the
// current conversation is removed, the first remaining one is selected.
func (s *Store) DeleteConversation(ctx context.Context, id string) *SyncHandle {
	s.mu.Lock()
	before := s.state.CurrentConversationID
	err := s.state.Apply(conversation.MutateDeleteConversation(id))
	after := s.state.CurrentConversationID
	s.mu.Unlock()

	switch {
	case err == nil:
		s.publish(events.StoreEvent{Type: events.EventConversationDeleted, ConversationID: id})
		if before != after {
			s.publish(events.StoreEvent{Type: events.EventCurrentChanged, ConversationID: after})
		}
	case errors.Is(err, conversation.ErrConversationNotFound):
	default:
		return completedHandle(err)
	}

	return s.run(ctx, command{
		op:             opDeleteConversation,
		conversationID: id,
		call: func(ctx context.Context) error {
			return s.remote.DeleteConversation(ctx, id)
		},
	})
}

// SetCurrentConversation selects id without checking that it exists and
// schedules a message load for it. IsLoading reports true as soon as it
// returns.
func (s *Store) SetCurrentConversation(ctx context.Context, id string) *SyncHandle {
	if _, err := s.apply(conversation.MutateSelectConversation(id)); err != nil {
		return completedHandle(err)
	}
	s.publish(events.StoreEvent{Type: events.EventCurrentChanged, ConversationID: id})

	if id == "" {
		return completedHandle(nil)
	}

	s.setLoading(true)
	h := s.dispatcher.submit(ctx, func(ctx context.Context) error {
		s.LoadConversationMessages(ctx, id)
		return nil
	})
	select {
	case <-h.Done():
		if errors.Is(h.err, ErrClosed) {
			s.setLoading(false)
		}
	default:
	}
	return h
}

// GetCurrentMessages returns a copy of the current conversation's messages,
// or an empty slice if nothing valid is selected.
func (s *Store) GetCurrentMessages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.Current()
	if !ok {
		return []conversation.Message{}
	}
	return c.Clone().Messages
}

func (s *Store) Conversations() []*conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*conversation.Conversation, len(s.state.Conversations))
	for i, c := range s.state.Conversations {
		ret[i] = c.Clone()
	}
	return ret
}

func (s *Store) Conversation(id string) (*conversation.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, _ := s.state.Find(id)
	if c == nil {
		return nil, false
	}
	return c.Clone(), true
}

func (s *Store) CurrentConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentConversationID
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading
}

// SyncError returns the message of the most recent remote failure. It is
// only overwritten by later failures.
func (s *Store) SyncError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncError
}

func (s *Store) ClearSyncError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncError = ""
}

// Version counts applied local mutations.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version
}

func (s *Store) Snapshot() conversation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Restore replaces the local state with snap. Duplicate ids are dropped and
// a selection that does not exist is cleared.
func (s *Store) Restore(snap conversation.Snapshot) {
	state := conversation.StateFromSnapshot(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Version = s.state.Version + 1
	s.state = state
}

func (s *Store) Save(ctx context.Context, m mirror.Mirror) error {
	return mirror.PutJSON(ctx, m, mirror.KeyChatHistory, s.Snapshot())
}

// Load restores the store from m and reports whether a snapshot was found.
func (s *Store) Load(ctx context.Context, m mirror.Mirror) (bool, error) {
	var snap conversation.Snapshot
	ok, err := mirror.GetJSON(ctx, m, mirror.KeyChatHistory, &snap)
	if err != nil || !ok {
		return ok, err
	}
	s.Restore(snap)
	return true, nil
}

// Close waits for in-flight remote calls. Operations issued after Close
// still apply locally; their handles report ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	return s.dispatcher.close(ctx)
}
