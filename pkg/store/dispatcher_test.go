package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/chatmirror/pkg/conversation"
	"github.com/go-go-golems/chatmirror/pkg/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRemote blocks every call until gate is closed.
type gatedRemote struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan string
	calls   []string
}

func newGatedRemote() *gatedRemote {
	return &gatedRemote{
		gate:    make(chan struct{}),
		started: make(chan string, 16),
	}
}

func (r *gatedRemote) block(ctx context.Context, call string) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	r.started <- call
	select {
	case <-r.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *gatedRemote) ListConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	return nil, r.block(ctx, "list")
}

func (r *gatedRemote) ListMessages(ctx context.Context, id string) ([]conversation.Message, error) {
	if err := r.block(ctx, "messages "+id); err != nil {
		return nil, err
	}
	return []conversation.Message{conversation.NewMessage(conversation.RoleUser, "late")}, nil
}

func (r *gatedRemote) CreateConversation(ctx context.Context, id string, _ string) error {
	return r.block(ctx, "create "+id)
}

func (r *gatedRemote) UpdateConversationTitle(ctx context.Context, id string, _ string) error {
	return r.block(ctx, "update "+id)
}

func (r *gatedRemote) DeleteConversation(ctx context.Context, id string) error {
	return r.block(ctx, "delete "+id)
}

func (r *gatedRemote) SaveMessage(ctx context.Context, id string, _ conversation.Message) error {
	return r.block(ctx, "save "+id)
}

func waitStarted(t *testing.T, r *gatedRemote) string {
	t.Helper()
	select {
	case call := <-r.started:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("remote call did not start")
		return ""
	}
}

func TestLocalChangeIsVisibleBeforeRemoteCompletes(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r)

	id, h := s.CreateConversation(context.Background(), "optimistic")
	assert.Equal(t, "create "+id, waitStarted(t, r))

	_, ok := s.Conversation(id)
	assert.True(t, ok)
	select {
	case <-h.Done():
		t.Fatal("handle completed before the remote call")
	default:
	}

	close(r.gate)
	require.NoError(t, wait(t, h))
	require.NoError(t, s.Close(context.Background()))
}

func TestCallerCancellationDoesNotAbortIssuedCall(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r, store.WithSyncTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	id, h := s.CreateConversation(ctx, "")
	waitStarted(t, r)
	cancel()

	close(r.gate)
	require.NoError(t, wait(t, h))
	_, ok := s.Conversation(id)
	assert.True(t, ok)
	assert.Empty(t, s.SyncError())
}

func TestSyncTimeoutIsRecorded(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r, store.WithSyncTimeout(20*time.Millisecond))

	h := s.DeleteConversation(context.Background(), "a")
	err := wait(t, h)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, store.NetworkErrorMessage, s.SyncError())
}

func TestHandleWaitHonoursContext(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r)
	h := s.DeleteConversation(context.Background(), "a")
	waitStarted(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(h.Wait(ctx), context.DeadlineExceeded))

	close(r.gate)
	require.NoError(t, wait(t, h))
}

func TestCloseWaitsForInflightCalls(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r)

	h := s.UpdateConversationTitle(context.Background(), "a", "x")
	waitStarted(t, r)

	closed := make(chan error, 1)
	go func() {
		closed <- s.Close(context.Background())
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.gate)
	require.NoError(t, <-closed)
	require.NoError(t, wait(t, h))
}

func TestCloseRespectsContext(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r)
	_ = s.DeleteConversation(context.Background(), "a")
	waitStarted(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(s.Close(ctx), context.DeadlineExceeded))

	close(r.gate)
	require.NoError(t, s.Close(context.Background()))
}

func TestOperationsAfterCloseStayLocal(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r)
	require.NoError(t, s.Close(context.Background()))

	id, h := s.CreateConversation(context.Background(), "after close")
	assert.True(t, errors.Is(wait(t, h), store.ErrClosed))
	_, ok := s.Conversation(id)
	assert.True(t, ok)
	assert.Empty(t, r.calls)
}

func TestMaxInflightBoundsConcurrentCalls(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r, store.WithMaxInflight(1))

	h1 := s.DeleteConversation(context.Background(), "a")
	waitStarted(t, r)

	submitted := make(chan *store.SyncHandle, 1)
	go func() {
		submitted <- s.DeleteConversation(context.Background(), "b")
	}()

	select {
	case call := <-r.started:
		t.Fatalf("second call %q started while the first was in flight", call)
	case <-time.After(50 * time.Millisecond):
	}

	close(r.gate)
	require.NoError(t, wait(t, h1))
	assert.Equal(t, "delete b", waitStarted(t, r))
	require.NoError(t, wait(t, <-submitted))
}

func TestSubmitDoesNotBlockWhenLimitIsReached(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r, store.WithMaxInflight(1))

	first, h1 := s.CreateConversation(context.Background(), "first")
	assert.Equal(t, "create "+first, waitStarted(t, r))

	returned := make(chan struct{})
	var second string
	var h2, h3 *store.SyncHandle
	go func() {
		defer close(returned)
		second, h2 = s.CreateConversation(context.Background(), "second")
		h3 = s.UpdateConversationTitle(context.Background(), first, "renamed")
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("operations blocked on the in-flight limit")
	}
	assert.Len(t, s.Conversations(), 2)
	c, ok := s.Conversation(first)
	require.True(t, ok)
	assert.Equal(t, "renamed", c.Title)

	close(r.gate)
	require.NoError(t, wait(t, h1))
	require.NoError(t, wait(t, h2))
	require.NoError(t, wait(t, h3))

	// queued calls run in submission order
	assert.Equal(t, "create "+second, waitStarted(t, r))
	assert.Equal(t, "update "+first, waitStarted(t, r))
	require.NoError(t, s.Close(context.Background()))
}

func TestCloseDrainsQueuedCalls(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r, store.WithMaxInflight(1))

	h1 := s.DeleteConversation(context.Background(), "a")
	h2 := s.DeleteConversation(context.Background(), "b")
	waitStarted(t, r)

	closed := make(chan error, 1)
	go func() {
		closed <- s.Close(context.Background())
	}()
	close(r.gate)

	require.NoError(t, <-closed)
	for _, h := range []*store.SyncHandle{h1, h2} {
		select {
		case <-h.Done():
		default:
			t.Fatal("Close returned before a queued call finished")
		}
	}
}

func TestMessagesForDeletedConversationAreDropped(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r)
	s.Restore(conversation.Snapshot{
		Conversations:         []*conversation.Conversation{conversation.NewConversation("a", "A", testNow)},
		CurrentConversationID: "a",
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.LoadConversationMessages(context.Background(), "a")
	}()
	assert.Equal(t, "messages a", waitStarted(t, r))
	assert.True(t, s.IsLoading())

	// the delete call blocks on the same gate
	h := s.DeleteConversation(context.Background(), "a")
	waitStarted(t, r)
	close(r.gate)
	<-done
	require.NoError(t, wait(t, h))

	assert.Empty(t, s.Conversations())
	assert.Empty(t, s.GetCurrentMessages())
	assert.False(t, s.IsLoading())
}

func TestSetCurrentConversationReportsLoadingImmediately(t *testing.T) {
	r := newGatedRemote()
	s := store.New(r, store.WithMaxInflight(1))
	s.Restore(conversation.Snapshot{
		Conversations: []*conversation.Conversation{
			conversation.NewConversation("a", "A", testNow),
			conversation.NewConversation("b", "B", testNow),
		},
	})

	// occupy the only worker so the load stays queued
	h1 := s.UpdateConversationTitle(context.Background(), "a", "x")
	waitStarted(t, r)

	h2 := s.SetCurrentConversation(context.Background(), "b")
	assert.True(t, s.IsLoading())

	close(r.gate)
	require.NoError(t, wait(t, h1))
	require.NoError(t, wait(t, h2))
	assert.False(t, s.IsLoading())
	assert.Len(t, s.GetCurrentMessages(), 1)
}

func TestSetCurrentConversationAfterCloseIsNotLoading(t *testing.T) {
	s := store.New(newGatedRemote())
	require.NoError(t, s.Close(context.Background()))

	h := s.SetCurrentConversation(context.Background(), "a")
	assert.True(t, errors.Is(wait(t, h), store.ErrClosed))
	assert.False(t, s.IsLoading())
}
