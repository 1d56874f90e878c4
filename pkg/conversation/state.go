package conversation

import (
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNilState             = errors.New("conversation state is nil")
)

// State is the local mirror of the remote conversation list.
//
// Conversations are ordered newest-created first. CurrentConversationID is
// either empty or the id of a conversation in Conversations; Validate checks
// that. Version is incremented for every applied mutation and can be used
// to detect unsaved changes.
type State struct {
	Conversations         []*Conversation
	CurrentConversationID string
	Version               uint64
}

func NewState() *State {
	return &State{Conversations: []*Conversation{}}
}

// Apply applies a single mutation and increments the version.
func (s *State) Apply(m Mutation) error {
	if s == nil {
		return ErrNilState
	}
	if m == nil {
		return errors.New("mutation is nil")
	}
	if err := m.Apply(s); err != nil {
		return errors.Wrapf(err, "mutation %s failed", m.Name())
	}
	s.Version++
	return nil
}

// ApplyAll applies multiple mutations sequentially.
func (s *State) ApplyAll(muts ...Mutation) error {
	for _, m := range muts {
		if err := s.Apply(m); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the conversation with the given id and its index, or nil, -1.
func (s *State) Find(id string) (*Conversation, int) {
	if s == nil {
		return nil, -1
	}
	for i, c := range s.Conversations {
		if c != nil && c.ID == id {
			return c, i
		}
	}
	return nil, -1
}

// Current returns the selected conversation, if it exists locally.
func (s *State) Current() (*Conversation, bool) {
	if s == nil || s.CurrentConversationID == "" {
		return nil, false
	}
	c, _ := s.Find(s.CurrentConversationID)
	return c, c != nil
}

// Validate checks that ids are unique and that the selection, if any,
// refers to exactly one conversation.
func (s *State) Validate() error {
	if s == nil {
		return ErrNilState
	}
	seen := make(map[string]bool, len(s.Conversations))
	for _, c := range s.Conversations {
		if c == nil {
			return errors.New("nil conversation in state")
		}
		if seen[c.ID] {
			return errors.Errorf("duplicate conversation id %q", c.ID)
		}
		seen[c.ID] = true
	}
	if s.CurrentConversationID != "" && !seen[s.CurrentConversationID] {
		return errors.Errorf("current conversation %q does not exist", s.CurrentConversationID)
	}
	return nil
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return clone.Clone(s).(*State)
}

// Snapshot is the persisted form of State.
type Snapshot struct {
	Conversations         []*Conversation `json:"conversations" yaml:"conversations"`
	CurrentConversationID string          `json:"currentConversationId" yaml:"currentConversationId"`
}

func (s *State) Snapshot() Snapshot {
	c := s.Clone()
	if c == nil {
		return Snapshot{Conversations: []*Conversation{}}
	}
	if c.Conversations == nil {
		c.Conversations = []*Conversation{}
	}
	return Snapshot{
		Conversations:         c.Conversations,
		CurrentConversationID: c.CurrentConversationID,
	}
}

// StateFromSnapshot rebuilds a State from a persisted snapshot. Nil entries
// and repeated ids are dropped, missing message slices are initialized, and
// a selection that no longer exists is cleared.
func StateFromSnapshot(snap Snapshot) *State {
	ret := NewState()
	convs := make([]*Conversation, 0, len(snap.Conversations))
	for _, c := range snap.Conversations {
		convs = append(convs, c.Clone())
	}
	ret.Conversations = dedupeConversations(convs)
	ret.CurrentConversationID = snap.CurrentConversationID
	if _, ok := ret.Current(); !ok {
		ret.CurrentConversationID = ""
	}
	return ret
}

func dedupeConversations(convs []*Conversation) []*Conversation {
	ret := make([]*Conversation, 0, len(convs))
	seen := make(map[string]bool, len(convs))
	for _, c := range convs {
		if c == nil || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		ret = append(ret, c)
	}
	return ret
}
