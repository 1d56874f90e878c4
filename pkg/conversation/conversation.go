package conversation

import (
	"crypto/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DateFormat is the display format of Conversation.Date.
const DateFormat = "2006/1/2"

// Conversation is a titled, ordered sequence of messages.
type Conversation struct {
	ID       string    `json:"id" yaml:"id" jsonschema:"required"`
	Title    string    `json:"title" yaml:"title"`
	Date     string    `json:"date,omitempty" yaml:"date,omitempty"`
	Messages []Message `json:"messages" yaml:"messages"`
}

func NewConversation(id string, title string, now time.Time) *Conversation {
	return &Conversation{
		ID:       id,
		Title:    title,
		Date:     now.Format(DateFormat),
		Messages: []Message{},
	}
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	ret := *c
	ret.Messages = cloneMessages(c.Messages)
	return &ret
}

func cloneMessages(msgs []Message) []Message {
	ret := make([]Message, len(msgs))
	for i, m := range msgs {
		ret[i] = m.clone()
	}
	return ret
}

// IDGenerator synthesizes client-side conversation ids.
type IDGenerator interface {
	NewID(now time.Time) string
}

const DefaultIDPrefix = "chat_"

// TimestampIDGenerator produces "chat_<unix millis>" ids. Two ids requested
// within the same millisecond are bumped so that the generator never returns
// the same id twice within a process. Ids from different clients can collide.
type TimestampIDGenerator struct {
	Prefix string

	mu   sync.Mutex
	last int64
}

func NewTimestampIDGenerator() *TimestampIDGenerator {
	return &TimestampIDGenerator{Prefix: DefaultIDPrefix}
}

func (g *TimestampIDGenerator) NewID(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return g.Prefix + strconv.FormatInt(ms, 10)
}

// ULIDGenerator produces "chat_<ulid>" ids with monotonic entropy.
type ULIDGenerator struct {
	Prefix string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		Prefix:  DefaultIDPrefix,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *ULIDGenerator) NewID(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		// monotonic entropy overflowed within the same millisecond
		id = ulid.Make()
	}
	return g.Prefix + id.String()
}

func NewIDGenerator(scheme string) (IDGenerator, bool) {
	switch scheme {
	case "", "timestamp":
		return NewTimestampIDGenerator(), true
	case "ulid":
		return NewULIDGenerator(), true
	default:
		return nil, false
	}
}
