package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampIDGeneratorIsMonotonic(t *testing.T) {
	g := NewTimestampIDGenerator()

	first := g.NewID(testNow)
	second := g.NewID(testNow)
	third := g.NewID(testNow.Add(-1))

	assert.Equal(t, "chat_1709632800000", first)
	assert.Equal(t, "chat_1709632800001", second)
	assert.Equal(t, "chat_1709632800002", third)
}

func TestULIDGenerator(t *testing.T) {
	g := NewULIDGenerator()

	a := g.NewID(testNow)
	b := g.NewID(testNow)

	require.True(t, strings.HasPrefix(a, DefaultIDPrefix))
	assert.Len(t, strings.TrimPrefix(a, DefaultIDPrefix), 26)
	assert.Less(t, a, b)
}

func TestNewIDGenerator(t *testing.T) {
	g, ok := NewIDGenerator("")
	require.True(t, ok)
	assert.IsType(t, &TimestampIDGenerator{}, g)

	g, ok = NewIDGenerator("ulid")
	require.True(t, ok)
	assert.IsType(t, &ULIDGenerator{}, g)

	_, ok = NewIDGenerator("uuid")
	assert.False(t, ok)
}

func TestConversationCloneIsDeep(t *testing.T) {
	c := NewConversation("a", "t", testNow)
	c.Messages = append(c.Messages, NewMessage(RoleUser, "hi"))

	cp := c.Clone()
	cp.Messages[0].Content = "changed"

	assert.Equal(t, "hi", c.Messages[0].Content)
}
