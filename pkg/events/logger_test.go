package events

import (
	"bytes"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWatermillLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWatermillLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	l.With(watermill.LogFields{"topic": "t"}).Info("subscribed", nil)
	l.Error("publish failed", errors.New("boom"), watermill.LogFields{"n": 1})
	l.Trace("dropped", nil)

	out := buf.String()
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"topic":"t"`)
	assert.Contains(t, out, `"component":"watermill"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.NotContains(t, out, "dropped")
}
