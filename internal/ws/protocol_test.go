package ws

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientFrame(t *testing.T) {
	conversationID := uuid.New()

	raw, err := NewFrame(EventSendMessage, SendMessagePayload{
		ConversationID: conversationID,
		Content:        "hello",
	})
	require.NoError(t, err)

	f, err := ParseClientFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, EventSendMessage, f.Type)

	var p SendMessagePayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, conversationID, p.ConversationID)
	assert.Equal(t, "hello", p.Content)
}

func TestParseClientFrameRejectsUnknownType(t *testing.T) {
	_, err := ParseClientFrame([]byte(`{"type":"subscribe_firehose"}`))
	assert.Error(t, err)
}

func TestParseClientFrameRejectsServerEvents(t *testing.T) {
	// Clients don't get to speak the server's half of the protocol.
	for _, evt := range []EventType{
		EventConnectionEstablished,
		EventAuthError,
		EventNewMessage,
		EventUserStatusChanged,
		EventPong,
		EventError,
	} {
		raw, err := NewFrame(evt, nil)
		require.NoError(t, err)
		_, err = ParseClientFrame(raw)
		assert.Error(t, err, "server event %s must be rejected", evt)
	}
}

func TestParseClientFrameRejectsGarbage(t *testing.T) {
	_, err := ParseClientFrame([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseClientFrame([]byte(`{"payload":{}}`))
	assert.Error(t, err, "missing type tag")
}

func TestNewFrameNilPayload(t *testing.T) {
	raw, err := NewFrame(EventPong, nil)
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, EventPong, f.Type)
	assert.Empty(t, f.Payload)
}
