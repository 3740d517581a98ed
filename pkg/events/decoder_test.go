package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpha-xone/langchat/pkg/conversation"
)

func fragmentEvent(t *testing.T, payload string) *WireEvent {
	t.Helper()
	return &WireEvent{Kind: EventKindFragment, Data: json.RawMessage(payload)}
}

func TestDecodeNilEvent(t *testing.T) {
	d := NewDecoder()
	assert.Nil(t, d.Decode(nil))
}

func TestDecodeUnknownKindIsIgnored(t *testing.T) {
	d := NewDecoder()
	assert.Nil(t, d.Decode(&WireEvent{Kind: "heartbeat"}))
}

func TestDecodeTerminalKindsCarryNoFragment(t *testing.T) {
	d := NewDecoder()
	assert.Nil(t, d.Decode(&WireEvent{Kind: EventKindEnd}))
	assert.Nil(t, d.Decode(&WireEvent{Kind: EventKindError, Data: json.RawMessage(`{"error":"boom"}`)}))
}

func TestDecodeMalformedPayloadNeverPanics(t *testing.T) {
	var seen error
	d := NewDecoder(WithErrorCallback(func(err error) {
		seen = err
	}))

	f := d.Decode(fragmentEvent(t, `{"id": not json`))
	assert.Nil(t, f)
	assert.Error(t, seen)
}

func TestDecodeDelta(t *testing.T) {
	d := NewDecoder()

	f := d.Decode(fragmentEvent(t, `{"id":"m1","role":"assistant","delta":"Hel"}`))
	require.NotNil(t, f)
	assert.Equal(t, "m1", f.ID)
	assert.Equal(t, conversation.RoleAgent, f.Role)
	assert.Equal(t, "Hel", f.ContentDelta)
	assert.Nil(t, f.ContentFull)
	assert.False(t, f.Final)
}

func TestDecodeStringContent(t *testing.T) {
	d := NewDecoder()

	f := d.Decode(fragmentEvent(t, `{"id":"m1","content":"full text","final":true}`))
	require.NotNil(t, f)
	require.NotNil(t, f.ContentFull)
	assert.Equal(t, "full text", *f.ContentFull)
	assert.True(t, f.Final)
}

func TestDecodeBlockArrayContent(t *testing.T) {
	d := NewDecoder()

	payload := `{"id":"m1","content":[
		{"type":"text","text":"first"},
		{"type":"image","text":"ignored"},
		{"type":"text","text":"second"}
	]}`
	f := d.Decode(fragmentEvent(t, payload))
	require.NotNil(t, f)
	require.NotNil(t, f.ContentFull)
	assert.Equal(t, "first\nsecond", *f.ContentFull)
}

func TestDecodeTextField(t *testing.T) {
	d := NewDecoder()

	f := d.Decode(fragmentEvent(t, `{"id":"m1","text":"from text field"}`))
	require.NotNil(t, f)
	require.NotNil(t, f.ContentFull)
	assert.Equal(t, "from text field", *f.ContentFull)
}

func TestDecodeAbsentContent(t *testing.T) {
	d := NewDecoder()

	f := d.Decode(fragmentEvent(t, `{"id":"m1"}`))
	require.NotNil(t, f)
	assert.Empty(t, f.ContentDelta)
	assert.Nil(t, f.ContentFull)
}

func TestDecodeUnsupportedContentShape(t *testing.T) {
	var seen error
	d := NewDecoder(WithErrorCallback(func(err error) {
		seen = err
	}))

	f := d.Decode(fragmentEvent(t, `{"id":"m1","content":{"nested":"object"}}`))
	assert.Nil(t, f)
	assert.Error(t, seen)
}

func TestDecodeRoleNormalization(t *testing.T) {
	d := NewDecoder()

	cases := map[string]conversation.Role{
		"human":     conversation.RoleHuman,
		"USER":      conversation.RoleHuman,
		"ai":        conversation.RoleAgent,
		"Assistant": conversation.RoleAgent,
		"system":    conversation.RoleSystem,
		"tool":      conversation.RoleTool,
		"critic":    conversation.RoleAgent,
	}
	for wire, want := range cases {
		f := d.Decode(fragmentEvent(t, `{"id":"m1","role":"`+wire+`"}`))
		require.NotNil(t, f, "role %s", wire)
		assert.Equal(t, want, f.Role, "role %s", wire)
	}
}

func TestDecodeSynthesizesMissingID(t *testing.T) {
	d := NewDecoder()

	f1 := d.Decode(fragmentEvent(t, `{"delta":"a"}`))
	f2 := d.Decode(fragmentEvent(t, `{"delta":"b"}`))

	require.NotNil(t, f1)
	require.NotNil(t, f2)
	assert.NotEmpty(t, f1.ID)
	assert.NotEmpty(t, f2.ID)
	// each id-less fragment starts its own message
	assert.NotEqual(t, f1.ID, f2.ID)
}

func TestDecodeRoundTripEcho(t *testing.T) {
	d := NewDecoder()
	input := "what is the airspeed velocity of an unladen swallow?"

	human := conversation.NewMessage(conversation.RoleHuman, input)
	echoed, err := json.Marshal(map[string]interface{}{
		"id":      human.ID,
		"role":    "human",
		"content": human.Content,
		"final":   true,
	})
	require.NoError(t, err)

	f := d.Decode(&WireEvent{Kind: EventKindFragment, Data: echoed})
	require.NotNil(t, f)

	buf := conversation.NewBuffer()
	msg := buf.Apply(f)
	assert.Equal(t, input, msg.Content)
	assert.Equal(t, conversation.RoleHuman, msg.Role)
	assert.True(t, msg.Complete)
}

func TestThreadIDFromEvent(t *testing.T) {
	ev := fragmentEvent(t, `{"thread_id":"th-1","delta":"x"}`)
	assert.Equal(t, "th-1", ThreadIDFromEvent(ev))
	assert.Empty(t, ThreadIDFromEvent(&WireEvent{Kind: EventKindFragment}))
	assert.Empty(t, ThreadIDFromEvent(nil))
}

func TestErrorFromEvent(t *testing.T) {
	ev := &WireEvent{Kind: EventKindError, Data: json.RawMessage(`{"error":"backend unavailable"}`)}
	assert.Equal(t, "backend unavailable", ErrorFromEvent(ev))

	ev = &WireEvent{Kind: EventKindError, Data: json.RawMessage(`{"message":"rate limited"}`)}
	assert.Equal(t, "rate limited", ErrorFromEvent(ev))
}
