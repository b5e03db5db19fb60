package matchsocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		EventUserStatusChange: KindUserStatus,
		EventUserStatus:       KindUserStatus,
		EventNewNotification:  KindNotification,
		EventEventReminder:    KindNotification,
		EventNewMessage:       KindNewMessage,
		"connection_status":   KindConnectionStatus,
		"something_new":       Kind("something_new"),
	}
	for event, want := range tests {
		assert.Equal(t, want, KindOf(event), event)
	}
}

func TestTypingUnmarshal(t *testing.T) {
	var typing Typing
	require.NoError(t, json.Unmarshal([]byte(`"u1"`), &typing))
	assert.Equal(t, Typing{UserID: "u1"}, typing)

	require.NoError(t, json.Unmarshal([]byte(`{"userId":"u2","matchId":"m1"}`), &typing))
	assert.Equal(t, Typing{UserID: "u2", MatchID: "m1"}, typing)

	assert.Error(t, json.Unmarshal([]byte(`42`), &typing))
}

func TestRepackageReminder(t *testing.T) {
	out := repackageReminder(json.RawMessage(`{"eventId":"e1","startsIn":600}`))

	var n Notification
	require.NoError(t, json.Unmarshal(out, &n))
	assert.Equal(t, EventEventReminder, n.Type)
	assert.JSONEq(t, `{"eventId":"e1","startsIn":600}`, string(n.Notification))

	out = repackageReminder(nil)
	require.NoError(t, json.Unmarshal(out, &n))
	assert.Equal(t, "null", string(n.Notification))
}

func TestEventDecode(t *testing.T) {
	ev := Event{Name: EventNewMessage, Data: json.RawMessage(`{"_id":"1","content":"hi"}`)}

	var m Message
	require.NoError(t, ev.Decode(&m))
	assert.Equal(t, "1", m.ID)
	assert.Equal(t, "hi", m.Content)

	assert.Error(t, Event{Name: EventNewMessage}.Decode(&m))
}

func TestStatusEvent(t *testing.T) {
	ev := statusEvent(StatusConnected)
	assert.Equal(t, KindConnectionStatus, ev.Kind)

	var s Status
	require.NoError(t, ev.Decode(&s))
	assert.Equal(t, StatusConnected, s)
}
