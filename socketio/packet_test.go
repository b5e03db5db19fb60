package socketio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	id := 12
	tests := []struct {
		name   string
		packet *Packet
		want   string
	}{
		{"Connect", &Packet{Type: PacketTypeConnect, Data: map[string]any{"token": "t"}}, `0{"token":"t"}`},
		{"Event", NewEvent("join_chat", "m1"), `2["join_chat","m1"]`},
		{"EventWithAck", &Packet{Type: PacketTypeEvent, Data: []any{"send_message"}, ID: &id}, `212["send_message"]`},
		{"Namespace", &Packet{Type: PacketTypeDisconnect, Namespace: "/admin"}, `1/admin,`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.packet.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("Ack", func(t *testing.T) {
		p, err := DecodePacket(`37[{"success":true}]`)
		require.NoError(t, err)
		assert.Equal(t, PacketTypeAck, p.Type)
		assert.Equal(t, DefaultNamespace, p.Namespace)
		require.NotNil(t, p.ID)
		assert.Equal(t, 7, *p.ID)

		args, err := p.Args()
		require.NoError(t, err)
		require.Len(t, args, 1)
		assert.JSONEq(t, `{"success":true}`, string(args[0]))
	})

	t.Run("Event", func(t *testing.T) {
		p, err := DecodePacket(`2["new_message",{"_id":"1"},"extra"]`)
		require.NoError(t, err)

		name, args, err := p.Event()
		require.NoError(t, err)
		assert.Equal(t, "new_message", name)
		require.Len(t, args, 2)

		var extra string
		require.NoError(t, json.Unmarshal(args[1], &extra))
		assert.Equal(t, "extra", extra)
	})

	t.Run("Namespace", func(t *testing.T) {
		p, err := DecodePacket(`4/chat,{"message":"nope"}`)
		require.NoError(t, err)
		assert.Equal(t, PacketTypeConnectError, p.Type)
		assert.Equal(t, "/chat", p.Namespace)

		raw, err := p.Raw()
		require.NoError(t, err)
		assert.JSONEq(t, `{"message":"nope"}`, string(raw))
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, in := range []string{"", "9", `2["unterminated`} {
			_, err := DecodePacket(in)
			assert.Error(t, err, in)
		}
	})

	t.Run("EventWithoutName", func(t *testing.T) {
		p, err := DecodePacket(`2[]`)
		require.NoError(t, err)
		_, _, err = p.Event()
		assert.Error(t, err)
	})
}
