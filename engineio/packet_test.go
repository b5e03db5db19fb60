package engineio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketEncoding(t *testing.T) {
	t.Run("Message", func(t *testing.T) {
		p := &Packet{Type: PacketTypeMessage, Data: []byte(`2["hello"]`)}
		assert.Equal(t, `42["hello"]`, string(p.Encode()))

		decoded, err := DecodePacket(p.Encode())
		require.NoError(t, err)
		assert.Equal(t, PacketTypeMessage, decoded.Type)
		assert.Equal(t, `2["hello"]`, string(decoded.Data))
	})

	t.Run("NoData", func(t *testing.T) {
		decoded, err := DecodePacket([]byte("2"))
		require.NoError(t, err)
		assert.Equal(t, PacketTypePing, decoded.Type)
		assert.Empty(t, decoded.Data)
	})

	t.Run("DecodeCopiesData", func(t *testing.T) {
		raw := []byte("4abc")
		decoded, err := DecodePacket(raw)
		require.NoError(t, err)
		raw[1] = 'x'
		assert.Equal(t, "abc", string(decoded.Data))
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := DecodePacket(nil)
		assert.Error(t, err)
		_, err = DecodePacket([]byte("9"))
		assert.Error(t, err)
	})
}

func TestPayload(t *testing.T) {
	payload := EncodePayload(
		&Packet{Type: PacketTypePing},
		&Packet{Type: PacketTypeMessage, Data: []byte("hi")},
	)
	assert.Equal(t, "2\x1e4hi", string(payload))

	packets, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, PacketTypePing, packets[0].Type)
	assert.Equal(t, "hi", string(packets[1].Data))

	_, err = DecodePayload(nil)
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	open, err := EncodeHandshake(HandshakeData{SID: "abc", PingInterval: 25000, PingTimeout: 20000, MaxPayload: 1e6})
	require.NoError(t, err)
	assert.Equal(t, PacketTypeOpen, open.Type)

	hs, err := DecodeHandshake(open)
	require.NoError(t, err)
	assert.Equal(t, "abc", hs.SID)
	assert.Equal(t, 25000, hs.PingInterval)
	assert.Equal(t, 20000, hs.PingTimeout)
	assert.Empty(t, hs.Upgrades)

	_, err = DecodeHandshake(&Packet{Type: PacketTypeMessage, Data: []byte(`{"sid":"abc"}`)})
	assert.Error(t, err)

	_, err = DecodeHandshake(&Packet{Type: PacketTypeOpen, Data: []byte(`{}`)})
	assert.Error(t, err)
}
