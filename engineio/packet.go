package engineio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Protocol is the Engine.IO protocol revision spoken by this package
const Protocol = "4"

// recordSeparator delimits packets inside a polling payload
const recordSeparator = 0x1e

// PacketType represents Engine.IO packet types
type PacketType byte

const (
	PacketTypeOpen PacketType = iota
	PacketTypeClose
	PacketTypePing
	PacketTypePong
	PacketTypeMessage
	PacketTypeUpgrade
	PacketTypeNoop
)

// Packet represents an Engine.IO packet
type Packet struct {
	Type PacketType
	Data []byte
}

// Encode encodes the packet to bytes
func (p *Packet) Encode() []byte {
	result := make([]byte, 0, len(p.Data)+1)
	result = append(result, byte('0'+p.Type))
	result = append(result, p.Data...)
	return result
}

// DecodePacket decodes bytes into a packet
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	typeChar := data[0]
	if typeChar < '0' || typeChar > '6' {
		return nil, fmt.Errorf("invalid packet type: %c", typeChar)
	}

	packet := &Packet{
		Type: PacketType(typeChar - '0'),
	}

	if len(data) > 1 {
		packet.Data = append([]byte(nil), data[1:]...)
	}

	return packet, nil
}

// EncodePayload joins packets into a single polling payload
func EncodePayload(packets ...*Packet) []byte {
	var buf bytes.Buffer
	for i, p := range packets {
		if i > 0 {
			buf.WriteByte(recordSeparator)
		}
		buf.Write(p.Encode())
	}
	return buf.Bytes()
}

// DecodePayload splits a polling payload into packets
func DecodePayload(data []byte) ([]*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	records := bytes.Split(data, []byte{recordSeparator})
	packets := make([]*Packet, 0, len(records))
	for _, rec := range records {
		p, err := DecodePacket(rec)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// HandshakeData represents the Engine.IO handshake carried by the open packet
type HandshakeData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// EncodeHandshake creates an open packet with handshake data
func EncodeHandshake(h HandshakeData) (*Packet, error) {
	if h.Upgrades == nil {
		h.Upgrades = []string{}
	}

	jsonData, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}

	return &Packet{Type: PacketTypeOpen, Data: jsonData}, nil
}

// DecodeHandshake parses the data of an open packet
func DecodeHandshake(p *Packet) (*HandshakeData, error) {
	if p.Type != PacketTypeOpen {
		return nil, fmt.Errorf("expected open packet, got %s", p.Type)
	}

	var h HandshakeData
	if err := json.Unmarshal(p.Data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handshake: %w", err)
	}
	if h.SID == "" {
		return nil, fmt.Errorf("handshake without sid")
	}
	return &h, nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeOpen:
		return "open"
	case PacketTypeClose:
		return "close"
	case PacketTypePing:
		return "ping"
	case PacketTypePong:
		return "pong"
	case PacketTypeMessage:
		return "message"
	case PacketTypeUpgrade:
		return "upgrade"
	case PacketTypeNoop:
		return "noop"
	default:
		return "unknown(" + strconv.Itoa(int(pt)) + ")"
	}
}
