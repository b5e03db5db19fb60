package socketio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultNamespace is the namespace every socket connects to unless told otherwise
const DefaultNamespace = "/"

// PacketType represents Socket.IO packet types
type PacketType int

const (
	PacketTypeConnect PacketType = iota
	PacketTypeDisconnect
	PacketTypeEvent
	PacketTypeAck
	PacketTypeConnectError
	PacketTypeBinaryEvent
	PacketTypeBinaryAck
)

// Packet represents a Socket.IO packet.
// Data is marshalled as JSON on Encode; DecodePacket leaves it as json.RawMessage.
type Packet struct {
	Type      PacketType
	Namespace string
	Data      any
	ID        *int
}

// NewEvent builds an EVENT packet for the default namespace
func NewEvent(event string, args ...any) *Packet {
	data := make([]any, 0, len(args)+1)
	data = append(data, event)
	data = append(data, args...)

	return &Packet{
		Type:      PacketTypeEvent,
		Namespace: DefaultNamespace,
		Data:      data,
	}
}

// Encode encodes a Socket.IO packet to string
func (p *Packet) Encode() (string, error) {
	var builder strings.Builder

	builder.WriteString(strconv.Itoa(int(p.Type)))

	// Namespace (if not default)
	if p.Namespace != "" && p.Namespace != DefaultNamespace {
		builder.WriteString(p.Namespace)
		builder.WriteByte(',')
	}

	if p.ID != nil {
		builder.WriteString(strconv.Itoa(*p.ID))
	}

	if p.Data != nil {
		jsonData, err := json.Marshal(p.Data)
		if err != nil {
			return "", fmt.Errorf("failed to marshal packet data: %w", err)
		}
		builder.Write(jsonData)
	}

	return builder.String(), nil
}

// DecodePacket decodes a Socket.IO packet from string
func DecodePacket(data string) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	packet := &Packet{
		Namespace: DefaultNamespace,
	}

	pos := 0

	if data[pos] < '0' || data[pos] > '6' {
		return nil, fmt.Errorf("invalid packet type: %c", data[pos])
	}
	packet.Type = PacketType(data[pos] - '0')
	pos++

	if pos >= len(data) {
		return packet, nil
	}

	if data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			packet.Namespace = data[pos:]
			return packet, nil
		}
		packet.Namespace = data[pos : pos+end]
		pos += end + 1
	}

	if pos >= len(data) {
		return packet, nil
	}

	if data[pos] >= '0' && data[pos] <= '9' {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		id, err := strconv.Atoi(data[pos:end])
		if err != nil {
			return nil, fmt.Errorf("invalid ack id: %w", err)
		}
		packet.ID = &id
		pos = end
	}

	if pos >= len(data) {
		return packet, nil
	}

	raw := json.RawMessage(data[pos:])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid packet data: %q", data[pos:])
	}
	packet.Data = raw

	return packet, nil
}

// Raw returns the packet data as undecoded JSON
func (p *Packet) Raw() (json.RawMessage, error) {
	switch d := p.Data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	default:
		return json.Marshal(d)
	}
}

// Args splits the packet data, a JSON array, into its elements
func (p *Packet) Args() ([]json.RawMessage, error) {
	raw, err := p.Raw()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("packet data is not an array: %w", err)
	}
	return args, nil
}

// Event returns the event name and arguments of an EVENT packet
func (p *Packet) Event() (string, []json.RawMessage, error) {
	args, err := p.Args()
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("event packet without name")
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name is not a string: %w", err)
	}
	return name, args[1:], nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeEvent:
		return "event"
	case PacketTypeAck:
		return "ack"
	case PacketTypeConnectError:
		return "connect_error"
	case PacketTypeBinaryEvent:
		return "binary_event"
	case PacketTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}
