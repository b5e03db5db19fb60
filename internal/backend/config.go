package backend

import (
	"fmt"
	"time"

	"github.com/ramory-l/matchsocket/engineio"
	"github.com/rs/zerolog"
)

// AckMode selects how the send_message handler answers
type AckMode string

const (
	// AckModeAck acknowledges with {success: true, messageId}
	AckModeAck AckMode = "ack"
	// AckModeNone stores and broadcasts the message but never answers
	AckModeNone AckMode = "none"
	// AckModeError answers with an error frame and drops the message
	AckModeError AckMode = "error"
	// AckModeSent answers with a message_sent frame instead of an ack
	AckModeSent AckMode = "sent"
	// AckModeReject acknowledges with {success: false, error} and drops the message
	AckModeReject AckMode = "reject"
	// AckModeEmpty acknowledges with an object carrying neither success nor error
	AckModeEmpty AckMode = "empty"
)

// ParseAckMode validates a mode name
func ParseAckMode(s string) (AckMode, error) {
	switch m := AckMode(s); m {
	case AckModeAck, AckModeNone, AckModeError, AckModeSent, AckModeReject, AckModeEmpty:
		return m, nil
	case "":
		return AckModeAck, nil
	default:
		return "", fmt.Errorf("unknown ack mode %q", s)
	}
}

// Config represents the backend configuration
type Config struct {
	// Transports lists the accepted transports; drop websocket to force polling
	Transports   []string
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	MaxPayload   int

	// Secret verifies CONNECT tokens and REST bearer tokens. Empty accepts anyone.
	Secret string

	AckMode AckMode
	Logger  *zerolog.Logger
}

// DefaultConfig returns default backend configuration
func DefaultConfig() *Config {
	return &Config{
		Transports:   []string{engineio.TransportWebsocket, engineio.TransportPolling},
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxPayload:   1e6,
		AckMode:      AckModeAck,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}

	out := *c
	if len(out.Transports) == 0 {
		out.Transports = d.Transports
	}
	if out.PingInterval == 0 {
		out.PingInterval = d.PingInterval
	}
	if out.PingTimeout == 0 {
		out.PingTimeout = d.PingTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.MaxPayload == 0 {
		out.MaxPayload = d.MaxPayload
	}
	if out.AckMode == "" {
		out.AckMode = d.AckMode
	}
	return &out
}
