package matchsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Resolution records which path settled a SendMessage call
type Resolution int

const (
	// ResolvedByAck: the ack callback reported success
	ResolvedByAck Resolution = iota + 1
	// ResolvedBySentEvent: a message_sent frame confirmed the send
	ResolvedBySentEvent
	// ResolvedOptimistically: the ack carried neither success nor error
	ResolvedOptimistically
	// ResolvedByTimeout: nothing contradicted the send within the deadline
	ResolvedByTimeout
)

func (r Resolution) String() string {
	switch r {
	case ResolvedByAck:
		return "ack"
	case ResolvedBySentEvent:
		return "message_sent"
	case ResolvedOptimistically:
		return "optimistic"
	case ResolvedByTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// SendResult describes a successful send
type SendResult struct {
	// MessageID is the backend id when the backend reported one
	MessageID  string
	Resolution Resolution
}

// Confirmed reports whether the backend positively acknowledged the message
func (r *SendResult) Confirmed() bool {
	return r.Resolution == ResolvedByAck || r.Resolution == ResolvedBySentEvent
}

// PendingSend describes an in-flight SendMessage call
type PendingSend struct {
	RoomID    string
	Content   string
	Kind      MessageKind
	StartedAt time.Time
}

// TimeoutPolicy decides the outcome of a send nobody answered in time
type TimeoutPolicy func(p PendingSend) (*SendResult, error)

// OptimisticTimeout treats silence as success. The authoritative copy of the
// message is expected later through the room broadcast.
func OptimisticTimeout(PendingSend) (*SendResult, error) {
	return &SendResult{Resolution: ResolvedByTimeout}, nil
}

// RejectOnTimeout treats silence as failure so the caller falls back to REST
func RejectOnTimeout(p PendingSend) (*SendResult, error) {
	return nil, fmt.Errorf("%w: room %s after %s", ErrTimeout, p.RoomID, time.Since(p.StartedAt).Round(time.Millisecond))
}

type sendOutcome struct {
	result *SendResult
	err    error
}

type pendingSend struct {
	PendingSend
	once sync.Once
	done chan sendOutcome
}

// resolve settles the send; only the first call has an effect
func (p *pendingSend) resolve(result *SendResult, err error) {
	p.once.Do(func() {
		p.done <- sendOutcome{result: result, err: err}
	})
}

type outboundMessage struct {
	MatchID     string      `json:"matchId"`
	Content     string      `json:"content"`
	MessageType MessageKind `json:"messageType"`
}

type sendAck struct {
	Success   bool            `json:"success"`
	MessageID string          `json:"messageId"`
	Error     json.RawMessage `json:"error"`
}

// SendMessage emits send_message and waits for the first of: the ack
// callback, an error frame, a message_sent frame, the send timeout,
// Disconnect, or ctx. Without a live transport it fails with ErrNotConnected
// without emitting, so the caller can fall back to HTTP.
func (m *Manager) SendMessage(ctx context.Context, roomID, content string, kind MessageKind) (*SendResult, error) {
	if kind == "" {
		kind = MessageText
	}

	m.mu.Lock()
	socket, userID := m.socket, m.userID
	if socket == nil || !socket.Connected() {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	if userID == "" {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}

	p := &pendingSend{
		PendingSend: PendingSend{
			RoomID:    roomID,
			Content:   content,
			Kind:      kind,
			StartedAt: time.Now(),
		},
		done: make(chan sendOutcome, 1),
	}
	m.pending[p] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, p)
		m.mu.Unlock()
	}()

	logger := m.logger.With().Str("roomID", roomID).Logger()

	offError := socket.Once(EventError, func(args ...json.RawMessage) {
		var data json.RawMessage
		if len(args) > 0 {
			data = args[0]
		}
		p.resolve(nil, &TransportError{Event: EventError, Message: errorText(data)})
	})
	defer offError()

	offSent := socket.Once(EventMessageSent, func(args ...json.RawMessage) {
		res := &SendResult{Resolution: ResolvedBySentEvent}
		if len(args) > 0 {
			res.MessageID = sentMessageID(args[0])
		}
		p.resolve(res, nil)
	})
	defer offSent()

	msg := outboundMessage{MatchID: roomID, Content: content, MessageType: kind}
	cancelAck, err := socket.EmitWithAck(EventSendMessage, func(args ...json.RawMessage) {
		p.resolve(parseSendAck(args))
	}, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to emit %s: %w", EventSendMessage, err)
	}
	defer cancelAck()

	timer := time.NewTimer(m.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case out := <-p.done:
		if out.err != nil {
			logger.Debug().Err(out.err).Msg("send rejected")
		} else {
			logger.Trace().Str("resolution", out.result.Resolution.String()).Msg("send resolved")
		}
		return out.result, out.err
	case <-timer.C:
		logger.Debug().Dur("timeout", m.cfg.SendTimeout).Msg("send not answered in time")
		return m.cfg.OnSendTimeout(p.PendingSend)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func parseSendAck(args []json.RawMessage) (*SendResult, error) {
	if len(args) == 0 {
		return &SendResult{Resolution: ResolvedOptimistically}, nil
	}

	var ack sendAck
	if err := json.Unmarshal(args[0], &ack); err != nil {
		return &SendResult{Resolution: ResolvedOptimistically}, nil
	}

	switch {
	case ack.Success:
		return &SendResult{MessageID: ack.MessageID, Resolution: ResolvedByAck}, nil
	case errorText(ack.Error) != "":
		return nil, &TransportError{Event: EventSendMessage, Message: errorText(ack.Error)}
	default:
		return &SendResult{MessageID: ack.MessageID, Resolution: ResolvedOptimistically}, nil
	}
}

func sentMessageID(raw json.RawMessage) string {
	var payload struct {
		MessageID string `json:"messageId"`
		ID        string `json:"_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if payload.MessageID != "" {
		return payload.MessageID
	}
	return payload.ID
}
