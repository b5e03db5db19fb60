package matchsocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind names a subscriber set. Inbound wire events map onto kinds through
// KindOf; events without a table entry get a kind equal to their name.
type Kind string

const (
	KindNewMessage             Kind = "new_message"
	KindNewMatch               Kind = "new_match"
	KindTypingStart            Kind = "typing_start"
	KindTypingStop             Kind = "typing_stop"
	KindConnectionStatus       Kind = "connection_status"
	KindUserStatus             Kind = "user_status"
	KindUserAbsent             Kind = "user_absent"
	KindNotification           Kind = "notification"
	KindPartnerAssigned        Kind = "partner_assigned"
	KindPhaseChanged           Kind = "phase_changed"
	KindRoundEnded             Kind = "round_ended"
	KindEventComplete          Kind = "event_complete"
	KindWaitingForPartner      Kind = "waiting_for_partner"
	KindParticipantCountUpdate Kind = "participant_count_update"
	KindError                  Kind = "error"
)

// Outbound signal names
const (
	EventAuthenticate        = "authenticate"
	EventJoinChat            = "join_chat"
	EventLeaveChat           = "leave_chat"
	EventTypingStart         = "typing_start"
	EventTypingStop          = "typing_stop"
	EventSendMessage         = "send_message"
	EventGetUserStatus       = "get_user_status"
	EventJoinEventSession    = "join_event_session"
	EventLeaveEventSession   = "leave_event_session"
	EventStartEventRound     = "start_event_round"
	EventReadyForMatchmaking = "ready_for_matchmaking"
	EventAdvancePhase        = "advance_phase"
)

// Inbound frame names
const (
	EventAuthenticated          = "authenticated"
	EventError                  = "error"
	EventMessageSent            = "message_sent"
	EventNewMessage             = "new_message"
	EventNewMatch               = "new_match"
	EventUserStatusChange       = "user_status_change"
	EventUserStatus             = "user_status"
	EventUserAbsent             = "user_absent"
	EventNewNotification        = "new_notification"
	EventEventReminder          = "event_reminder"
	EventPartnerAssigned        = "partner_assigned"
	EventPhaseChanged           = "phase_changed"
	EventRoundEnded             = "round_ended"
	EventEventComplete          = "event_complete"
	EventWaitingForPartner      = "waiting_for_partner"
	EventParticipantCountUpdate = "participant_count_update"
)

var inboundKinds = map[string]Kind{
	EventError:                  KindError,
	EventNewMessage:             KindNewMessage,
	EventNewMatch:               KindNewMatch,
	EventTypingStart:            KindTypingStart,
	EventTypingStop:             KindTypingStop,
	EventUserStatusChange:       KindUserStatus,
	EventUserStatus:             KindUserStatus,
	EventUserAbsent:             KindUserAbsent,
	EventNewNotification:        KindNotification,
	EventEventReminder:          KindNotification,
	EventPartnerAssigned:        KindPartnerAssigned,
	EventPhaseChanged:           KindPhaseChanged,
	EventRoundEnded:             KindRoundEnded,
	EventEventComplete:          KindEventComplete,
	EventWaitingForPartner:      KindWaitingForPartner,
	EventParticipantCountUpdate: KindParticipantCountUpdate,
}

// KindOf resolves an event name to the subscriber set it is dispatched to
func KindOf(event string) Kind {
	if k, ok := inboundKinds[event]; ok {
		return k
	}
	return Kind(event)
}

// Event is one inbound frame as handed to subscribers
type Event struct {
	Kind Kind
	// Name is the wire event name, which may be an alias of Kind
	Name       string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: failed to decode payload: %w", e.Name, err)
	}
	return nil
}

// MessageKind is the content type of a chat message
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageSystem MessageKind = "system"
)

// Message is a chat message as broadcast in new_message frames
type Message struct {
	ID          string      `json:"_id"`
	MatchID     string      `json:"matchId"`
	SenderID    string      `json:"senderId"`
	Content     string      `json:"content"`
	MessageType MessageKind `json:"messageType,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Match is the payload of a new_match frame
type Match struct {
	MatchID string   `json:"matchId"`
	Users   []string `json:"users,omitempty"`
}

// Typing identifies who started or stopped typing. The backend sends either
// a bare user id or an object.
type Typing struct {
	UserID  string `json:"userId"`
	MatchID string `json:"matchId,omitempty"`
}

func (t *Typing) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.UserID)
	}

	type plain Typing
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Typing(p)
	return nil
}

// UserStatus is the presence payload of user_status and user_status_change frames
type UserStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// UserAbsent reports a participant missing from an event session
type UserAbsent struct {
	UserID  string `json:"userId"`
	EventID string `json:"eventId"`
}

// Notification is the payload of new_notification, and of event_reminder after repackaging
type Notification struct {
	Type         string          `json:"type"`
	Notification json.RawMessage `json:"notification"`
}

// Status is the connection state announced to connection_status subscribers
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

func statusEvent(s Status) Event {
	data, _ := json.Marshal(s)
	return Event{
		Kind:       KindConnectionStatus,
		Name:       string(KindConnectionStatus),
		Data:       data,
		ReceivedAt: time.Now(),
	}
}

// repackageReminder wraps an event_reminder payload as a notification of type event_reminder
func repackageReminder(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	out, err := json.Marshal(Notification{Type: EventEventReminder, Notification: data})
	if err != nil {
		return data
	}
	return out
}
