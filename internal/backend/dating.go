package backend

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Event names
const (
	EventAuthenticate        = "authenticate"
	EventAuthenticated       = "authenticated"
	EventJoinChat            = "join_chat"
	EventLeaveChat           = "leave_chat"
	EventSendMessage         = "send_message"
	EventNewMessage          = "new_message"
	EventMessageSent         = "message_sent"
	EventTypingStart         = "typing_start"
	EventTypingStop          = "typing_stop"
	EventGetUserStatus       = "get_user_status"
	EventUserStatus          = "user_status"
	EventUserStatusChange    = "user_status_change"
	EventUserAbsent          = "user_absent"
	EventError               = "error"
	EventJoinEventSession    = "join_event_session"
	EventLeaveEventSession   = "leave_event_session"
	EventStartEventRound     = "start_event_round"
	EventReadyForMatchmaking = "ready_for_matchmaking"
	EventAdvancePhase        = "advance_phase"
	EventParticipantCount    = "participant_count_update"
	EventPartnerAssigned     = "partner_assigned"
	EventWaitingForPartner   = "waiting_for_partner"
	EventPhaseChanged        = "phase_changed"
	EventRoundEnded          = "round_ended"
	EventEventComplete       = "event_complete"
	EventNewMatch            = "new_match"
	EventNewNotification     = "new_notification"
	EventEventReminder       = "event_reminder"
)

const (
	sendFailedMessage       = "Failed to send message"
	notAuthenticatedMessage = "Not authenticated"
	userMismatchMessage     = "Authentication error: user does not match token"
)

// Event session phases, in order
var phases = []string{"lobby", "round", "feedback", "complete"}

type eventSession struct {
	participants map[string]string // conn id -> user id
	waiting      []string
	phase        int
	round        int
}

// Backend is a development stand-in for the dating app backend: the
// Socket.IO server with its chat, presence and event-session handlers plus
// the REST message routes.
type Backend struct {
	*Server

	store  *Store
	router *gin.Engine

	mu      sync.Mutex
	ackMode AckMode
	online  map[string]int
	events  map[string]*eventSession
}

// New creates a backend with the default handlers installed
func New(config *Config) *Backend {
	s := NewServer(config)
	b := &Backend{
		Server:  s,
		store:   NewStore(),
		ackMode: s.cfg.AckMode,
		online:  make(map[string]int),
		events:  make(map[string]*eventSession),
	}

	b.Handle(EventAuthenticate, b.authenticate)
	b.Handle(EventJoinChat, b.joinChat)
	b.Handle(EventLeaveChat, b.leaveChat)
	b.Handle(EventSendMessage, b.sendMessage)
	b.Handle(EventTypingStart, b.typing(EventTypingStart))
	b.Handle(EventTypingStop, b.typing(EventTypingStop))
	b.Handle(EventGetUserStatus, b.userStatus)
	b.Handle(EventJoinEventSession, b.joinEventSession)
	b.Handle(EventLeaveEventSession, b.leaveEventSession)
	b.Handle(EventStartEventRound, b.startEventRound)
	b.Handle(EventReadyForMatchmaking, b.readyForMatchmaking)
	b.Handle(EventAdvancePhase, b.advancePhase)
	b.OnDisconnect(b.handleGone)

	b.router = b.routes()
	return b
}

// Handler returns the HTTP handler serving Socket.IO and REST
func (b *Backend) Handler() http.Handler {
	return b.router
}

// Store returns the message store
func (b *Backend) Store() *Store {
	return b.store
}

// SetAckMode changes how send_message is answered from now on
func (b *Backend) SetAckMode(mode AckMode) {
	b.mu.Lock()
	b.ackMode = mode
	b.mu.Unlock()
}

func (b *Backend) currentAckMode() AckMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ackMode
}

// IsOnline reports whether userID has at least one authenticated connection
func (b *Backend) IsOnline(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID] > 0
}

// UserRoom is the room every connection of a user joins
func UserRoom(userID string) string {
	return "user:" + userID
}

// EventRoom is the room of an event session
func EventRoom(eventID string) string {
	return "event:" + eventID
}

// EmitToUser sends an event to every connection of userID
func (b *Backend) EmitToUser(userID, event string, args ...any) error {
	return b.To(UserRoom(userID)).Emit(event, args...)
}

func (b *Backend) authenticate(c *Conn, args []json.RawMessage, ack AckFunc) {
	userID := stringArg(args, "userId")
	if userID == "" {
		c.Emit(EventError, map[string]any{"message": notAuthenticatedMessage})
		return
	}
	if token := c.TokenUser(); token != "" && token != userID {
		c.Emit(EventError, map[string]any{"message": userMismatchMessage})
		return
	}

	previous := c.UserID()
	if previous == userID {
		c.Emit(EventAuthenticated, map[string]any{"userId": userID})
		return
	}
	c.SetUserID(userID)
	c.Join(UserRoom(userID))

	b.mu.Lock()
	if previous != "" {
		b.online[previous]--
	}
	b.online[userID]++
	first := b.online[userID] == 1
	b.mu.Unlock()

	c.Emit(EventAuthenticated, map[string]any{"userId": userID})
	if first {
		b.To().Except(c.ID()).Emit(EventUserStatusChange, map[string]any{"userId": userID, "isOnline": true})
	}
}

func (b *Backend) joinChat(c *Conn, args []json.RawMessage, ack AckFunc) {
	if room := stringArg(args, "matchId"); room != "" {
		c.Join(room)
		ack(map[string]any{"success": true})
	}
}

func (b *Backend) leaveChat(c *Conn, args []json.RawMessage, ack AckFunc) {
	if room := stringArg(args, "matchId"); room != "" {
		c.Leave(room)
	}
}

type sendRequest struct {
	MatchID     string `json:"matchId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

func (b *Backend) sendMessage(c *Conn, args []json.RawMessage, ack AckFunc) {
	var req sendRequest
	if len(args) == 0 || json.Unmarshal(args[0], &req) != nil || req.MatchID == "" {
		ack(map[string]any{"success": false, "error": "invalid message"})
		return
	}

	sender := c.UserID()
	if sender == "" {
		sender = c.TokenUser()
	}
	if sender == "" {
		c.Emit(EventError, map[string]any{"message": notAuthenticatedMessage})
		return
	}

	mode := b.currentAckMode()
	switch mode {
	case AckModeError:
		c.Emit(EventError, map[string]any{"message": sendFailedMessage})
		return
	case AckModeReject:
		ack(map[string]any{"success": false, "error": sendFailedMessage})
		return
	}

	m := b.store.Add(req.MatchID, sender, req.Content, req.MessageType)
	b.To(req.MatchID).Emit(EventNewMessage, m)

	switch mode {
	case AckModeAck:
		ack(map[string]any{"success": true, "messageId": m.ID})
	case AckModeSent:
		c.Emit(EventMessageSent, map[string]any{"messageId": m.ID})
	case AckModeEmpty:
		ack(map[string]any{})
	}
}

func (b *Backend) typing(event string) EventHandler {
	return func(c *Conn, args []json.RawMessage, ack AckFunc) {
		room := stringArg(args, "matchId")
		if room == "" || c.UserID() == "" {
			return
		}
		b.To(room).Except(c.ID()).Emit(event, map[string]any{"userId": c.UserID(), "matchId": room})
	}
}

func (b *Backend) userStatus(c *Conn, args []json.RawMessage, ack AckFunc) {
	userID := stringArg(args, "userId")
	if userID == "" {
		return
	}
	c.Emit(EventUserStatus, map[string]any{"userId": userID, "isOnline": b.IsOnline(userID)})
}

func (b *Backend) joinEventSession(c *Conn, args []json.RawMessage, ack AckFunc) {
	eventID := stringArg(args, "eventId")
	if eventID == "" {
		return
	}
	c.Join(EventRoom(eventID))

	b.mu.Lock()
	es, ok := b.events[eventID]
	if !ok {
		es = &eventSession{participants: make(map[string]string)}
		b.events[eventID] = es
	}
	es.participants[c.ID()] = c.UserID()
	count := len(es.participants)
	b.mu.Unlock()

	b.To(EventRoom(eventID)).Emit(EventParticipantCount, map[string]any{"eventId": eventID, "count": count})
}

func (b *Backend) leaveEventSession(c *Conn, args []json.RawMessage, ack AckFunc) {
	if eventID := stringArg(args, "eventId"); eventID != "" {
		b.leaveEvent(c, eventID)
	}
}

// leaveEvent drops c from the session and tells the others it is gone
func (b *Backend) leaveEvent(c *Conn, eventID string) {
	b.mu.Lock()
	es, ok := b.events[eventID]
	if !ok {
		b.mu.Unlock()
		return
	}
	userID, member := es.participants[c.ID()]
	delete(es.participants, c.ID())
	es.waiting = without(es.waiting, c.ID())
	count := len(es.participants)
	b.mu.Unlock()

	c.Leave(EventRoom(eventID))
	if !member {
		return
	}

	b.To(EventRoom(eventID)).Emit(EventParticipantCount, map[string]any{"eventId": eventID, "count": count})
	if userID != "" {
		b.To(EventRoom(eventID)).Emit(EventUserAbsent, map[string]any{"userId": userID, "eventId": eventID})
	}
}

func (b *Backend) startEventRound(c *Conn, args []json.RawMessage, ack AckFunc) {
	eventID := stringArg(args, "eventId")
	es := b.eventSession(eventID)
	if es == nil {
		return
	}

	b.mu.Lock()
	es.round++
	es.phase = 1
	es.waiting = nil
	round := es.round
	b.mu.Unlock()

	b.To(EventRoom(eventID)).Emit(EventPhaseChanged, map[string]any{"eventId": eventID, "phase": phases[1], "round": round})
}

func (b *Backend) readyForMatchmaking(c *Conn, args []json.RawMessage, ack AckFunc) {
	eventID := stringArg(args, "eventId")
	es := b.eventSession(eventID)
	if es == nil {
		return
	}

	b.mu.Lock()
	if _, ok := es.participants[c.ID()]; !ok {
		b.mu.Unlock()
		return
	}
	es.waiting = append(without(es.waiting, c.ID()), c.ID())
	var pair []string
	if len(es.waiting) >= 2 {
		pair, es.waiting = es.waiting[:2], es.waiting[2:]
	}
	round := es.round
	b.mu.Unlock()

	if pair == nil {
		c.Emit(EventWaitingForPartner, map[string]any{"eventId": eventID})
		return
	}

	first, ok1 := b.Conn(pair[0])
	second, ok2 := b.Conn(pair[1])
	if !ok1 || !ok2 {
		return
	}
	room := pair[0] + ":" + pair[1]
	first.Emit(EventPartnerAssigned, map[string]any{"eventId": eventID, "partnerId": second.UserID(), "roomId": room, "round": round})
	second.Emit(EventPartnerAssigned, map[string]any{"eventId": eventID, "partnerId": first.UserID(), "roomId": room, "round": round})
}

func (b *Backend) advancePhase(c *Conn, args []json.RawMessage, ack AckFunc) {
	eventID := stringArg(args, "eventId")
	es := b.eventSession(eventID)
	if es == nil {
		return
	}

	b.mu.Lock()
	if es.phase < len(phases)-1 {
		es.phase++
	}
	phase, round := phases[es.phase], es.round
	b.mu.Unlock()

	room := EventRoom(eventID)
	b.To(room).Emit(EventPhaseChanged, map[string]any{"eventId": eventID, "phase": phase, "round": round})
	switch phase {
	case "feedback":
		b.To(room).Emit(EventRoundEnded, map[string]any{"eventId": eventID, "round": round})
	case "complete":
		b.To(room).Emit(EventEventComplete, map[string]any{"eventId": eventID})
	}
}

func (b *Backend) eventSession(eventID string) *eventSession {
	if eventID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[eventID]
}

func (b *Backend) handleGone(c *Conn, reason string) {
	b.mu.Lock()
	var joined []string
	for id, es := range b.events {
		if _, ok := es.participants[c.ID()]; ok {
			joined = append(joined, id)
		}
	}
	userID := c.UserID()
	last := false
	if userID != "" {
		b.online[userID]--
		if b.online[userID] <= 0 {
			delete(b.online, userID)
			last = true
		}
	}
	b.mu.Unlock()

	for _, id := range joined {
		b.leaveEvent(c, id)
	}
	if last {
		b.Emit(EventUserStatusChange, map[string]any{"userId": userID, "isOnline": false})
	}
}

// stringArg reads the first argument as a bare string or as field key of an object
func stringArg(args []json.RawMessage, key string) string {
	if len(args) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(args[0], &s); err == nil {
		return s
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args[0], &obj); err != nil {
		return ""
	}
	if err := json.Unmarshal(obj[key], &s); err != nil {
		return ""
	}
	return s
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
