package matchsocket

// Subscribe registers l for kind. Use it when the same handle must be
// registered from several places, otherwise prefer the typed On methods.
func (m *Manager) Subscribe(kind Kind, l *Listener) func() {
	return m.registry.Add(kind, l)
}

// Off removes l from the set event resolves to. Wire aliases such as
// user_status_change resolve to the kind they are dispatched under.
func (m *Manager) Off(event string, l *Listener) bool {
	return m.registry.Remove(KindOf(event), l)
}

// subscribe registers fn for kind, decoding each payload into T first.
// Payloads that do not decode are logged and skipped.
func subscribe[T any](m *Manager, kind Kind, fn func(T)) func() {
	return m.registry.Add(kind, NewListener(func(ev Event) {
		var v T
		if err := ev.Decode(&v); err != nil {
			m.logger.Warn().Err(err).Str("kind", string(kind)).Msg("dropping undecodable payload")
			return
		}
		fn(v)
	}))
}

// OnNewMessage receives chat messages broadcast to joined rooms
func (m *Manager) OnNewMessage(fn func(Message)) func() {
	return subscribe(m, KindNewMessage, fn)
}

// OnNewMatch receives new_match pushes
func (m *Manager) OnNewMatch(fn func(Match)) func() {
	return subscribe(m, KindNewMatch, fn)
}

// OnTypingStart receives typing_start relays from other room members
func (m *Manager) OnTypingStart(fn func(Typing)) func() {
	return subscribe(m, KindTypingStart, fn)
}

// OnTypingStop receives typing_stop relays from other room members
func (m *Manager) OnTypingStop(fn func(Typing)) func() {
	return subscribe(m, KindTypingStop, fn)
}

// OnConnectionStatus receives every connected and disconnected transition
func (m *Manager) OnConnectionStatus(fn func(Status)) func() {
	return subscribe(m, KindConnectionStatus, fn)
}

// OnUserStatusChange receives both query answers and unsolicited presence changes
func (m *Manager) OnUserStatusChange(fn func(UserStatus)) func() {
	return subscribe(m, KindUserStatus, fn)
}

// OnUserAbsent receives participants missing from an event session
func (m *Manager) OnUserAbsent(fn func(UserAbsent)) func() {
	return subscribe(m, KindUserAbsent, fn)
}

// OnNotification receives new_notification frames and repackaged event reminders
func (m *Manager) OnNotification(fn func(Notification)) func() {
	return subscribe(m, KindNotification, fn)
}

// OnError receives the text of error frames
func (m *Manager) OnError(fn func(string)) func() {
	return m.registry.Add(KindError, NewListener(func(ev Event) {
		fn(errorText(ev.Data))
	}))
}

// Matchmaking payloads are passed through undecoded.

// OnPartnerAssigned receives the partner picked for a matchmaking round
func (m *Manager) OnPartnerAssigned(fn func(Event)) func() {
	return m.registry.Add(KindPartnerAssigned, NewListener(fn))
}

// OnPhaseChanged receives event-session phase transitions
func (m *Manager) OnPhaseChanged(fn func(Event)) func() {
	return m.registry.Add(KindPhaseChanged, NewListener(fn))
}

// OnRoundEnded receives the end of a matchmaking round
func (m *Manager) OnRoundEnded(fn func(Event)) func() {
	return m.registry.Add(KindRoundEnded, NewListener(fn))
}

// OnEventComplete receives the end of an event session
func (m *Manager) OnEventComplete(fn func(Event)) func() {
	return m.registry.Add(KindEventComplete, NewListener(fn))
}

// OnWaitingForPartner receives the notice that no partner is free yet
func (m *Manager) OnWaitingForPartner(fn func(Event)) func() {
	return m.registry.Add(KindWaitingForPartner, NewListener(fn))
}

// OnParticipantCountUpdate receives the participant count of an event session
func (m *Manager) OnParticipantCountUpdate(fn func(Event)) func() {
	return m.registry.Add(KindParticipantCountUpdate, NewListener(fn))
}
