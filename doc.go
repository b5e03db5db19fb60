// Package matchsocket is the client side of the dating app's real-time
// channel: chat messages, typing and presence signals, match and
// notification pushes, and live event-session matchmaking, carried over
// Socket.IO v5 on Engine.IO v4.
//
// The package keeps one authenticated session per process and fans inbound
// frames out to subscribers grouped by Kind.
//
// # Quick Start
//
//	m := matchsocket.New(matchsocket.Config{
//	    Tokens: matchsocket.StaticToken(token),
//	    URL:    matchsocket.StaticURL("https://api.example.com"),
//	    Logger: &logger,
//	})
//	defer m.Close()
//
//	m.OnNewMessage(func(msg matchsocket.Message) {
//	    log.Printf("%s: %s", msg.SenderID, msg.Content)
//	})
//
//	if err := m.Connect(ctx, userID); err != nil {
//	    return err
//	}
//	m.JoinRoom(matchID)
//
// # Connection
//
// Connect performs the handshake with the token from the TokenProvider and
// then announces the identity with an authenticate event. Calling it again
// with the same identity does nothing; a different identity replaces the
// session. Transport drops are retried up to five times with a linear
// backoff capped at five seconds. Disconnect and a server-initiated
// disconnect are final.
//
// Every transition is published to KindConnectionStatus subscribers as
// StatusConnected or StatusDisconnected.
//
// # Sending Messages
//
// SendMessage resolves on whichever comes first: the ack callback, an error
// frame, a message_sent frame or the send timeout. By default a send nobody
// answered counts as delivered, since the authoritative copy is expected
// through the room broadcast. Set Config.OnSendTimeout to RejectOnTimeout to
// treat silence as failure instead.
//
//	res, err := m.SendMessage(ctx, matchID, "hi", matchsocket.MessageText)
//	if errors.Is(err, matchsocket.ErrNotConnected) {
//	    // fall back to HTTP
//	}
//
// Thread reconciles optimistic placeholders built with NewOptimisticMessage
// against the echoes arriving later.
//
// # Subscribers
//
// Listeners are stored in sets keyed by Kind. Registering the same
// *Listener twice stores it once and removing it leaves other listeners of
// the kind in place. Listeners run one at a time on the Manager's dispatch
// goroutine in arrival order; a panicking listener does not affect the rest.
//
//	l := matchsocket.NewListener(func(ev matchsocket.Event) { ... })
//	off := m.Subscribe(matchsocket.KindTypingStart, l)
//	defer off()
//
// # Signals
//
// JoinRoom, LeaveRoom, SendTyping, SendStoppedTyping, GetUserStatus and the
// event-session signals are fire-and-forget and are dropped silently while
// disconnected.
package matchsocket
