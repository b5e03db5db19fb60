package engineio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport names understood by Dial
const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"
)

// Transport carries Engine.IO packets over one underlying connection.
// Read is called from a single goroutine; Write may be called concurrently.
type Transport interface {
	Name() string
	Read() (*Packet, error)
	Write(packets ...*Packet) error
	Close() error
}

type dialFunc func(ctx context.Context, u url.URL, opts *DialOptions) (Transport, *HandshakeData, error)

var dialers = map[string]dialFunc{
	TransportWebsocket: dialWebsocket,
	TransportPolling:   dialPolling,
}

func transportURL(u url.URL, name, sid string) url.URL {
	q := u.Query()
	q.Set("EIO", Protocol)
	q.Set("transport", name)
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u
}

// websocketTransport is the streaming transport, one packet per text frame
type websocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	timeout time.Duration
}

func dialWebsocket(ctx context.Context, u url.URL, opts *DialOptions) (Transport, *HandshakeData, error) {
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	target := transportURL(u, TransportWebsocket, "")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if opts.MaxPayload > 0 {
		conn.SetReadLimit(int64(opts.MaxPayload))
	}

	t := &websocketTransport{conn: conn, timeout: opts.WriteTimeout}

	if err := conn.SetReadDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, nil, err
	}
	open, err := t.Read()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to read open packet: %w", err)
	}
	hs, err := DecodeHandshake(open)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, nil, err
	}

	return t, hs, nil
}

func (t *websocketTransport) Name() string { return TransportWebsocket }

func (t *websocketTransport) Read() (*Packet, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodePacket(data)
}

func (t *websocketTransport) Write(packets ...*Packet) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for _, p := range packets {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
			return err
		}
		if err := t.conn.WriteMessage(websocket.TextMessage, p.Encode()); err != nil {
			return err
		}
	}
	return nil
}

func (t *websocketTransport) Close() error {
	t.writeMu.Lock()
	deadline := time.Now().Add(t.timeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := t.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	t.writeMu.Unlock()

	cerr := t.conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return errors.Join(werr, cerr)
	}
	return cerr
}

// pollingTransport is the long-polling fallback: GET drains, POST pushes
type pollingTransport struct {
	client  *http.Client
	base    url.URL
	sid     string
	header  http.Header
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// touched only by the reading goroutine
	pending []*Packet
}

func dialPolling(ctx context.Context, u url.URL, opts *DialOptions) (Transport, *HandshakeData, error) {
	tctx, cancel := context.WithCancel(context.Background())
	t := &pollingTransport{
		client:  opts.HTTPClient,
		base:    u,
		header:  opts.Header,
		timeout: opts.WriteTimeout,
		ctx:     tctx,
		cancel:  cancel,
	}

	hctx, hcancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer hcancel()

	packets, err := t.poll(hctx)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	hs, err := DecodeHandshake(packets[0])
	if err != nil {
		cancel()
		return nil, nil, err
	}
	t.sid = hs.SID
	t.pending = packets[1:]

	return t, hs, nil
}

func (t *pollingTransport) Name() string { return TransportPolling }

func (t *pollingTransport) Read() (*Packet, error) {
	for len(t.pending) == 0 {
		packets, err := t.poll(t.ctx)
		if err != nil {
			return nil, err
		}
		t.pending = packets
	}

	p := t.pending[0]
	t.pending = t.pending[1:]
	return p, nil
}

func (t *pollingTransport) poll(ctx context.Context) ([]*Packet, error) {
	target := transportURL(t.base, TransportPolling, t.sid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	t.copyHeader(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read polling response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	return DecodePayload(body)
}

func (t *pollingTransport) Write(packets ...*Packet) error {
	target := transportURL(t.base, TransportPolling, t.sid)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(EncodePayload(packets...)))
	if err != nil {
		return err
	}
	t.copyHeader(req)
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("polling write failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polling write failed with status %d", resp.StatusCode)
	}
	return nil
}

func (t *pollingTransport) Close() error {
	t.cancel()
	return nil
}

func (t *pollingTransport) copyHeader(req *http.Request) {
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}
