// Package restapi is the HTTP fallback for sending chat messages when the
// real-time session is down.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ramory-l/matchsocket"
	"github.com/rs/zerolog"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the chat routes of the backend
type Client struct {
	base   *url.URL
	tokens matchsocket.TokenProvider
	http   *http.Client
	logger zerolog.Logger
}

// New creates a client for baseURL. tokens may be nil for unauthenticated calls.
func New(baseURL string, tokens matchsocket.TokenProvider, httpClient *http.Client, logger *zerolog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{base: u, tokens: tokens, http: httpClient, logger: zerolog.Nop()}
	if logger != nil {
		c.logger = logger.With().Str("component", "restapi").Logger()
	}
	return c, nil
}

type sendRequest struct {
	Content     string                  `json:"content"`
	MessageType matchsocket.MessageKind `json:"messageType,omitempty"`
}

// SendMessage posts a message to matchID and returns the stored copy
func (c *Client) SendMessage(ctx context.Context, matchID, content string, kind matchsocket.MessageKind) (*matchsocket.Message, error) {
	body, err := json.Marshal(sendRequest{Content: content, MessageType: kind})
	if err != nil {
		return nil, err
	}

	var m matchsocket.Message
	if err := c.do(ctx, http.MethodPost, c.messagesPath(matchID), body, &m); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("matchID", matchID).Str("messageID", m.ID).Msg("message sent over http")
	return &m, nil
}

// Messages fetches the history of matchID
func (c *Client) Messages(ctx context.Context, matchID string) ([]matchsocket.Message, error) {
	var resp struct {
		Messages []matchsocket.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, c.messagesPath(matchID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) messagesPath(matchID string) string {
	return "/api/chat/" + url.PathEscape(matchID) + "/messages"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	target := c.base.JoinPath(path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
