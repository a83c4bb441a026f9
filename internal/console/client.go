// Package console is the terminal chat client of a coinverse server.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// APIError is a failed request with the server's user-facing message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client talks to the coinverse HTTP and WebSocket API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server url must be http or https, got %q", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: defaultTimeout},
		logger:  logger.With(zap.String("component", "console-client")),
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := "Something went wrong. Please try again."
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode response")
}

// Register creates an account and returns its session.
func (c *Client) Register(ctx context.Context, username, email, password string) (domain.Session, error) {
	var sess domain.Session
	err := c.do(ctx, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username, "email": email, "password": password,
	}, &sess)
	return sess, err
}

// SignIn starts a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	var sess domain.Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	}, &sess)
	return sess, err
}

// SignOut ends the session.
func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// Resolve returns the user behind token. It satisfies identity.ResolveFunc.
func (c *Client) Resolve(ctx context.Context, token string) (domain.User, error) {
	var snap struct {
		User *domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/session", token, nil, &snap); err != nil {
		return domain.User{}, err
	}
	if snap.User == nil {
		return domain.User{}, &APIError{Status: http.StatusUnauthorized, Message: "Please sign in again."}
	}
	return *snap.User, nil
}

// Send posts a message to room.
func (c *Client) Send(ctx context.Context, room, text, token string) (domain.ChatMessage, error) {
	var msg domain.ChatMessage
	err := c.do(ctx, http.MethodPost, "/api/chat/"+url.PathEscape(room)+"/messages", token,
		map[string]string{"text": text}, &msg)
	return msg, err
}

type roomUpdate struct {
	Messages []domain.ChatMessage `json:"messages"`
	Error    string               `json:"error,omitempty"`
}

// Watch streams the room's message list to onUpdate until ctx is done or the
// connection drops.
func (c *Client) Watch(ctx context.Context, room string, onUpdate func([]domain.ChatMessage)) error {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/chat/" + url.PathEscape(room) + "/ws"

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "dial chat")
	}
	defer conn.Close()
	c.logger.Debug("chat connected", zap.String("room", room))

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var update roomUpdate
		if err := conn.ReadJSON(&update); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read chat")
		}
		if update.Error != "" {
			return errors.New(update.Error)
		}
		onUpdate(update.Messages)
	}
}
