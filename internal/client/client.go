// Package client talks to the cleanroom server over HTTP and WebSocket. It
// is the engine's backend in the CLI.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/access"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/engine"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/mw"
)

// DefaultReadTimeout is how long a feed may stay silent, pings included,
// before it is reported as timed out.
const DefaultReadTimeout = 60 * time.Second

var _ engine.Backend = (*Client)(nil)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server answered %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: server answered %d: %s", e.Op, e.Code, e.Message)
}

type apiError struct {
	Error string `json:"error"`
}

// Client is a REST and WebSocket client acting for one user.
type Client struct {
	http        *resty.Client
	baseURL     string
	userID      string
	dialer      *websocket.Dialer
	readTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithReadTimeout sets how long a subscription may go without traffic.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// New creates a client for the server and user named in cfg.
func New(cfg config.SyncConfig, opts ...Option) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server url is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("user id is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := strings.TrimRight(cfg.ServerURL, "/")

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader(mw.UserIDHeader, cfg.UserID).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetError(&apiError{})

	c := &Client{
		http:        httpClient,
		baseURL:     base,
		userID:      cfg.UserID,
		dialer:      &websocket.Dialer{HandshakeTimeout: timeout},
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UserID returns the user the client acts for.
func (c *Client) UserID() string {
	return c.userID
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !resp.IsError() {
		return nil
	}
	se := &StatusError{Op: op, Code: resp.StatusCode()}
	if e, ok := resp.Error().(*apiError); ok && e != nil {
		se.Message = e.Error
	}
	return se
}

// ListRooms fetches the full room list ordered by room number.
func (c *Client) ListRooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	resp, err := c.http.R().SetContext(ctx).SetResult(&rooms).Get("/api/rooms")
	if err := check("list rooms", resp, err); err != nil {
		return nil, err
	}
	return rooms, nil
}

// UpdateRoom writes the status columns of a room.
func (c *Client) UpdateRoom(ctx context.Context, id string, u model.RoomUpdate) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(u).
		Patch("/api/rooms/{id}")
	err = check("update room", resp, err)

	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", engine.ErrRoomNotFound, id)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", engine.ErrAccessDenied, se.Message)
		}
	}
	return err
}

// InsertNotifications creates all rows in one request.
func (c *Client) InsertNotifications(ctx context.Context, ns []model.Notification) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(ns).Post("/api/notifications")
	return check("insert notifications", resp, err)
}

// ListUsers fetches the user directory.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	resp, err := c.http.R().SetContext(ctx).SetResult(&users).Get("/api/users")
	if err := check("list users", resp, err); err != nil {
		return nil, err
	}
	return users, nil
}

// Me fetches the caller's role and room grants.
func (c *Client) Me(ctx context.Context) (model.Me, error) {
	var me model.Me
	resp, err := c.http.R().SetContext(ctx).SetResult(&me).Get("/api/me")
	if err := check("get me", resp, err); err != nil {
		return model.Me{}, err
	}
	return me, nil
}

// Session resolves the engine session of the client's user.
func (c *Client) Session(ctx context.Context) (engine.Session, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return engine.Session{}, err
	}
	return engine.Session{
		UserID: me.UserID,
		Role:   access.ParseRole(me.Role),
		Grants: access.NewGrants(me.RoomIDs...),
	}, nil
}

// ListNotifications fetches up to limit of the caller's notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var ns []model.Notification
	req := c.http.R().SetContext(ctx).SetResult(&ns)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/api/notifications")
	if err := check("list notifications", resp, err); err != nil {
		return nil, err
	}
	return ns, nil
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	resp, err := c.http.R().SetContext(ctx).SetPathParam("id", id).Post("/api/notifications/{id}/read")
	return check("mark read", resp, err)
}

// MarkAllRead marks every unread notification read and returns how many changed.
func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	var out struct {
		Updated int64 `json:"updated"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Post("/api/notifications/read_all")
	if err := check("mark all read", resp, err); err != nil {
		return 0, err
	}
	return out.Updated, nil
}
