package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/engine"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/mw"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

const writeWait = 10 * time.Second

var _ engine.Subscription = (*Subscription)(nil)

// Subscription is an open WebSocket change feed.
type Subscription struct {
	conn        *websocket.Conn
	topic       realtime.Topic
	readTimeout time.Duration
	updates     chan realtime.Update
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *Client) realtimeURL(topic realtime.Topic) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/realtime")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := url.Values{"table": {topic.Table}}
	if topic.Filter != "" {
		q.Set("filter", topic.Filter)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe opens a change feed for topic. The server confirms the
// subscription with a SUBSCRIBED status, delivered through Updates.
func (c *Client) Subscribe(ctx context.Context, topic realtime.Topic) (engine.Subscription, error) {
	s, err := c.subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SubscribeNotifications opens the caller's notification feed.
func (c *Client) SubscribeNotifications(ctx context.Context) (*Subscription, error) {
	return c.subscribe(ctx, realtime.Topic{
		Table:  realtime.TableNotifications,
		Filter: "recipient_id=eq." + c.userID,
	})
}

func (c *Client) subscribe(ctx context.Context, topic realtime.Topic) (*Subscription, error) {
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	target, err := c.realtimeURL(topic)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	header := http.Header{}
	header.Set(mw.UserIDHeader, c.userID)
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Op: "subscribe " + topic.String(), Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	s := &Subscription{
		conn:        conn,
		topic:       topic,
		readTimeout: c.readTimeout,
		updates:     make(chan realtime.Update, 16),
		done:        make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go s.readLoop()
	return s, nil
}

// Updates delivers statuses and changes in arrival order. It is closed
// after the final status once the connection ends.
func (s *Subscription) Updates() <-chan realtime.Update {
	return s.updates
}

// Close ends the feed. It is safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) emit(u realtime.Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-s.done:
		return false
	}
}

func (s *Subscription) readLoop() {
	defer close(s.updates)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			status := statusFor(err)
			log.Debug().Err(err).Str("topic", s.topic.String()).Str("status", string(status)).Msg("realtime feed ended")
			s.emit(realtime.Update{Status: status})
			return
		}

		var f realtime.Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			log.Warn().Err(err).Str("topic", s.topic.String()).Msg("dropping malformed frame")
			continue
		}
		var u realtime.Update
		switch f.Type {
		case realtime.FrameStatus:
			u = realtime.Update{Status: f.Status}
		case realtime.FrameChange:
			if f.Change == nil {
				continue
			}
			u = realtime.Update{Change: f.Change}
		default:
			continue
		}
		if !s.emit(u) {
			return
		}
	}
}

// statusFor maps the error that ended a feed to the status reported for it.
func statusFor(err error) realtime.Status {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return realtime.StatusClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return realtime.StatusTimedOut
	}
	return realtime.StatusChannelError
}
