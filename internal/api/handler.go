// Package api exposes the room, notification and directory primitives over
// HTTP, together with the WebSocket change feed.
package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/access"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/store"
)

// Dispatcher queues push delivery of a stored notification.
type Dispatcher interface {
	Dispatch(n model.Notification)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	hub     *realtime.Hub
	webpush *webpush.Options
	push    Dispatcher
	policy  access.Policy
}

// Option configures a Handler.
type Option func(*Handler)

// WithPush enables web push: the public key is served and every inserted
// notification is handed to d.
func WithPush(opts *webpush.Options, d Dispatcher) Option {
	return func(h *Handler) {
		h.webpush = opts
		h.push = d
	}
}

// WithPolicy replaces the default access policy used to guard room writes.
func WithPolicy(p access.Policy) Option {
	return func(h *Handler) { h.policy = p }
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, hub *realtime.Hub, opts ...Option) *Handler {
	h := &Handler{
		store:  s,
		hub:    hub,
		policy: access.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
