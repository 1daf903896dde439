// Package realtime carries row changes from the backing store to subscribers.
//
// The server side publishes a Change after every committed write, relays it
// between instances through Redis and fans it out to WebSocket subscribers.
// The wire types are shared with the client so both ends speak the same frames.
package realtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Tables that publish changes.
const (
	TableRooms         = "rooms"
	TableNotifications = "notifications"
)

// Status is the health of a subscription as reported to its consumer.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Healthy reports whether push delivery is active.
func (s Status) Healthy() bool {
	return s == StatusSubscribed
}

// ChangeType is the kind of row mutation.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one row mutation. Record holds the new row for inserts and
// updates; OldRecord holds the removed row for deletes.
type Change struct {
	Table           string          `json:"table"`
	Type            ChangeType      `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// NewChange encodes a row mutation.
func NewChange(table string, typ ChangeType, row any, at time.Time) (Change, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Change{}, fmt.Errorf("failed to encode %s row: %w", table, err)
	}
	c := Change{Table: table, Type: typ, CommitTimestamp: at.UTC()}
	if typ == ChangeDelete {
		c.OldRecord = raw
	} else {
		c.Record = raw
	}
	return c, nil
}

// Row returns the row the change is about: the old row for deletes, the new one otherwise.
func (c Change) Row() json.RawMessage {
	if c.Type == ChangeDelete {
		return c.OldRecord
	}
	return c.Record
}

// Topic selects the changes a subscriber wants: one table, optionally
// narrowed by a filter of the form "column=eq.value".
type Topic struct {
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

func (t Topic) String() string {
	if t.Filter == "" {
		return t.Table
	}
	return t.Table + ":" + t.Filter
}

// Validate checks that the filter, if any, is well formed.
func (t Topic) Validate() error {
	if t.Table == "" {
		return fmt.Errorf("topic table is required")
	}
	if t.Filter == "" {
		return nil
	}
	_, _, err := parseFilter(t.Filter)
	return err
}

func parseFilter(f string) (column, value string, err error) {
	column, rest, ok := strings.Cut(f, "=")
	if !ok || column == "" {
		return "", "", fmt.Errorf("invalid filter %q", f)
	}
	value, ok = strings.CutPrefix(rest, "eq.")
	if !ok {
		return "", "", fmt.Errorf("unsupported filter operator in %q", f)
	}
	return column, value, nil
}

// Matches reports whether c belongs to the topic.
func (t Topic) Matches(c Change) bool {
	if c.Table != t.Table {
		return false
	}
	if t.Filter == "" {
		return true
	}
	column, value, err := parseFilter(t.Filter)
	if err != nil {
		return false
	}
	var row map[string]any
	if err := json.Unmarshal(c.Row(), &row); err != nil {
		return false
	}
	v, ok := row[column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == value
}

// FrameType tags a WebSocket frame.
type FrameType string

const (
	FrameStatus FrameType = "status"
	FrameChange FrameType = "change"
)

// Frame is the unit sent over the realtime WebSocket.
type Frame struct {
	Type   FrameType `json:"type"`
	Topic  string    `json:"topic"`
	Status Status    `json:"status,omitempty"`
	Change *Change   `json:"change,omitempty"`
}

// Update is what a subscription delivers to its consumer, in arrival order:
// either a health status or a change.
type Update struct {
	Status Status
	Change *Change
}

// IsStatus reports whether u carries a health status.
func (u Update) IsStatus() bool {
	return u.Change == nil
}
