package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/client"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/engine"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func printRooms(w io.Writer, e *engine.Engine) {
	mode := "polling"
	if e.IsLive() {
		mode = "live"
	}
	fmt.Fprintf(w, "[%s] %s\n", time.Now().Format(time.TimeOnly), mode)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tSTATUS\tINCUBATOR\tCHANGED\tACCESS")
	for _, r := range e.Rooms() {
		changed := "-"
		if r.LastStatusChange != nil {
			changed = r.LastStatusChange.Local().Format(time.DateTime)
		}
		mark := ""
		if e.CanAccessRoom(r.ID) {
			mark = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RoomNumber, r.Status, deref(r.IncubatorNumber), changed, mark)
	}
	tw.Flush()
}

// watch prints the room table whenever it changes until ctx is done.
func watch(ctx context.Context, w io.Writer, e *engine.Engine, changed <-chan struct{}) error {
	select {
	case <-e.Synced():
	case <-ctx.Done():
		return ctx.Err()
	}
	printRooms(w, e)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			printRooms(w, e)
		}
	}
}

func findByNumber(rooms []model.Room, number string) (model.Room, bool) {
	for _, r := range rooms {
		if r.RoomNumber == number {
			return r, true
		}
	}
	return model.Room{}, false
}

// setStatus moves the room with the given number to status.
func setStatus(ctx context.Context, w io.Writer, e *engine.Engine, number, status string, label *string) error {
	to := model.RoomStatus(strings.ToLower(status))
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}

	select {
	case <-e.Synced():
	case <-ctx.Done():
		return ctx.Err()
	}

	room, ok := findByNumber(e.Rooms(), number)
	if !ok {
		return fmt.Errorf("room %s: %w", number, engine.ErrRoomNotFound)
	}
	if err := e.UpdateStatus(ctx, room.ID, to, label); err != nil {
		return fmt.Errorf("room %s: %w", number, err)
	}
	fmt.Fprintf(w, "room %s: %s -> %s\n", number, room.Status, to)
	return nil
}

func printNotification(w io.Writer, n model.Notification) {
	read := " "
	if !n.IsRead {
		read = "*"
	}
	fmt.Fprintf(w, "%s %s  %s\n", read, n.CreatedAt.Local().Format(time.DateTime), n.Message)
}

// notifications lists the caller's inbox and optionally follows new entries.
func notifications(ctx context.Context, w io.Writer, c *client.Client, opts options) error {
	if opts.readAll {
		n, err := c.MarkAllRead(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "marked %d notifications read\n", n)
		return nil
	}

	var sub *client.Subscription
	if opts.follow {
		// Subscribe first so nothing inserted while listing is missed.
		s, err := c.SubscribeNotifications(ctx)
		if err != nil {
			return err
		}
		sub = s
		defer sub.Close()
	}

	ns, err := c.ListNotifications(ctx, opts.limit)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(ns))
	for i := len(ns) - 1; i >= 0; i-- {
		seen[ns[i].ID] = true
		printNotification(w, ns[i])
	}
	if sub == nil {
		return nil
	}

	return follow(ctx, w, sub, seen)
}

func follow(ctx context.Context, w io.Writer, sub *client.Subscription, seen map[string]bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sub.Updates():
			if !ok {
				return fmt.Errorf("notification feed ended")
			}
			if u.IsStatus() {
				if !u.Status.Healthy() {
					return fmt.Errorf("notification feed ended: %s", u.Status)
				}
				continue
			}
			if u.Change.Type != realtime.ChangeInsert {
				continue
			}
			var n model.Notification
			if err := decodeRow(u.Change, &n); err != nil || seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			printNotification(w, n)
		}
	}
}

func decodeRow(c *realtime.Change, v any) error {
	return json.Unmarshal(c.Row(), v)
}
