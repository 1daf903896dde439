package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/access"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
)

// RecipientPredicate selects the users notified about room transitions.
type RecipientPredicate func(model.User) bool

// ByNotificationFlag selects users whose profile opts in to notifications.
func ByNotificationFlag() RecipientPredicate {
	return func(u model.User) bool {
		return u.ReceivesNotifications
	}
}

// ByRoles selects users holding any of roles.
func ByRoles(roles ...access.Role) RecipientPredicate {
	set := make(map[access.Role]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return func(u model.User) bool {
		r := access.ParseRole(u.Role)
		return r != access.RoleNone && set[r]
	}
}

// RecipientsFromConfig builds the predicate named by cfg.Mode.
func RecipientsFromConfig(cfg config.RecipientsConfig) (RecipientPredicate, error) {
	switch cfg.Mode {
	case "", "flag":
		return ByNotificationFlag(), nil
	case "roles":
		if len(cfg.Roles) == 0 {
			return nil, fmt.Errorf("recipients mode %q needs at least one role", cfg.Mode)
		}
		roles := make([]access.Role, 0, len(cfg.Roles))
		for _, name := range cfg.Roles {
			r := access.ParseRole(name)
			if r == access.RoleNone {
				return nil, fmt.Errorf("unknown recipient role %q", name)
			}
			roles = append(roles, r)
		}
		return ByRoles(roles...), nil
	}
	return nil, fmt.Errorf("unknown recipients mode %q", cfg.Mode)
}

// NotificationFor maps an action to the notification it triggers, if any.
func NotificationFor(action access.Action) (model.NotificationType, bool) {
	switch action {
	case access.ActionFinishWork:
		return model.NotificationWorkFinished, true
	case access.ActionFinishCleaning:
		return model.NotificationCleaningComplete, true
	}
	return "", false
}

// Message renders the notification text.
func Message(kind model.NotificationType, roomNumber string, incubator *string) string {
	switch kind {
	case model.NotificationWorkFinished:
		if incubator != nil && *incubator != "" {
			return fmt.Sprintf("Room %s is now clear (Incubator: %s). Ready for cleaning.", roomNumber, *incubator)
		}
		return fmt.Sprintf("Room %s is now clear. Ready for cleaning.", roomNumber)
	case model.NotificationCleaningComplete:
		return fmt.Sprintf("Room %s cleaning complete. Room is ready.", roomNumber)
	}
	return fmt.Sprintf("Room %s changed.", roomNumber)
}

// Recipients returns the ids of users matching pred, excluding actor, each once.
func Recipients(users []model.User, pred RecipientPredicate, actor string) []string {
	seen := make(map[string]bool, len(users))
	var out []string
	for _, u := range users {
		if u.UserID == "" || u.UserID == actor || seen[u.UserID] {
			continue
		}
		if !pred(u) {
			continue
		}
		seen[u.UserID] = true
		out = append(out, u.UserID)
	}
	return out
}

func (e *Engine) fanOut(ctx context.Context, action access.Action, room model.Room, update model.RoomUpdate, actor string) error {
	kind, ok := NotificationFor(action)
	if !ok {
		return nil
	}

	users, err := e.backend.ListUsers(ctx)
	if err != nil {
		return &BackingStoreError{Op: "list users", Err: err}
	}
	recipients := Recipients(users, e.recipients, actor)
	if len(recipients) == 0 {
		return nil
	}

	msg := Message(kind, room.RoomNumber, update.IncubatorNumber)
	now := e.clock.Now().UTC()
	batch := make([]model.Notification, 0, len(recipients))
	for _, id := range recipients {
		batch = append(batch, model.Notification{
			ID:               uuid.NewString(),
			RoomID:           room.ID,
			SenderID:         actor,
			RecipientID:      id,
			NotificationType: kind,
			Message:          msg,
			CreatedAt:        now,
		})
	}
	if err := e.backend.InsertNotifications(ctx, batch); err != nil {
		return &BackingStoreError{Op: "insert notifications", Err: err}
	}
	return nil
}
