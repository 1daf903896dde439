package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/metrics"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

// ErrNotFound is returned when a lookup or write matches no row.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	ListRooms(ctx context.Context) ([]model.Room, error)
	GetRoom(ctx context.Context, id string) (model.Room, error)
	UpdateRoom(ctx context.Context, id string, u model.RoomUpdate) (model.Room, error)
	EnsureRooms(ctx context.Context, roomNumbers []string) (int64, error)

	InsertNotifications(ctx context.Context, ns []model.Notification) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, recipientID, id string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)

	ListUsers(ctx context.Context) ([]model.User, error)
	Me(ctx context.Context, userID string) (model.Me, error)

	UpsertSubscription(ctx context.Context, sub model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsFor(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	pub realtime.Publisher
}

// NewGormStore creates a new GORM-backed store. Committed room writes and
// notification inserts are announced through pub, which may be nil.
func NewGormStore(db *gorm.DB, pub realtime.Publisher) Store {
	return &gormStore{db: db, pub: pub}
}

// publish announces a committed change. The write already happened, so a
// failure here is only logged; subscribers catch up through their poller.
func (s *gormStore) publish(ctx context.Context, table string, typ realtime.ChangeType, row any) {
	if s.pub == nil {
		return
	}
	change, err := realtime.NewChange(table, typ, row, time.Now())
	if err == nil {
		err = s.pub.Publish(ctx, change)
	}
	if err != nil {
		log.Warn().Err(err).Str("table", table).Str("type", string(typ)).Msg("failed to publish change")
	}
}

// ListRooms returns every room ordered by room number.
func (s *gormStore) ListRooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	if err := s.db.WithContext(ctx).Order("room_number").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func (s *gormStore) GetRoom(ctx context.Context, id string) (model.Room, error) {
	var room model.Room
	if err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Room{}, ErrNotFound
		}
		return model.Room{}, fmt.Errorf("failed to get room %s: %w", id, err)
	}
	return room, nil
}

// UpdateRoom writes the status columns of one room and returns the new row.
func (s *gormStore) UpdateRoom(ctx context.Context, id string, u model.RoomUpdate) (model.Room, error) {
	res := s.db.WithContext(ctx).Model(&model.Room{}).Where("id = ?", id).Updates(u.Columns())
	if res.Error != nil {
		return model.Room{}, fmt.Errorf("failed to update room %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Room{}, ErrNotFound
	}

	metrics.RecordTransition(string(u.Status))

	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return model.Room{}, err
	}
	s.publish(ctx, realtime.TableRooms, realtime.ChangeUpdate, room)
	return room, nil
}

// EnsureRooms creates any of the given room numbers that do not exist yet,
// all in the ready state. It returns how many were created.
func (s *gormStore) EnsureRooms(ctx context.Context, roomNumbers []string) (int64, error) {
	if len(roomNumbers) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rooms := make([]model.Room, 0, len(roomNumbers))
	for _, n := range roomNumbers {
		rooms = append(rooms, model.Room{
			ID:         uuid.NewString(),
			RoomNumber: n,
			Status:     model.StatusReady,
			CreatedAt:  now,
		})
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_number"}},
		DoNothing: true,
	}).Create(&rooms)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to seed rooms: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// InsertNotifications creates all rows in one statement, then announces each.
func (s *gormStore) InsertNotifications(ctx context.Context, ns []model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	for i := range ns {
		if ns[i].ID == "" {
			ns[i].ID = uuid.NewString()
		}
		if ns[i].CreatedAt.IsZero() {
			ns[i].CreatedAt = time.Now().UTC()
		}
	}
	if err := s.db.WithContext(ctx).Create(&ns).Error; err != nil {
		return fmt.Errorf("failed to insert %d notifications: %w", len(ns), err)
	}
	for _, n := range ns {
		metrics.RecordNotifications(string(n.NotificationType), 1)
		s.publish(ctx, realtime.TableNotifications, realtime.ChangeInsert, n)
	}
	return nil
}

// ListNotifications returns the recipient's latest notifications, newest first.
func (s *gormStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]model.Notification, error) {
	var ns []model.Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&ns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return ns, nil
}

// MarkRead marks one of the recipient's notifications read.
func (s *gormStore) MarkRead(ctx context.Context, recipientID, id string) error {
	var n model.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ? AND recipient_id = ?", id, recipientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	if n.IsRead {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient read.
func (s *gormStore) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListUsers returns every profile with its role.
func (s *gormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).Model(&model.Profile{}).
		Select("profiles.user_id, profiles.username, profiles.display_name, profiles.receives_notifications, COALESCE(user_roles.role, '') AS role").
		Joins("LEFT JOIN user_roles ON user_roles.user_id = profiles.user_id").
		Order("profiles.username").
		Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Me returns the user's role and explicit room grants. A user without a
// role row gets an empty role.
func (s *gormStore) Me(ctx context.Context, userID string) (model.Me, error) {
	me := model.Me{UserID: userID, RoomIDs: []string{}}

	var role model.UserRole
	err := s.db.WithContext(ctx).First(&role, "user_id = ?", userID).Error
	switch {
	case err == nil:
		me.Role = role.Role
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return model.Me{}, fmt.Errorf("failed to get role of %s: %w", userID, err)
	}

	if err := s.db.WithContext(ctx).Model(&model.RoomAccess{}).
		Where("user_id = ?", userID).
		Order("room_id").
		Pluck("room_id", &me.RoomIDs).Error; err != nil {
		return model.Me{}, fmt.Errorf("failed to get room grants of %s: %w", userID, err)
	}
	return me, nil
}

// UpsertSubscription creates or replaces a push subscription by endpoint.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub model.PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(&sub).Error
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.PushSubscription{}, ErrNotFound
		}
		return model.PushSubscription{}, err
	}
	return sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}

// SubscriptionsFor returns the push subscriptions registered by a user.
func (s *gormStore) SubscriptionsFor(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to get subscriptions of %s: %w", userID, err)
	}
	return subs, nil
}
