package internal

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/api"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/client"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/db"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/engine"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/store"
)

type user struct {
	id       string
	role     string
	notified bool
	grants   []string
}

func seedUsers(t *testing.T, gdb *gorm.DB, users []user) {
	now := time.Now().UTC()
	for _, u := range users {
		require.NoError(t, gdb.Create(&model.Profile{
			ID: "p-" + u.id, UserID: u.id, Username: u.id, DisplayName: u.id,
			ReceivesNotifications: u.notified, CreatedAt: now, UpdatedAt: now,
		}).Error)
		require.NoError(t, gdb.Create(&model.UserRole{ID: "r-" + u.id, UserID: u.id, Role: u.role, CreatedAt: now}).Error)
		for _, room := range u.grants {
			require.NoError(t, gdb.Create(&model.RoomAccess{
				ID: "a-" + u.id + "-" + room, UserID: u.id, RoomID: room, CreatedAt: now,
			}).Error)
		}
	}
}

// startEngine runs an engine for userID against the server until the test ends.
func startEngine(t *testing.T, serverURL, userID string) (*engine.Engine, *client.Client) {
	t.Helper()
	c, err := client.New(config.SyncConfig{ServerURL: serverURL, UserID: userID, RequestTimeout: 5 * time.Second})
	require.NoError(t, err)

	e := engine.New(c, engine.WithPollInterval(200*time.Millisecond), engine.WithBackoff(50*time.Millisecond, 200*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	session, err := c.Session(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Start(session))

	select {
	case <-e.Synced():
	case <-time.After(5 * time.Second):
		t.Fatalf("engine for %s never synced", userID)
	}
	require.Eventually(t, e.IsLive, 5*time.Second, 10*time.Millisecond)
	return e, c
}

func roomByNumber(e *engine.Engine, number string) model.Room {
	for _, r := range e.Rooms() {
		if r.RoomNumber == number {
			return r
		}
	}
	return model.Room{}
}

func labelOf(r model.Room) string {
	if r.IncubatorNumber == nil {
		return ""
	}
	return *r.IncubatorNumber
}

// TestRoomLifecycle drives a room through a full cycle by two users whose
// engines talk to a real server, and checks live propagation and the
// notifications each step creates.
func TestRoomLifecycle(t *testing.T) {
	cfg := &config.Config{WorkerPool: config.WorkerPoolConfig{Size: 1}}
	cfg.ApplyDefaults()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	gdb, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	hub := realtime.NewHub(cfg.Realtime)
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Serve(hubCtx)
	}()

	s := store.NewGormStore(gdb, realtime.NewLocalPublisher(hub))
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(s, hub), cfg.Server))
	// Registered first so it runs last, after every engine has stopped.
	t.Cleanup(func() {
		stopHub()
		<-hubDone
		srv.Close()
	})

	ctx := context.Background()
	_, err = s.EnsureRooms(ctx, []string{"101", "102"})
	require.NoError(t, err)
	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	room101, room102 := rooms[0].ID, rooms[1].ID

	seedUsers(t, gdb, []user{
		{id: "alice", role: "operator", grants: []string{room101}},
		{id: "bob", role: "operation_team", notified: true},
		{id: "carol", role: "admin", notified: true},
	})

	alice, _ := startEngine(t, srv.URL, "alice")
	bob, bobClient := startEngine(t, srv.URL, "bob")
	_, carolClient := startEngine(t, srv.URL, "carol")

	require.Len(t, alice.Rooms(), 2)
	assert.True(t, alice.CanAccessRoom(room101))
	assert.False(t, alice.CanAccessRoom(room102))
	assert.True(t, bob.CanAccessRoom(room102))

	// start_work: no notifications, label normalized.
	require.NoError(t, alice.UpdateStatus(ctx, room101, model.StatusOccupied, strPtr("  Inc. 7 ")))
	assert.Eventually(t, func() bool {
		r := roomByNumber(bob, "101")
		return r.Status == model.StatusOccupied && labelOf(r) == "7"
	}, 5*time.Second, 10*time.Millisecond)

	// finish_work: everyone opted in except the actor hears about it.
	require.NoError(t, alice.UpdateStatus(ctx, room101, model.StatusAwaitingCleaning, nil))
	assert.Eventually(t, func() bool {
		r := roomByNumber(bob, "101")
		return r.Status == model.StatusAwaitingCleaning && labelOf(r) == "7"
	}, 5*time.Second, 10*time.Millisecond)

	inbox, err := bobClient.ListNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, model.NotificationWorkFinished, inbox[0].NotificationType)
	assert.Equal(t, "Room 101 is now clear (Incubator: 7). Ready for cleaning.", inbox[0].Message)
	assert.Equal(t, "alice", inbox[0].SenderID)

	// An operator may not clean.
	err = alice.UpdateStatus(ctx, room101, model.StatusReady, nil)
	assert.ErrorIs(t, err, engine.ErrAccessDenied)

	// finish_cleaning by the cleaner clears the label; the cleaner is not notified.
	require.NoError(t, bob.UpdateStatus(ctx, room101, model.StatusReady, nil))
	assert.Eventually(t, func() bool {
		r := roomByNumber(alice, "101")
		return r.Status == model.StatusReady && r.IncubatorNumber == nil
	}, 5*time.Second, 10*time.Millisecond)

	inbox, err = carolClient.ListNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "Room 101 cleaning complete. Room is ready.", inbox[0].Message)
	assert.Equal(t, "bob", inbox[0].SenderID)

	inbox, err = bobClient.ListNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	// No grant on 102: rejected locally, nothing written.
	err = alice.UpdateStatus(ctx, room102, model.StatusOccupied, nil)
	assert.ErrorIs(t, err, engine.ErrAccessDenied)
	r, err := s.GetRoom(ctx, room102)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, r.Status)
}

// TestNotificationFeed follows a recipient's inbox over the WebSocket feed.
func TestNotificationFeed(t *testing.T) {
	cfg := &config.Config{WorkerPool: config.WorkerPoolConfig{Size: 1}}
	cfg.ApplyDefaults()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	gdb, err := db.Init(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	hub := realtime.NewHub(cfg.Realtime)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Serve(hubCtx)
	s := store.NewGormStore(gdb, realtime.NewLocalPublisher(hub))
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(s, hub), cfg.Server))
	t.Cleanup(func() {
		stopHub()
		srv.Close()
	})

	ctx := context.Background()
	bob, err := client.New(config.SyncConfig{ServerURL: srv.URL, UserID: "bob"})
	require.NoError(t, err)
	alice, err := client.New(config.SyncConfig{ServerURL: srv.URL, UserID: "alice"})
	require.NoError(t, err)

	sub, err := bob.SubscribeNotifications(ctx)
	require.NoError(t, err)
	defer sub.Close()

	first := <-sub.Updates()
	require.True(t, first.IsStatus())
	assert.Equal(t, realtime.StatusSubscribed, first.Status)

	require.NoError(t, alice.InsertNotifications(ctx, []model.Notification{
		{RoomID: "r", SenderID: "alice", RecipientID: "carol", NotificationType: model.NotificationWorkFinished, Message: "not for bob"},
		{RoomID: "r", SenderID: "alice", RecipientID: "bob", NotificationType: model.NotificationWorkFinished, Message: "for bob"},
	}))

	select {
	case u := <-sub.Updates():
		require.False(t, u.IsStatus())
		assert.Equal(t, realtime.ChangeInsert, u.Change.Type)
		assert.Contains(t, string(u.Change.Record), `"message":"for bob"`)
	case <-time.After(3 * time.Second):
		t.Fatal("no notification delivered")
	}
}

func strPtr(s string) *string { return &s }
