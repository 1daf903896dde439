package notification

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func response(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}
}

var subscriptionColumns = []string{"endpoint", "user_id", "p256dh", "auth", "created_at"}

const subscriptionQuery = `SELECT \* FROM "push_subscriptions" WHERE user_id = \$1`

func TestWorkerPool_Dispatch(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	// Dispatch a job
	wp.Dispatch(model.Notification{ID: "n1", RecipientID: "bob"})

	// Check if the job is in the channel
	select {
	case job := <-wp.Jobs():
		assert.Equal(t, "n1", job.ID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchDropsWhenFull(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(1, db, &webpush.Options{})

	for i := 0; i < cap(wp.Jobs())+5; i++ {
		wp.Dispatch(model.Notification{ID: "n"})
	}
	assert.Len(t, wp.Jobs(), cap(wp.Jobs()))
}

func TestOptions(t *testing.T) {
	opts := Options(config.PushConfig{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:ops@example.com", TTL: 60})
	assert.Equal(t, "pub", opts.VAPIDPublicKey)
	assert.Equal(t, "priv", opts.VAPIDPrivateKey)
	assert.Equal(t, "mailto:ops@example.com", opts.Subscriber)
	assert.Equal(t, 60, opts.TTL)
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	gormDB, mock := newTestDB(t)
	wp := NewWorkerPool(1, gormDB, &webpush.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- wp.Serve(ctx) }()
	defer func() {
		cancel()
		assert.ErrorIs(t, <-served, context.Canceled)
	}()

	notification := model.Notification{
		ID:               "n1",
		RoomID:           "room-1",
		RecipientID:      "bob",
		NotificationType: model.NotificationWorkFinished,
		Message:          "Room 101 is now clear. Ready for cleaning.",
	}

	// --- Test Case: One subscription found, notification sent ---
	t.Run("sends notification for one subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)

				var got Payload
				assert.NoError(t, json.Unmarshal(payload, &got))
				assert.Equal(t, Payload{
					Title:          "Cleanroom Ready",
					Body:           "Room 101 is now clear. Ready for cleaning.",
					RoomID:         "room-1",
					NotificationID: "n1",
					Type:           model.NotificationWorkFinished,
				}, got)
				return response(http.StatusCreated), nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows(subscriptionColumns).
				AddRow("https://example.com/push", "bob", "test_p256dh", "test_auth", time.Now()))

		wp.Dispatch(notification)
		wg.Wait()
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	// --- Test Case: Subscription expired, should be deleted ---
	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return response(http.StatusGone), nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows(subscriptionColumns).
				AddRow("https://example.com/expired", "bob", "k", "a", time.Now()))

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
			WithArgs("https://example.com/expired").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		wp.Dispatch(notification)

		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})

	// --- Test Case: Send fails on one subscription, the rest still go out ---
	t.Run("continues after a send error", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)

		var mu sync.Mutex
		var endpoints []string
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				mu.Lock()
				endpoints = append(endpoints, sub.Endpoint)
				mu.Unlock()
				if sub.Endpoint == "https://example.com/a" {
					return nil, errors.New("dial tcp: timeout")
				}
				return response(http.StatusCreated), nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows(subscriptionColumns).
				AddRow("https://example.com/a", "bob", "k", "a", time.Now()).
				AddRow("https://example.com/b", "bob", "k", "a", time.Now()))

		wp.Dispatch(notification)
		wg.Wait()
		assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, endpoints)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	// --- Test Case: Recipient has no subscriptions ---
	t.Run("sends nothing without subscriptions", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				t.Error("unexpected send")
				return response(http.StatusCreated), nil
			},
		}

		mock.ExpectQuery(subscriptionQuery).
			WithArgs("carol").
			WillReturnRows(sqlmock.NewRows(subscriptionColumns))

		wp.Dispatch(model.Notification{ID: "n2", RecipientID: "carol"})
		assert.Eventually(t, func() bool {
			return mock.ExpectationsWereMet() == nil
		}, time.Second, 10*time.Millisecond)
	})
}

func TestWorkerPool_Serve(t *testing.T) {
	db, _ := newTestDB(t)
	wp := NewWorkerPool(2, db, &webpush.Options{})
	assert.Equal(t, "push-worker-pool", wp.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wp.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
}
