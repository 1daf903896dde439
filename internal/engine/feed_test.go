package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/realtime"
)

func TestDecodeChange(t *testing.T) {
	r := room("room-1", "R1", model.StatusOccupied)
	r.IncubatorNumber = strPtr("3")

	insert, err := realtime.NewChange(realtime.TableRooms, realtime.ChangeInsert, r, time.Now())
	require.NoError(t, err)
	update, err := realtime.NewChange(realtime.TableRooms, realtime.ChangeUpdate, r, time.Now())
	require.NoError(t, err)
	del, err := realtime.NewChange(realtime.TableRooms, realtime.ChangeDelete, r, time.Now())
	require.NoError(t, err)

	ev, err := DecodeChange(insert)
	require.NoError(t, err)
	assert.Equal(t, Inserted, ev.Kind)
	assert.Equal(t, "room-1", ev.Room.ID)
	assert.Equal(t, "R1", ev.Room.RoomNumber)
	require.NotNil(t, ev.Room.IncubatorNumber)
	assert.Equal(t, "3", *ev.Room.IncubatorNumber)

	ev, err = DecodeChange(update)
	require.NoError(t, err)
	assert.Equal(t, Updated, ev.Kind)
	assert.Equal(t, model.StatusOccupied, ev.Room.Status)

	ev, err = DecodeChange(del)
	require.NoError(t, err)
	assert.Equal(t, Deleted, ev.Kind)
	assert.Equal(t, "room-1", ev.ID)
}

func TestDecodeChange_Malformed(t *testing.T) {
	testCases := []struct {
		name   string
		change realtime.Change
	}{
		{name: "other table", change: realtime.Change{Table: "notifications", Type: realtime.ChangeInsert, Record: []byte(`{"id":"x","status":"ready"}`)}},
		{name: "bad json", change: realtime.Change{Table: "rooms", Type: realtime.ChangeUpdate, Record: []byte(`{`)}},
		{name: "missing id", change: realtime.Change{Table: "rooms", Type: realtime.ChangeInsert, Record: []byte(`{"status":"ready"}`)}},
		{name: "unknown status", change: realtime.Change{Table: "rooms", Type: realtime.ChangeUpdate, Record: []byte(`{"id":"x","status":"flooded"}`)}},
		{name: "delete without id", change: realtime.Change{Table: "rooms", Type: realtime.ChangeDelete, OldRecord: []byte(`{}`)}},
		{name: "unknown type", change: realtime.Change{Table: "rooms", Type: "TRUNCATE"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeChange(tc.change)
			assert.Error(t, err)
		})
	}
}
