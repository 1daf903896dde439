package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
)

func TestCanAccess(t *testing.T) {
	grants := NewGrants("r1")

	testCases := []struct {
		name   string
		role   Role
		roomID string
		want   bool
	}{
		{name: "admin sees every room", role: RoleAdmin, roomID: "r2", want: true},
		{name: "operation team sees every room", role: RoleOperationTeam, roomID: "r2", want: true},
		{name: "operator with grant", role: RoleOperator, roomID: "r1", want: true},
		{name: "operator without grant", role: RoleOperator, roomID: "r2", want: false},
		{name: "no role", role: RoleNone, roomID: "r1", want: false},
		{name: "unrecognised role", role: Role("janitor"), roomID: "r1", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanAccess(tc.role, grants, tc.roomID))
		})
	}
}

func TestCanAccess_NilGrants(t *testing.T) {
	assert.False(t, CanAccess(RoleOperator, nil, "r1"))
	assert.True(t, CanAccess(RoleAdmin, nil, "r1"))
}

func TestCanPerform_CrossProduct(t *testing.T) {
	allowed := map[Role][]Action{
		RoleAdmin:         {ActionStartWork, ActionFinishWork, ActionFinishCleaning},
		RoleOperator:      {ActionStartWork, ActionFinishWork},
		RoleOperationTeam: {ActionFinishCleaning},
	}
	leaving := map[model.RoomStatus]Action{
		model.StatusReady:            ActionStartWork,
		model.StatusOccupied:         ActionFinishWork,
		model.StatusAwaitingCleaning: ActionFinishCleaning,
	}
	statuses := append([]model.RoomStatus{"bogus"}, model.RoomStatuses...)

	for _, role := range append(Roles, Role("janitor")) {
		for _, action := range append(Actions, Action("teleport")) {
			for _, status := range statuses {
				want := leaving[status] == action && contains(allowed[role], action)
				got := CanPerform(role, action, status)
				assert.Equal(t, want, got, "role=%q action=%q status=%q", role, action, status)
			}
		}
	}
}

func contains(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func TestActionFor(t *testing.T) {
	for _, from := range model.RoomStatuses {
		for _, to := range model.RoomStatuses {
			action, ok := ActionFor(from, to)
			switch {
			case from == model.StatusReady && to == model.StatusOccupied:
				assert.True(t, ok)
				assert.Equal(t, ActionStartWork, action)
			case from == model.StatusOccupied && to == model.StatusAwaitingCleaning:
				assert.True(t, ok)
				assert.Equal(t, ActionFinishWork, action)
			case from == model.StatusAwaitingCleaning && to == model.StatusReady:
				assert.True(t, ok)
				assert.Equal(t, ActionFinishCleaning, action)
			default:
				assert.False(t, ok, "%s -> %s", from, to)
			}
		}
	}

	_, ok := ActionFor("bogus", model.StatusReady)
	assert.False(t, ok)
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(map[string][]string{"operator": {"start_work", "finish_work", "finish_cleaning"}})
	require.NoError(t, err)
	assert.True(t, p.CanPerform(RoleOperator, ActionFinishCleaning, model.StatusAwaitingCleaning))
	// untouched roles keep defaults
	assert.True(t, p.CanPerform(RoleOperationTeam, ActionFinishCleaning, model.StatusAwaitingCleaning))
	assert.False(t, p.CanPerform(RoleOperationTeam, ActionStartWork, model.StatusReady))

	_, err = NewPolicy(map[string][]string{"janitor": {"start_work"}})
	assert.Error(t, err)

	_, err = NewPolicy(map[string][]string{"operator": {"teleport"}})
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("admin"))
	assert.Equal(t, RoleOperationTeam, ParseRole("operation_team"))
	assert.Equal(t, RoleNone, ParseRole("user"))
	assert.Equal(t, RoleNone, ParseRole(""))
}
