// Package access decides who may see and change which room.
//
// Every function here is pure: the caller supplies the role, the explicit
// room grants and the room status, and gets a yes/no answer back.
package access

import (
	"fmt"

	"github.com/TALOGEN777/cleanroom-flow-notify/internal/model"
)

// Role is a user's assigned role. The zero value means no role.
type Role string

const (
	RoleNone          Role = ""
	RoleAdmin         Role = "admin"
	RoleOperator      Role = "operator"
	RoleOperationTeam Role = "operation_team"
)

// Roles lists every recognised role, RoleNone included.
var Roles = []Role{RoleNone, RoleAdmin, RoleOperator, RoleOperationTeam}

// ParseRole maps a stored role name to a Role. Unknown names yield RoleNone.
func ParseRole(s string) Role {
	switch r := Role(s); r {
	case RoleAdmin, RoleOperator, RoleOperationTeam:
		return r
	}
	return RoleNone
}

// Action is a status-changing operation on a room.
type Action string

const (
	ActionStartWork      Action = "start_work"
	ActionFinishWork     Action = "finish_work"
	ActionFinishCleaning Action = "finish_cleaning"
)

// Actions lists every action.
var Actions = []Action{ActionStartWork, ActionFinishWork, ActionFinishCleaning}

// edges is the room state machine: the action leaving each status and where it lands.
var edges = map[model.RoomStatus]struct {
	action Action
	to     model.RoomStatus
}{
	model.StatusReady:            {ActionStartWork, model.StatusOccupied},
	model.StatusOccupied:         {ActionFinishWork, model.StatusAwaitingCleaning},
	model.StatusAwaitingCleaning: {ActionFinishCleaning, model.StatusReady},
}

// ActionFor returns the action that moves a room from one status to another.
// ok is false when the edge is not part of the state machine.
func ActionFor(from, to model.RoomStatus) (Action, bool) {
	e, ok := edges[from]
	if !ok || e.to != to {
		return "", false
	}
	return e.action, true
}

// Grants is the set of room ids a user was explicitly granted.
type Grants map[string]struct{}

// NewGrants builds a grant set.
func NewGrants(roomIDs ...string) Grants {
	g := make(Grants, len(roomIDs))
	for _, id := range roomIDs {
		g[id] = struct{}{}
	}
	return g
}

// Has reports whether roomID was granted.
func (g Grants) Has(roomID string) bool {
	_, ok := g[roomID]
	return ok
}

// Policy maps roles to the actions they may perform.
type Policy struct {
	actions map[Role]map[Action]bool
}

// DefaultPolicy lets operators run work and the operation team clean;
// admins may do everything.
func DefaultPolicy() Policy {
	return Policy{actions: map[Role]map[Action]bool{
		RoleAdmin:         {ActionStartWork: true, ActionFinishWork: true, ActionFinishCleaning: true},
		RoleOperator:      {ActionStartWork: true, ActionFinishWork: true},
		RoleOperationTeam: {ActionFinishCleaning: true},
	}}
}

// NewPolicy builds a policy from role name -> action names. Roles that are
// not mentioned keep their default action set.
func NewPolicy(roles map[string][]string) (Policy, error) {
	p := DefaultPolicy()
	for roleName, actionNames := range roles {
		role := ParseRole(roleName)
		if role == RoleNone {
			return Policy{}, fmt.Errorf("unknown role %q in policy", roleName)
		}
		set := make(map[Action]bool, len(actionNames))
		for _, name := range actionNames {
			a, err := parseAction(name)
			if err != nil {
				return Policy{}, fmt.Errorf("role %q: %w", roleName, err)
			}
			set[a] = true
		}
		p.actions[role] = set
	}
	return p, nil
}

func parseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// CanAccess reports whether a user with role and grants may act on roomID.
// Admins and the operation team see every room; operators only granted ones.
func (p Policy) CanAccess(role Role, grants Grants, roomID string) bool {
	switch role {
	case RoleAdmin, RoleOperationTeam:
		return true
	case RoleOperator:
		return grants.Has(roomID)
	}
	return false
}

// CanPerform reports whether role may run action on a room currently in status.
func (p Policy) CanPerform(role Role, action Action, status model.RoomStatus) bool {
	e, ok := edges[status]
	if !ok || e.action != action {
		return false
	}
	return p.actions[role][action]
}

// CanAccess applies the default policy.
func CanAccess(role Role, grants Grants, roomID string) bool {
	return DefaultPolicy().CanAccess(role, grants, roomID)
}

// CanPerform applies the default policy.
func CanPerform(role Role, action Action, status model.RoomStatus) bool {
	return DefaultPolicy().CanPerform(role, action, status)
}
