package messenger

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
)

// Objects and actions checked against a participant's role.
const (
	ObjectMessage     = "message"
	ObjectParticipant = "participant"

	ActionSend     = "send"
	ActionReact    = "react"
	ActionModerate = "moderate"
	ActionAdd      = "add"
	ActionRemove   = "remove"
	ActionAssign   = "assign"
)

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Enforcer is the part of casbin the directory relies on.
type Enforcer interface {
	Enforce(rvals ...interface{}) (bool, error)
}

var defaultPolicies = [][]string{
	{"member", ObjectMessage, ActionSend},
	{"member", ObjectMessage, ActionReact},
	{"member", ObjectParticipant, ActionAdd},
	{"member", ObjectParticipant, ActionRemove},
	{"admin", ObjectMessage, ActionModerate},
	{"admin", ObjectParticipant, ActionAssign},
}

// NewPolicy builds the conversation role policy. With a nil adapter the policy lives in memory.
// Default rules are added when missing, so a persisted policy can be extended but not lose them.
func NewPolicy(adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := casbinmodel.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy model: %w", err)
	}

	var e *casbin.SyncedEnforcer
	if adapter == nil {
		e, err = casbin.NewSyncedEnforcer(m)
	} else {
		e, err = casbin.NewSyncedEnforcer(m, adapter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	for _, p := range defaultPolicies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("failed to add policy %v: %w", p, err)
		}
	}
	// admin inherits every member right
	if _, err := e.AddGroupingPolicy("admin", "member"); err != nil {
		return nil, fmt.Errorf("failed to add role inheritance: %w", err)
	}
	return e, nil
}
