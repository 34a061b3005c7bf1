package authz

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
)

// Actions checked against the role policy. Relationship-based access
// (creator, assignee) is layered on top by the Can* helpers so the rule
// lives in exactly one place.
const (
	ActionManage      = "manage"
	ActionAssign      = "assign"
	ActionDelete      = "delete"
	ActionAdminister  = "administer"
	ActionManageUsers = "manage_users"
)

const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.act == p.act
`

var grants = [][]string{
	{"admin", ActionManage},
	{"admin", ActionAssign},
	{"admin", ActionDelete},
	{"admin", ActionAdminister},
	{"admin", ActionManageUsers},
	{"teamlead", ActionManage},
	{"teamlead", ActionAssign},
	{"teamlead", ActionDelete},
	{"teamlead", ActionAdminister},
}

var Module = fx.Module("authz", fx.Provide(NewPolicy))

// Policy answers authorization questions for every mutating operation.
type Policy struct {
	enforcer *casbin.Enforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	if _, err := enforcer.AddPolicies(grants); err != nil {
		return nil, err
	}

	return &Policy{enforcer: enforcer}, nil
}

func (p *Policy) allowed(role, action string) bool {
	ok, err := p.enforcer.Enforce(role, action)
	return err == nil && ok
}

// CanManage reports whether the actor may change status, edit or comment on
// a task: privileged roles plus the task's assignee and creator.
func (p *Policy) CanManage(role, actorID, creatorID string, assigneeID *string) bool {
	if p.allowed(role, ActionManage) {
		return true
	}
	if actorID == creatorID {
		return true
	}
	return assigneeID != nil && *assigneeID == actorID
}

// CanAssign reports whether the actor may change a task's assignee or its
// subscriber set.
func (p *Policy) CanAssign(role string) bool {
	return p.allowed(role, ActionAssign)
}

// CanDelete reports whether the actor may delete a task: privileged roles
// plus the task's creator.
func (p *Policy) CanDelete(role, actorID, creatorID string) bool {
	if p.allowed(role, ActionDelete) {
		return true
	}
	return actorID == creatorID
}

// CanAdminister reports whether the actor may manage teams and recurring
// task configurations.
func (p *Policy) CanAdminister(role string) bool {
	return p.allowed(role, ActionAdminister)
}

// CanManageUsers reports whether the actor may create, edit or delete user
// accounts.
func (p *Policy) CanManageUsers(role string) bool {
	return p.allowed(role, ActionManageUsers)
}
