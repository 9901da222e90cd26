// Package authz decides which roles may perform which actions.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/entity"
)

// Resources guarded by the enforcer.
const (
	ResourceOrders      = "orders"
	ResourceOwnOrders   = "own_orders"
	ResourceCatalog     = "catalog"
	ResourceExport      = "export"
	ResourceImport      = "import"
	ResourceSettings    = "settings"
	ResourceOrderFeed   = "order_feed"
	ResourcePausedOrder = "paused_orders"
)

// Actions.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionManage = "manage"
)

// RoleService is the subject used for API key callers.
const RoleService = "service"

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && (r.act == p.act || p.act == "manage")
`

var defaultPolicies = [][]string{
	{entity.RoleCustomer, ResourceOwnOrders, ActionRead},
	{entity.RoleCustomer, ResourceOwnOrders, ActionWrite},
	{RoleService, ResourceOrderFeed, ActionRead},
	{entity.RoleAdmin, ResourceOrders, ActionManage},
	{entity.RoleAdmin, ResourceCatalog, ActionManage},
	{entity.RoleAdmin, ResourceExport, ActionManage},
	{entity.RoleAdmin, ResourceImport, ActionManage},
	{entity.RoleAdmin, ResourceSettings, ActionManage},
	{entity.RoleAdmin, ResourcePausedOrder, ActionManage},
}

var defaultGroupings = [][]string{
	{entity.RoleAdmin, entity.RoleCustomer},
	{entity.RoleAdmin, RoleService},
}

// Module provides the Authorizer to Fx.
var Module = fx.Provide(New)

// Authorizer answers capability questions for a role.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New builds an authorizer loaded with the built-in policy.
func New() (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("parse rbac model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("init enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	if _, err := enforcer.AddGroupingPolicies(defaultGroupings); err != nil {
		return nil, fmt.Errorf("load role groupings: %w", err)
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// Can reports whether role may perform act on obj.
func (a *Authorizer) Can(role, obj, act string) (bool, error) {
	allowed, err := a.enforcer.Enforce(role, obj, act)
	if err != nil {
		return false, fmt.Errorf("permission check failed: %w", err)
	}
	return allowed, nil
}
