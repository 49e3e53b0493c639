package auth

import (
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/marketplace-payments/pkg/errors"
)

// Role is the coarse identity class carried in the token.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleSupport, RoleAdmin:
		return true
	}
	return false
}

// Permission is a single operator capability.
type Permission string

const (
	PermOrdersRefund      Permission = "orders:refund"
	PermOrdersForceStatus Permission = "orders:force_status"
	PermWebhooksReprocess Permission = "webhooks:reprocess"
	PermWebhookLogsRead   Permission = "webhook_logs:read"
)

var allPermissions = []Permission{
	PermOrdersRefund,
	PermOrdersForceStatus,
	PermWebhooksReprocess,
	PermWebhookLogsRead,
}

func (p Permission) IsValid() bool {
	for _, candidate := range allPermissions {
		if candidate == p {
			return true
		}
	}
	return false
}

// defaultPermissions applies when a token carries a role but no explicit grants.
var defaultPermissions = map[Role][]Permission{
	RoleAdmin:   allPermissions,
	RoleSupport: {PermWebhookLogsRead},
}

// Operator is the capability object every privileged operation receives.
// It is built from verified claims, never from request bodies.
type Operator struct {
	ID    uuid.UUID
	Role  Role
	perms map[Permission]struct{}
}

// NewOperator builds an operator. When perms is empty the role defaults apply.
func NewOperator(id uuid.UUID, role Role, perms ...Permission) Operator {
	if len(perms) == 0 {
		perms = defaultPermissions[role]
	}
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return Operator{ID: id, Role: role, perms: set}
}

// OperatorFromClaims converts verified token claims to an Operator.
func OperatorFromClaims(claims *AccessTokenClaims) Operator {
	if claims == nil {
		return Operator{}
	}
	return NewOperator(claims.UserID, claims.Role, claims.Permissions...)
}

// Can reports whether the operator holds perm.
func (o Operator) Can(perm Permission) bool {
	_, ok := o.perms[perm]
	return ok
}

// Require returns UNAUTHORIZED for an anonymous operator and FORBIDDEN when
// perm is missing.
func (o Operator) Require(perm Permission) error {
	if o.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity missing")
	}
	if !o.Can(perm) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "missing permission "+string(perm))
	}
	return nil
}

// Permissions lists the granted capabilities.
func (o Operator) Permissions() []Permission {
	out := make([]Permission, 0, len(o.perms))
	for _, p := range allPermissions {
		if o.Can(p) {
			out = append(out, p)
		}
	}
	return out
}
