package quicksight

import (
	"context"
	"errors"

	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

// ErrAssetNotFound is returned by ResolveAsset when no asset of the given
// category carries the name.
var ErrAssetNotFound = errors.New("asset not found")

// TargetUser is a governed user as the target knows it.
type TargetUser struct {
	Email string
	Role  state.Role
}

// AdminAPI is the slice of QuickSight's administrative surface this tool
// drives. Client implements it against AWS; Fake implements it in memory
// for tests. Identity mapping (federated user names, group principal ARNs,
// per-level action lists) stays behind this interface so callers deal in
// plain emails, group names and levels.
type AdminAPI interface {
	NamespaceExists(ctx context.Context, namespace string) (bool, error)
	CreateNamespace(ctx context.Context, namespace string) error

	ListUsers(ctx context.Context, namespace string) ([]TargetUser, error)
	RegisterUser(ctx context.Context, namespace, email string, role state.Role) error
	UpdateUserRole(ctx context.Context, namespace, email string, role state.Role) error
	DeleteUser(ctx context.Context, namespace, email string) error

	ListGroups(ctx context.Context, namespace string) ([]string, error)
	CreateGroup(ctx context.Context, namespace, group string) error
	DeleteGroup(ctx context.Context, namespace, group string) error

	ListGroupMembers(ctx context.Context, namespace, group string) ([]string, error)
	AddGroupMember(ctx context.Context, namespace, group, email string) error
	RemoveGroupMember(ctx context.Context, namespace, group, email string) error

	// ResolveAsset maps a category and name to the target's identifier.
	ResolveAsset(ctx context.Context, category, name string) (string, error)
	// AssetGrants returns the levels currently granted on an asset to
	// groups of the given namespace.
	AssetGrants(ctx context.Context, category, assetID, namespace string) (map[string]state.PermissionLevel, error)
	PutAssetGrant(ctx context.Context, category, assetID, namespace, group string, level state.PermissionLevel) error
	RevokeAssetGrant(ctx context.Context, category, assetID, namespace, group string) error
}

var (
	_ AdminAPI = (*Client)(nil)
	_ AdminAPI = (*Fake)(nil)
)
