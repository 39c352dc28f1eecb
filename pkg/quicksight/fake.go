package quicksight

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/quicksight/types"

	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

// Fake is an in-memory AdminAPI for tests. It fails with the same modeled
// AWS exception types the real service returns, so error classification
// behaves identically against it. All methods are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// FailOn, when set, is consulted before every operation. Returning a
	// non-nil error makes the operation fail with it. The hook runs under
	// the fake's lock, so stateful hooks need no synchronization of their
	// own.
	FailOn func(op string, args ...string) error

	namespaces map[string]*fakeNamespace
	assets     map[string]string // category/name -> asset ID
	grants     map[string]map[string]state.PermissionLevel
}

type fakeNamespace struct {
	users  map[string]state.Role
	groups map[string]map[string]bool
}

func NewFake() *Fake {
	return &Fake{
		namespaces: make(map[string]*fakeNamespace),
		assets:     make(map[string]string),
		grants:     make(map[string]map[string]state.PermissionLevel),
	}
}

func notFound(format string, args ...any) error {
	return &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf(format, args...))}
}

func alreadyExists(format string, args ...any) error {
	return &types.ResourceExistsException{Message: aws.String(fmt.Sprintf(format, args...))}
}

func (f *Fake) check(op string, args ...string) error {
	if f.FailOn != nil {
		return f.FailOn(op, args...)
	}
	return nil
}

func (f *Fake) namespace(name string) (*fakeNamespace, error) {
	part, ok := f.namespaces[name]
	if !ok {
		return nil, notFound("namespace %s not found", name)
	}
	return part, nil
}

func (f *Fake) NamespaceExists(_ context.Context, namespace string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("NamespaceExists", namespace); err != nil {
		return false, err
	}
	_, ok := f.namespaces[namespace]
	return ok, nil
}

func (f *Fake) CreateNamespace(_ context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CreateNamespace", namespace); err != nil {
		return err
	}
	if _, ok := f.namespaces[namespace]; ok {
		return alreadyExists("namespace %s already exists", namespace)
	}
	f.namespaces[namespace] = &fakeNamespace{
		users:  make(map[string]state.Role),
		groups: make(map[string]map[string]bool),
	}
	return nil
}

func (f *Fake) ListUsers(_ context.Context, namespace string) ([]TargetUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListUsers", namespace); err != nil {
		return nil, err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return nil, err
	}
	var out []TargetUser
	for _, email := range state.SortedKeys(part.users) {
		out = append(out, TargetUser{Email: email, Role: part.users[email]})
	}
	return out, nil
}

func (f *Fake) RegisterUser(_ context.Context, namespace, email string, role state.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("RegisterUser", namespace, email); err != nil {
		return err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := part.users[email]; ok {
		return alreadyExists("user %s already registered in %s", email, namespace)
	}
	part.users[email] = role
	return nil
}

func (f *Fake) UpdateUserRole(_ context.Context, namespace, email string, role state.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("UpdateUserRole", namespace, email); err != nil {
		return err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := part.users[email]; !ok {
		return notFound("user %s not found in %s", email, namespace)
	}
	part.users[email] = role
	return nil
}

func (f *Fake) DeleteUser(_ context.Context, namespace, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("DeleteUser", namespace, email); err != nil {
		return err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := part.users[email]; !ok {
		return notFound("user %s not found in %s", email, namespace)
	}
	delete(part.users, email)
	// The service drops a deleted user's memberships with the user.
	for _, members := range part.groups {
		delete(members, email)
	}
	return nil
}

func (f *Fake) ListGroups(_ context.Context, namespace string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListGroups", namespace); err != nil {
		return nil, err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return nil, err
	}
	return state.SortedKeys(part.groups), nil
}

func (f *Fake) CreateGroup(_ context.Context, namespace, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CreateGroup", namespace, group); err != nil {
		return err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := part.groups[group]; ok {
		return alreadyExists("group %s already exists in %s", group, namespace)
	}
	part.groups[group] = make(map[string]bool)
	return nil
}

func (f *Fake) DeleteGroup(_ context.Context, namespace, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("DeleteGroup", namespace, group); err != nil {
		return err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	if _, ok := part.groups[group]; !ok {
		return notFound("group %s not found in %s", group, namespace)
	}
	delete(part.groups, group)
	return nil
}

func (f *Fake) ListGroupMembers(_ context.Context, namespace, group string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListGroupMembers", namespace, group); err != nil {
		return nil, err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return nil, err
	}
	members, ok := part.groups[group]
	if !ok {
		return nil, notFound("group %s not found in %s", group, namespace)
	}
	return state.SortedKeys(members), nil
}

func (f *Fake) AddGroupMember(_ context.Context, namespace, group, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("AddGroupMember", namespace, group, email); err != nil {
		return err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	members, ok := part.groups[group]
	if !ok {
		return notFound("group %s not found in %s", group, namespace)
	}
	if _, ok := part.users[email]; !ok {
		return notFound("user %s not found in %s", email, namespace)
	}
	if members[email] {
		return alreadyExists("user %s already in group %s", email, group)
	}
	members[email] = true
	return nil
}

func (f *Fake) RemoveGroupMember(_ context.Context, namespace, group, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("RemoveGroupMember", namespace, group, email); err != nil {
		return err
	}
	part, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	members, ok := part.groups[group]
	if !ok {
		return notFound("group %s not found in %s", group, namespace)
	}
	if !members[email] {
		return notFound("user %s not in group %s", email, group)
	}
	delete(members, email)
	return nil
}

func (f *Fake) ResolveAsset(_ context.Context, category, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ResolveAsset", category, name); err != nil {
		return "", err
	}
	id, ok := f.assets[state.AssetKey(category, name)]
	if !ok {
		return "", fmt.Errorf("%s [%s]: %w", category, name, ErrAssetNotFound)
	}
	return id, nil
}

func (f *Fake) AssetGrants(_ context.Context, category, assetID, namespace string) (map[string]state.PermissionLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("AssetGrants", category, assetID, namespace); err != nil {
		return nil, err
	}
	out := make(map[string]state.PermissionLevel)
	prefix := namespace + "/"
	for principal, level := range f.grants[category+"/"+assetID] {
		if strings.HasPrefix(principal, prefix) {
			out[strings.TrimPrefix(principal, prefix)] = level
		}
	}
	return out, nil
}

func (f *Fake) PutAssetGrant(_ context.Context, category, assetID, namespace, group string, level state.PermissionLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("PutAssetGrant", category, assetID, namespace, group); err != nil {
		return err
	}
	if _, ok := f.namespaces[namespace]; !ok {
		return notFound("namespace %s not found", namespace)
	}
	key := category + "/" + assetID
	if f.grants[key] == nil {
		f.grants[key] = make(map[string]state.PermissionLevel)
	}
	f.grants[key][namespace+"/"+group] = level
	return nil
}

func (f *Fake) RevokeAssetGrant(_ context.Context, category, assetID, namespace, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("RevokeAssetGrant", category, assetID, namespace, group); err != nil {
		return err
	}
	// Revoking an absent entry succeeds, as the permission update call does.
	delete(f.grants[category+"/"+assetID], namespace+"/"+group)
	return nil
}

// Seed and inspection helpers.

// AddAsset makes an asset resolvable by name.
func (f *Fake) AddAsset(category, name, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[state.AssetKey(category, name)] = id
}

// SetUser places a user directly, creating the namespace as needed.
func (f *Fake) SetUser(namespace, email string, role state.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure(namespace).users[email] = role
}

// SetGroup places a group and its members directly, creating the namespace
// and registering missing members as readers.
func (f *Fake) SetGroup(namespace, group string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	part := f.ensure(namespace)
	set := make(map[string]bool, len(members))
	for _, email := range members {
		if _, ok := part.users[email]; !ok {
			part.users[email] = state.RoleReader
		}
		set[email] = true
	}
	part.groups[group] = set
}

// SetGrant places a grant directly.
func (f *Fake) SetGrant(category, assetID, namespace, group string, level state.PermissionLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := category + "/" + assetID
	if f.grants[key] == nil {
		f.grants[key] = make(map[string]state.PermissionLevel)
	}
	f.grants[key][namespace+"/"+group] = level
}

func (f *Fake) ensure(namespace string) *fakeNamespace {
	part, ok := f.namespaces[namespace]
	if !ok {
		part = &fakeNamespace{
			users:  make(map[string]state.Role),
			groups: make(map[string]map[string]bool),
		}
		f.namespaces[namespace] = part
	}
	return part
}

// UserRole reports a user's role, if registered.
func (f *Fake) UserRole(namespace, email string) (state.Role, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	part, ok := f.namespaces[namespace]
	if !ok {
		return "", false
	}
	role, ok := part.users[email]
	return role, ok
}

// GroupMembers returns a group's members sorted, or nil if absent.
func (f *Fake) GroupMembers(namespace, group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	part, ok := f.namespaces[namespace]
	if !ok {
		return nil
	}
	members, ok := part.groups[group]
	if !ok {
		return nil
	}
	return state.SortedKeys(members)
}

// Grant reports a group's level on an asset, if present.
func (f *Fake) Grant(category, assetID, namespace, group string) (state.PermissionLevel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	level, ok := f.grants[category+"/"+assetID][namespace+"/"+group]
	return level, ok
}

// Dump renders everything in a stable order. Comparing dumps before and
// after a second apply is how tests pin down idempotency.
func (f *Fake) Dump() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, ns := range state.SortedKeys(f.namespaces) {
		fmt.Fprintf(&b, "namespace %s\n", ns)
		part := f.namespaces[ns]
		for _, email := range state.SortedKeys(part.users) {
			fmt.Fprintf(&b, "  user %s %s\n", email, part.users[email])
		}
		for _, group := range state.SortedKeys(part.groups) {
			fmt.Fprintf(&b, "  group %s [%s]\n", group, strings.Join(state.SortedKeys(part.groups[group]), " "))
		}
	}
	for _, asset := range state.SortedKeys(f.grants) {
		for _, principal := range state.SortedKeys(f.grants[asset]) {
			fmt.Fprintf(&b, "grant %s %s %s\n", asset, principal, f.grants[asset][principal])
		}
	}
	return b.String()
}
