package quicksight

import (
	"context"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

var testFilter = ReadFilter{
	GroupPrefix: "qs_",
	Mapping: state.RoleMapping{
		AdminGroup:  "qs_role_admin",
		AuthorGroup: "qs_role_author",
		ReaderGroup: "qs_role_reader",
	},
}

func TestReadActual(t *testing.T) {
	fake := NewFake()
	fake.SetUser("default", "alice@corp.example", state.RoleAdmin)
	fake.SetUser("default", "bob@corp.example", state.RoleAuthor)
	fake.SetGroup("default", "qs_group_finance", "alice@corp.example")
	fake.SetGroup("default", "handmade", "bob@corp.example")
	fake.SetGroup("default", "qs_role_admin")
	fake.AddAsset("dataset", "revenue", "ds-1")
	fake.SetGrant("dataset", "ds-1", "default", "qs_group_finance", state.PermissionRead)
	fake.SetGrant("dataset", "ds-1", "default", "analysts", state.PermissionWrite)
	fake.SetGrant("dataset", "ds-1", "other", "qs_group_finance", state.PermissionWrite)

	desired := state.NewState()
	part := desired.Namespace("default")
	part.Assets["dataset/revenue"] = state.Asset{
		Name:      "revenue",
		Category:  "dataset",
		Namespace: "default",
		Grants:    map[string]state.PermissionLevel{"qs_group_finance": state.PermissionRead},
	}

	actual, nsErrs, issues := ReadActual(context.Background(), fake, desired, testFilter)
	require.Empty(t, nsErrs)
	require.Empty(t, issues)

	got := actual.Namespaces["default"]
	require.NotNil(t, got)
	assert.False(t, got.Missing)

	assert.Len(t, got.Users, 2)
	require.Contains(t, got.Users, "alice@corp.example")
	assert.Equal(t, state.RoleAdmin, got.Users["alice@corp.example"].Role)

	require.Contains(t, got.Groups, "qs_group_finance")
	assert.Equal(t, []string{"alice@corp.example"}, got.Groups["qs_group_finance"].Members)
	assert.NotContains(t, got.Groups, "handmade", "groups outside the prefix are not governed")
	assert.NotContains(t, got.Groups, "qs_role_admin", "role-mapping names are not target groups")

	require.Contains(t, got.Assets, "dataset/revenue")
	asset := got.Assets["dataset/revenue"]
	assert.Equal(t, "ds-1", asset.ID)
	assert.Equal(t, map[string]state.PermissionLevel{"qs_group_finance": state.PermissionRead}, asset.Grants,
		"only governed groups of this namespace show up in grants")
}

func TestReadActualMissingNamespace(t *testing.T) {
	fake := NewFake()
	fake.AddAsset("dataset", "revenue", "ds-1")

	desired := state.NewState()
	part := desired.Namespace("marketing")
	part.Assets["dataset/revenue"] = state.Asset{
		Name: "revenue", Category: "dataset", Namespace: "marketing",
		Grants: map[string]state.PermissionLevel{"qs_group_finance": state.PermissionRead},
	}

	actual, nsErrs, issues := ReadActual(context.Background(), fake, desired, testFilter)
	require.Empty(t, nsErrs)
	require.Empty(t, issues)

	got := actual.Namespaces["marketing"]
	require.NotNil(t, got)
	assert.True(t, got.Missing)
	assert.Empty(t, got.Users)
	assert.Empty(t, got.Groups)

	require.Contains(t, got.Assets, "dataset/revenue")
	asset := got.Assets["dataset/revenue"]
	assert.Equal(t, "ds-1", asset.ID, "IDs resolve before the namespace exists, so first-cycle grants can be staged")
	assert.Empty(t, asset.Grants)
}

func TestReadActualNamespaceFailureIsIsolated(t *testing.T) {
	fake := NewFake()
	fake.SetUser("default", "alice@corp.example", state.RoleReader)
	fake.SetUser("marketing", "bob@corp.example", state.RoleReader)
	fake.FailOn = func(op string, args ...string) error {
		if op == "ListUsers" && args[0] == "marketing" {
			return &smithy.GenericAPIError{Code: "AccessDeniedException"}
		}
		return nil
	}

	desired := state.NewState()
	desired.Namespace("default")
	desired.Namespace("marketing")

	actual, nsErrs, issues := ReadActual(context.Background(), fake, desired, testFilter)
	require.Empty(t, issues)
	require.Len(t, nsErrs, 1)
	assert.Equal(t, "marketing", nsErrs[0].Namespace)

	assert.Contains(t, actual.Namespaces, "default")
	assert.NotContains(t, actual.Namespaces, "marketing",
		"a namespace that failed mid-read must not surface a partial partition")
}

func TestReadActualAssetIssuesAreIsolated(t *testing.T) {
	fake := NewFake()
	fake.SetUser("default", "alice@corp.example", state.RoleAuthor)
	fake.AddAsset("dataset", "revenue", "ds-1")

	desired := state.NewState()
	part := desired.Namespace("default")
	part.Assets["dataset/revenue"] = state.Asset{
		Name: "revenue", Category: "dataset", Namespace: "default",
		Grants: map[string]state.PermissionLevel{"qs_group_finance": state.PermissionRead},
	}
	part.Assets["dashboard/missing"] = state.Asset{
		Name: "missing", Category: "dashboard", Namespace: "default",
		Grants: map[string]state.PermissionLevel{"qs_group_finance": state.PermissionRead},
	}

	actual, nsErrs, issues := ReadActual(context.Background(), fake, desired, testFilter)
	require.Empty(t, nsErrs)
	require.Len(t, issues, 1)
	assert.Equal(t, "default", issues[0].Namespace)
	assert.Equal(t, "dashboard/missing", issues[0].Asset)
	assert.ErrorIs(t, issues[0].Err, ErrAssetNotFound)

	got := actual.Namespaces["default"]
	require.NotNil(t, got)
	assert.Contains(t, got.Assets, "dataset/revenue")
	assert.NotContains(t, got.Assets, "dashboard/missing")
}

func TestReadActualResolvesEachAssetOnce(t *testing.T) {
	fake := NewFake()
	fake.AddAsset("dataset", "revenue", "ds-1")
	fake.SetUser("default", "alice@corp.example", state.RoleReader)
	fake.SetUser("marketing", "alice@corp.example", state.RoleReader)

	calls := 0
	fake.FailOn = func(op string, args ...string) error {
		if op == "ResolveAsset" {
			calls++
		}
		return nil
	}

	desired := state.NewState()
	for _, ns := range []string{"default", "marketing"} {
		part := desired.Namespace(ns)
		part.Assets["dataset/revenue"] = state.Asset{
			Name: "revenue", Category: "dataset", Namespace: ns,
			Grants: map[string]state.PermissionLevel{"qs_group_finance": state.PermissionRead},
		}
	}

	_, nsErrs, issues := ReadActual(context.Background(), fake, desired, testFilter)
	require.Empty(t, nsErrs)
	require.Empty(t, issues)
	assert.Equal(t, 1, calls, "the name lookup is shared across namespaces")
}
