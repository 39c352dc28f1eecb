package state

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PremiereGlobal/quicksight-admin/pkg/manifest"
)

func buildOptions() BuildOptions {
	return BuildOptions{
		Mapping:     testMapping,
		Resolution:  ResolutionStrict,
		GroupPrefix: "qs_",
	}
}

func snapshot(entries ...manifest.UserEntry) *manifest.UserDocument {
	return &manifest.UserDocument{Users: entries}
}

func assetDoc(entries ...manifest.AssetEntry) *manifest.AssetDocument {
	return &manifest.AssetDocument{Assets: entries}
}

func TestBuild(t *testing.T) {
	t.Run("roles and governed groups", func(t *testing.T) {
		desired, issues := Build(snapshot(
			manifest.UserEntry{Email: "qs1@example.com", Groups: []string{"qs_role_admin", "Everyone"}},
			manifest.UserEntry{Email: "qs2@example.com", Groups: []string{"qs_role_reader", "qs_group_finance", "ops_team"}},
			manifest.UserEntry{Email: "qs3@example.com", Groups: []string{"Everyone"}},
		), nil, buildOptions())

		assert.Empty(t, issues)
		part := desired.Namespaces[DefaultNamespace]
		require.NotNil(t, part)
		require.Len(t, part.Users, 2)
		assert.Equal(t, RoleAdmin, part.Users["qs1@example.com"].Role)
		assert.Equal(t, RoleReader, part.Users["qs2@example.com"].Role)
		assert.False(t, part.Users.Contains("qs3@example.com"))

		// Role groups and unprefixed groups never become governed groups.
		require.Len(t, part.Groups, 1)
		assert.Equal(t, []string{"qs2@example.com"}, part.Groups["qs_group_finance"].Members)
	})

	t.Run("role conflict is an issue, not an abort", func(t *testing.T) {
		desired, issues := Build(snapshot(
			manifest.UserEntry{Email: "both@example.com", Groups: []string{"qs_role_admin", "qs_role_reader"}},
			manifest.UserEntry{Email: "fine@example.com", Groups: []string{"qs_role_author"}},
		), nil, buildOptions())

		require.Len(t, issues, 1)
		assert.Equal(t, IssueRoleConflict, issues[0].Kind)
		assert.Equal(t, "both@example.com", issues[0].User)

		part := desired.Namespaces[DefaultNamespace]
		assert.False(t, part.Users.Contains("both@example.com"))
		assert.True(t, part.Users.Contains("fine@example.com"))
	})

	t.Run("highest resolution keeps the user", func(t *testing.T) {
		opts := buildOptions()
		opts.Resolution = ResolutionHighest
		desired, issues := Build(snapshot(
			manifest.UserEntry{Email: "both@example.com", Groups: []string{"qs_role_admin", "qs_role_reader"}},
		), nil, opts)

		assert.Empty(t, issues)
		assert.Equal(t, RoleAdmin, desired.Namespaces[DefaultNamespace].Users["both@example.com"].Role)
	})

	t.Run("namespaces partition users", func(t *testing.T) {
		desired, _ := Build(snapshot(
			manifest.UserEntry{Email: "qs1@example.com", Groups: []string{"qs_role_admin"}},
			manifest.UserEntry{Email: "qs1@example.com", Namespace: "finance", Groups: []string{"qs_role_reader"}},
		), nil, buildOptions())

		assert.Equal(t, RoleAdmin, desired.Namespaces[DefaultNamespace].Users["qs1@example.com"].Role)
		assert.Equal(t, RoleReader, desired.Namespaces["finance"].Users["qs1@example.com"].Role)
	})

	t.Run("unknown grant group skips the grant", func(t *testing.T) {
		desired, issues := Build(
			snapshot(manifest.UserEntry{Email: "qs1@example.com", Groups: []string{"qs_role_admin"}}),
			assetDoc(manifest.AssetEntry{
				Name: "dataset_example_1", Category: "dataset",
				Groups: []string{"qs_group_finance"}, Permission: "READ",
			}),
			buildOptions(),
		)

		require.Len(t, issues, 1)
		assert.Equal(t, IssueUnknownGroup, issues[0].Kind)
		assert.Equal(t, "dataset/dataset_example_1", issues[0].Asset)
		assert.Equal(t, "qs_group_finance", issues[0].Group)

		// Nothing expressible for the asset, so it stays out of desired
		// state and its target-side grants are left alone.
		part := desired.Namespaces[DefaultNamespace]
		assert.Empty(t, part.Assets)
		assert.False(t, part.Groups.Contains("qs_group_finance"))
	})

	t.Run("create-empty-groups materializes the group and keeps the grant", func(t *testing.T) {
		opts := buildOptions()
		opts.CreateEmptyGroups = true
		desired, issues := Build(
			snapshot(manifest.UserEntry{Email: "qs1@example.com", Groups: []string{"qs_role_admin"}}),
			assetDoc(manifest.AssetEntry{
				Name: "dataset_example_1", Category: "dataset",
				Groups: []string{"qs_group_finance"}, Permission: "READ",
			}),
			opts,
		)

		assert.Empty(t, issues)
		part := desired.Namespaces[DefaultNamespace]
		require.True(t, part.Groups.Contains("qs_group_finance"))
		assert.Empty(t, part.Groups["qs_group_finance"].Members)
		asset := part.Assets["dataset/dataset_example_1"]
		assert.Equal(t, PermissionRead, asset.Grants["qs_group_finance"])
	})

	t.Run("create-empty-groups never materializes ungoverned names", func(t *testing.T) {
		opts := buildOptions()
		opts.CreateEmptyGroups = true
		desired, issues := Build(
			snapshot(manifest.UserEntry{Email: "qs1@example.com", Groups: []string{"qs_role_admin"}}),
			assetDoc(manifest.AssetEntry{
				Name: "dataset_example_1", Category: "dataset",
				Groups: []string{"qs_role_reader", "ops_team"}, Permission: "READ",
			}),
			opts,
		)

		// A role group is consumed by role mapping and an unprefixed
		// name is outside governance; neither may become a group.
		require.Len(t, issues, 2)
		part := desired.Namespaces[DefaultNamespace]
		assert.False(t, part.Groups.Contains("qs_role_reader"))
		assert.False(t, part.Groups.Contains("ops_team"))
		assert.Empty(t, part.Assets)
	})

	t.Run("partially resolved asset keeps known grants and records the rest", func(t *testing.T) {
		desired, issues := Build(
			snapshot(manifest.UserEntry{Email: "qs1@example.com", Groups: []string{"qs_role_reader", "qs_group_sales"}}),
			assetDoc(manifest.AssetEntry{
				Name: "sales", Category: "dashboard",
				Groups: []string{"qs_group_sales", "qs_group_ghost"}, Permission: "READ",
			}),
			buildOptions(),
		)

		require.Len(t, issues, 1)
		asset := desired.Namespaces[DefaultNamespace].Assets["dashboard/sales"]
		assert.Equal(t, PermissionRead, asset.Grants["qs_group_sales"])
		assert.NotContains(t, asset.Grants, "qs_group_ghost")
		assert.Equal(t, []string{"qs_group_ghost"}, asset.SkippedGroups)
	})

	t.Run("asset namespace must hold its groups", func(t *testing.T) {
		// The group exists in default but the asset lives in finance:
		// grants resolve against the asset's own namespace.
		desired, issues := Build(
			snapshot(manifest.UserEntry{Email: "qs1@example.com", Groups: []string{"qs_role_reader", "qs_group_sales"}}),
			assetDoc(manifest.AssetEntry{
				Name: "sales", Category: "dashboard", Namespace: "finance",
				Groups: []string{"qs_group_sales"}, Permission: "READ",
			}),
			buildOptions(),
		)
		require.Len(t, issues, 1)
		assert.Equal(t, "finance", issues[0].Namespace)

		// A skipped asset must not drag its namespace into the cycle.
		assert.NotContains(t, desired.Namespaces, "finance")
	})

	t.Run("nil documents build an empty state", func(t *testing.T) {
		desired, issues := Build(nil, nil, buildOptions())
		assert.Empty(t, issues)
		assert.Empty(t, desired.Namespaces)
	})
}

func TestBuildIsDeterministic(t *testing.T) {
	users := []manifest.UserEntry{
		{Email: "qs1@example.com", Groups: []string{"qs_role_admin", "qs_group_a", "qs_group_b"}},
		{Email: "qs2@example.com", Groups: []string{"qs_group_b", "qs_role_author"}},
		{Email: "qs3@example.com", Groups: []string{"qs_group_a", "qs_role_reader", "qs_group_c"}},
		{Email: "qs4@example.com", Namespace: "finance", Groups: []string{"qs_role_reader", "qs_group_c"}},
	}
	assets := []manifest.AssetEntry{
		{Name: "one", Category: "dataset", Groups: []string{"qs_group_a", "qs_group_b"}, Permission: "READ"},
		{Name: "two", Category: "dashboard", Groups: []string{"qs_group_c"}, Permission: "READ"},
	}

	reference, _ := Build(snapshot(users...), assetDoc(assets...), buildOptions())

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffledUsers := append([]manifest.UserEntry(nil), users...)
		rng.Shuffle(len(shuffledUsers), func(a, b int) {
			shuffledUsers[a], shuffledUsers[b] = shuffledUsers[b], shuffledUsers[a]
		})
		shuffledAssets := append([]manifest.AssetEntry(nil), assets...)
		rng.Shuffle(len(shuffledAssets), func(a, b int) {
			shuffledAssets[a], shuffledAssets[b] = shuffledAssets[b], shuffledAssets[a]
		})

		got, _ := Build(snapshot(shuffledUsers...), assetDoc(shuffledAssets...), buildOptions())
		assert.Equal(t, reference, got)
	}
}

func TestBuildDoesNotRetainInputSlices(t *testing.T) {
	groups := []string{"qs_role_admin", "qs_group_a"}
	doc := snapshot(manifest.UserEntry{Email: "qs1@example.com", Groups: groups})
	desired, _ := Build(doc, nil, buildOptions())

	groups[1] = "qs_group_mutated"
	assert.Equal(t, []string{"qs_group_a"}, desired.Namespaces[DefaultNamespace].Users["qs1@example.com"].Groups)
}
