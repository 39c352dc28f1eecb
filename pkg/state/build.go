package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PremiereGlobal/quicksight-admin/pkg/manifest"
)

// BuildOptions tunes how the desired state is assembled.
type BuildOptions struct {
	Mapping    RoleMapping
	Resolution Resolution
	// GroupPrefix marks governed groups; anything else in a user's group
	// list is ignored.
	GroupPrefix string
	// CreateEmptyGroups materializes manifest-referenced groups that have
	// no members instead of skipping their grants.
	CreateEmptyGroups bool
}

// IssueKind classifies build issues for the cycle report.
type IssueKind string

const (
	IssueRoleConflict IssueKind = "role-conflict"
	IssueUnknownGroup IssueKind = "unknown-group"
)

// Issue records an entity-level problem found while building desired
// state. Issues never abort a build; the entity they describe is skipped.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	Namespace string    `json:"namespace"`
	User      string    `json:"user,omitempty"`
	Asset     string    `json:"asset,omitempty"`
	Group     string    `json:"group,omitempty"`
	Reason    string    `json:"reason"`
}

// String renders an issue the way it shows up in logs.
func (i Issue) String() string {
	switch i.Kind {
	case IssueRoleConflict:
		return fmt.Sprintf("user [%s/%s] excluded: %s", i.Namespace, i.User, i.Reason)
	case IssueUnknownGroup:
		return fmt.Sprintf("asset [%s/%s] grant to [%s] skipped: %s", i.Namespace, i.Asset, i.Group, i.Reason)
	}
	return fmt.Sprintf("%s in namespace [%s]: %s", i.Kind, i.Namespace, i.Reason)
}

// Build assembles the desired state from an identity snapshot and an asset
// manifest, both already validated. It is a pure function of its inputs:
// entity-level problems come back as issues, never as partial mutations,
// and the output does not depend on input ordering. Either document may be
// nil, which simply contributes nothing.
func Build(users *manifest.UserDocument, assets *manifest.AssetDocument, opts BuildOptions) (*State, []Issue) {
	desired := NewState()
	var issues []Issue

	if users != nil {
		for _, entry := range users.Users {
			ns := entry.Namespace
			if ns == "" {
				ns = DefaultNamespace
			}

			role, governed, err := opts.Mapping.Resolve(entry.Groups, opts.Resolution)
			if err != nil {
				issues = append(issues, Issue{
					Kind:      IssueRoleConflict,
					Namespace: ns,
					User:      entry.Email,
					Reason:    err.Error(),
				})
				continue
			}
			if !governed {
				// No role group, no account. Common for snapshot rows
				// that only carry catch-all groups.
				continue
			}

			groups := governedGroups(entry.Groups, opts)
			part := desired.Namespace(ns)
			part.Users[entry.Email] = User{
				Email:     entry.Email,
				Namespace: ns,
				Role:      role,
				Groups:    groups,
			}
			for _, name := range groups {
				group := part.Groups[name]
				group.Name = name
				group.Namespace = ns
				group.Members = append(group.Members, entry.Email)
				part.Groups[name] = group
			}
		}
	}

	for _, part := range desired.Namespaces {
		for name, group := range part.Groups {
			sort.Strings(group.Members)
			part.Groups[name] = group
		}
	}

	if assets != nil {
		for _, entry := range assets.Assets {
			ns := entry.Namespace
			if ns == "" {
				ns = DefaultNamespace
			}
			// No partition until a grant resolves; an asset that
			// contributes nothing must not drag a namespace into the
			// cycle.
			part := desired.Namespaces[ns]

			asset := Asset{
				Name:      entry.Name,
				Category:  entry.Category,
				Namespace: ns,
				Grants:    map[string]PermissionLevel{},
			}
			level := PermissionLevel(entry.Permission)
			for _, name := range entry.Groups {
				switch {
				case part != nil && part.Groups.Contains(name):
					asset.Grants[name] = level
				case opts.CreateEmptyGroups && isGoverned(name, opts):
					// Only names the reader will observe again may be
					// materialized, or the group would be re-created
					// every cycle.
					if part == nil {
						part = desired.Namespace(ns)
					}
					part.Groups[name] = Group{Name: name, Namespace: ns}
					asset.Grants[name] = level
				default:
					issues = append(issues, Issue{
						Kind:      IssueUnknownGroup,
						Namespace: ns,
						Asset:     asset.Key(),
						Group:     name,
						Reason:    "no governed group by this name in the identity snapshot",
					})
					asset.SkippedGroups = append(asset.SkippedGroups, name)
				}
			}
			sort.Strings(asset.SkippedGroups)

			// None of the grants resolved: the asset stays out of
			// desired entirely.
			if len(asset.Grants) == 0 {
				continue
			}
			part.Assets[asset.Key()] = asset
		}
	}

	return desired, issues
}

// isGoverned reports whether a group name belongs to this tool: carrying
// the governance prefix without being one of the role groups, which are
// consumed by role resolution instead.
func isGoverned(name string, opts BuildOptions) bool {
	return strings.HasPrefix(name, opts.GroupPrefix) && !opts.Mapping.IsRoleGroup(name)
}

// governedGroups filters a user's group list down to the governed,
// non-role groups, deduplicated and sorted.
func governedGroups(groups []string, opts BuildOptions) []string {
	seen := make(map[string]bool)
	var out []string
	for _, group := range groups {
		if !isGoverned(group, opts) || seen[group] {
			continue
		}
		seen[group] = true
		out = append(out, group)
	}
	sort.Strings(out)
	return out
}
