package quicksight

import (
	"context"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

// ReadFilter decides which target-side entries are governed at all.
// Entries outside it are invisible to the differ and therefore never
// deleted. The predicate has to match the one the desired-state builder
// applies to identity-provider groups, or the differ would tear down
// groups this tool never claimed.
type ReadFilter struct {
	GroupPrefix string
	Mapping     state.RoleMapping
}

func (f ReadFilter) governs(group string) bool {
	return strings.HasPrefix(group, f.GroupPrefix) && !f.Mapping.IsRoleGroup(group)
}

// NamespaceError reports a namespace whose state could not be read. The
// whole namespace sits the cycle out; a half-read namespace must never
// reach the differ.
type NamespaceError struct {
	Namespace string
	Err       error
}

func (e NamespaceError) Error() string {
	return fmt.Sprintf("reading namespace [%s]: %v", e.Namespace, e.Err)
}

func (e NamespaceError) Unwrap() error { return e.Err }

// ReadIssue reports a single asset whose ID or grants could not be read.
// Only that asset is skipped; the rest of its namespace proceeds.
type ReadIssue struct {
	Namespace string
	Asset     string
	Err       error
}

func (i ReadIssue) Error() string {
	return fmt.Sprintf("reading asset [%s] in namespace [%s]: %v", i.Asset, i.Namespace, i.Err)
}

func (i ReadIssue) Unwrap() error { return i.Err }

// ReadActual reads the target-side counterpart of desired. Only the
// namespaces desired names are queried; everything else in the account is
// out of scope. A namespace that does not exist yet reads as an empty
// partition flagged Missing, with its desired assets resolved anyway.
func ReadActual(ctx context.Context, api AdminAPI, desired *state.State, filter ReadFilter) (*state.State, []NamespaceError, []ReadIssue) {
	actual := state.NewState()
	var nsErrs []NamespaceError
	var issues []ReadIssue

	// Asset IDs are account-global; resolve each (category, name) once
	// even when several namespaces grant on it.
	ids := make(map[string]string)
	unresolved := make(map[string]error)

	for _, name := range desired.NamespaceNames() {
		part, err := readNamespace(ctx, api, name, desired.Namespaces[name], filter, ids, unresolved, &issues)
		if err != nil {
			log.Warnf("Namespace [%s] could not be read, leaving it alone this cycle: %v", name, err)
			nsErrs = append(nsErrs, NamespaceError{Namespace: name, Err: err})
			continue
		}
		actual.Namespaces[name] = part
	}
	return actual, nsErrs, issues
}

func readNamespace(ctx context.Context, api AdminAPI, name string, want *state.NamespaceState, filter ReadFilter, ids map[string]string, unresolved map[string]error, issues *[]ReadIssue) (*state.NamespaceState, error) {
	part := state.NewNamespaceState(name)

	exists, err := api.NamespaceExists(ctx, name)
	if err != nil {
		return nil, err
	}
	part.Missing = !exists

	// A namespace that is not there yet has no users or groups to list.
	// Its desired assets are still resolved below: IDs are account-global,
	// and the differ only stages grants on assets the read surfaced.
	if exists {
		users, err := api.ListUsers(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			part.Users[user.Email] = state.User{Email: user.Email, Namespace: name, Role: user.Role}
		}

		groups, err := api.ListGroups(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, group := range groups {
			if !filter.governs(group) {
				continue
			}
			members, err := api.ListGroupMembers(ctx, name, group)
			if err != nil {
				return nil, err
			}
			sort.Strings(members)
			part.Groups[group] = state.Group{Name: group, Namespace: name, Members: members}
		}
	}

	for _, key := range state.SortedKeys(want.Assets) {
		asset := want.Assets[key]
		id, err := resolveOnce(ctx, api, asset, ids, unresolved)
		if err != nil {
			log.Warnf("Asset [%s] in namespace [%s] could not be resolved, leaving its grants alone this cycle: %v", key, name, err)
			*issues = append(*issues, ReadIssue{Namespace: name, Asset: key, Err: err})
			continue
		}
		grants, err := api.AssetGrants(ctx, asset.Category, id, name)
		if err != nil {
			log.Warnf("Grants on %s [%s] in namespace [%s] could not be read, leaving them alone this cycle: %v", asset.Category, asset.Name, name, err)
			*issues = append(*issues, ReadIssue{Namespace: name, Asset: key, Err: err})
			continue
		}
		governed := make(map[string]state.PermissionLevel, len(grants))
		for group, level := range grants {
			if filter.governs(group) {
				governed[group] = level
			}
		}
		part.Assets[key] = state.Asset{
			Name:      asset.Name,
			Category:  asset.Category,
			Namespace: name,
			ID:        id,
			Grants:    governed,
		}
	}
	return part, nil
}

func resolveOnce(ctx context.Context, api AdminAPI, asset state.Asset, ids map[string]string, unresolved map[string]error) (string, error) {
	key := asset.Key()
	if id, ok := ids[key]; ok {
		return id, nil
	}
	if err, ok := unresolved[key]; ok {
		return "", err
	}
	id, err := api.ResolveAsset(ctx, asset.Category, asset.Name)
	if err != nil {
		unresolved[key] = err
		return "", err
	}
	ids[key] = id
	return id, nil
}
