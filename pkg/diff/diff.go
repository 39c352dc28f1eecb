package diff

import (
	"fmt"

	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

// Kind enumerates the edit operations the reconciler can emit.
type Kind string

const (
	EnsureNamespace   Kind = "ensure-namespace"
	CreateGroup       Kind = "create-group"
	RegisterUser      Kind = "register-user"
	SetUserRole       Kind = "set-user-role"
	AddGroupMember    Kind = "add-group-member"
	PutAssetGrant     Kind = "put-asset-grant"
	RemoveGroupMember Kind = "remove-group-member"
	RevokeAssetGrant  Kind = "revoke-asset-grant"
	DeleteUser        Kind = "delete-user"
	DeleteGroup       Kind = "delete-group"
)

// Op is one target edit. Fields are filled per kind; AssetID carries the
// resolved QuickSight identifier captured during the actual-state read.
type Op struct {
	Kind      Kind                  `json:"kind"`
	Namespace string                `json:"namespace"`
	User      string                `json:"user,omitempty"`
	Group     string                `json:"group,omitempty"`
	Role      state.Role            `json:"role,omitempty"`
	Category  string                `json:"category,omitempty"`
	Asset     string                `json:"asset,omitempty"`
	AssetID   string                `json:"asset_id,omitempty"`
	Level     state.PermissionLevel `json:"level,omitempty"`
}

// String renders the op the way it shows up in logs and reports.
func (o Op) String() string {
	switch o.Kind {
	case EnsureNamespace:
		return fmt.Sprintf("ensure namespace [%s]", o.Namespace)
	case CreateGroup:
		return fmt.Sprintf("create group [%s/%s]", o.Namespace, o.Group)
	case RegisterUser:
		return fmt.Sprintf("register user [%s/%s] as %s", o.Namespace, o.User, o.Role)
	case SetUserRole:
		return fmt.Sprintf("set role %s on user [%s/%s]", o.Role, o.Namespace, o.User)
	case AddGroupMember:
		return fmt.Sprintf("add [%s] to group [%s/%s]", o.User, o.Namespace, o.Group)
	case PutAssetGrant:
		return fmt.Sprintf("grant %s on %s [%s] to group [%s/%s]", o.Level, o.Category, o.Asset, o.Namespace, o.Group)
	case RemoveGroupMember:
		return fmt.Sprintf("remove [%s] from group [%s/%s]", o.User, o.Namespace, o.Group)
	case RevokeAssetGrant:
		return fmt.Sprintf("revoke %s [%s] from group [%s/%s]", o.Category, o.Asset, o.Namespace, o.Group)
	case DeleteUser:
		return fmt.Sprintf("delete user [%s/%s]", o.Namespace, o.User)
	case DeleteGroup:
		return fmt.Sprintf("delete group [%s/%s]", o.Namespace, o.Group)
	}
	return string(o.Kind)
}

// EditSet is the ordered outcome of one desired/actual comparison.
// Creates run before updates before deletes.
type EditSet struct {
	Creates []Op `json:"creates,omitempty"`
	Updates []Op `json:"updates,omitempty"`
	Deletes []Op `json:"deletes,omitempty"`
}

func (e *EditSet) Len() int {
	return len(e.Creates) + len(e.Updates) + len(e.Deletes)
}

func (e *EditSet) Empty() bool {
	return e.Len() == 0
}

// Stages splits the edit set into dependency tiers. Every op in a stage is
// independent of the others in it; each stage relies only on the stages
// before it (a member add needs its group and user to exist, a user delete
// implies its membership removals, and so on). The apply engine runs one
// stage to completion before starting the next.
func (e *EditSet) Stages() [][]Op {
	tiers := [][]Kind{
		{EnsureNamespace},
		{CreateGroup},
		{RegisterUser},
		{AddGroupMember, PutAssetGrant},
		{SetUserRole, PutAssetGrant},
		{DeleteGroup},
		{DeleteUser},
		{RemoveGroupMember, RevokeAssetGrant},
	}
	phases := [][]Op{e.Creates, e.Creates, e.Creates, e.Creates, e.Updates, e.Deletes, e.Deletes, e.Deletes}

	var stages [][]Op
	for i, tier := range tiers {
		var stage []Op
		for _, op := range phases[i] {
			for _, kind := range tier {
				if op.Kind == kind {
					stage = append(stage, op)
					break
				}
			}
		}
		if len(stage) > 0 {
			stages = append(stages, stage)
		}
	}
	return stages
}

// Options tunes the comparison.
type Options struct {
	// DeregisterUsers emits user deletions for accounts no longer in the
	// identity snapshot. Off by default: losing group memberships already
	// strips access, while the account (and whatever the user authored)
	// survives.
	DeregisterUsers bool
}

// Compute derives the minimal ordered edit set that moves actual toward
// desired. Only namespaces present in both desired and actual are
// compared; a namespace the reader could not observe contributes no edits
// at all, which is what makes deletes safe. Within a compared namespace,
// deletes only ever target governed entries.
func Compute(desired, actual *state.State, opts Options) *EditSet {
	edits := &EditSet{}

	for _, name := range desired.NamespaceNames() {
		d := desired.Namespaces[name]
		a, ok := actual.Namespaces[name]
		if !ok {
			// Not read this cycle. Hands off.
			continue
		}
		if a.Missing {
			edits.Creates = append(edits.Creates, Op{Kind: EnsureNamespace, Namespace: name})
		}
		compareNamespace(edits, d, a, opts)
	}

	return edits
}

func compareNamespace(edits *EditSet, d, a *state.NamespaceState, opts Options) {
	ns := d.Name

	// Groups first: everything else hangs off them.
	deletedGroups := make(map[string]bool)
	for _, name := range state.SortedKeys(d.Groups) {
		if !a.Groups.Contains(name) {
			edits.Creates = append(edits.Creates, Op{Kind: CreateGroup, Namespace: ns, Group: name})
		}
	}
	for _, name := range state.SortedKeys(a.Groups) {
		if !d.Groups.Contains(name) {
			edits.Deletes = append(edits.Deletes, Op{Kind: DeleteGroup, Namespace: ns, Group: name})
			deletedGroups[name] = true
		}
	}

	// Users.
	deletedUsers := make(map[string]bool)
	for _, email := range state.SortedKeys(d.Users) {
		want := d.Users[email]
		have, exists := a.Users[email]
		if !exists {
			edits.Creates = append(edits.Creates, Op{Kind: RegisterUser, Namespace: ns, User: email, Role: want.Role})
			continue
		}
		if have.Role != want.Role {
			edits.Updates = append(edits.Updates, Op{Kind: SetUserRole, Namespace: ns, User: email, Role: want.Role})
		}
	}
	for _, email := range state.SortedKeys(a.Users) {
		if d.Users.Contains(email) {
			continue
		}
		if opts.DeregisterUsers {
			edits.Deletes = append(edits.Deletes, Op{Kind: DeleteUser, Namespace: ns, User: email})
			deletedUsers[email] = true
		}
	}

	// Memberships. Removals are skipped when the group or the user is
	// going away anyway; the target drops those memberships itself.
	for _, name := range state.SortedKeys(d.Groups) {
		want := d.Groups[name]
		have := a.Groups[name]
		haveMembers := make(map[string]bool, len(have.Members))
		for _, email := range have.Members {
			haveMembers[email] = true
		}
		for _, email := range want.Members {
			if !haveMembers[email] {
				edits.Creates = append(edits.Creates, Op{Kind: AddGroupMember, Namespace: ns, Group: name, User: email})
			}
		}
	}
	for _, name := range state.SortedKeys(a.Groups) {
		if deletedGroups[name] {
			continue
		}
		want := d.Groups[name]
		wantMembers := make(map[string]bool, len(want.Members))
		for _, email := range want.Members {
			wantMembers[email] = true
		}
		for _, email := range a.Groups[name].Members {
			if !wantMembers[email] && !deletedUsers[email] {
				edits.Deletes = append(edits.Deletes, Op{Kind: RemoveGroupMember, Namespace: ns, Group: name, User: email})
			}
		}
	}

	// Asset grants. Assets the reader could not resolve have no actual
	// entry and are left alone; their skips were recorded at read time.
	for _, key := range state.SortedKeys(d.Assets) {
		want := d.Assets[key]
		have, readable := a.Assets[key]
		if !readable {
			continue
		}
		skipped := make(map[string]bool, len(want.SkippedGroups))
		for _, name := range want.SkippedGroups {
			skipped[name] = true
		}

		for _, name := range state.SortedKeys(want.Grants) {
			wantLevel := want.Grants[name]
			haveLevel, held := have.Grants[name]
			op := Op{
				Kind:      PutAssetGrant,
				Namespace: ns,
				Group:     name,
				Category:  want.Category,
				Asset:     want.Name,
				AssetID:   have.ID,
				Level:     wantLevel,
			}
			if !held {
				edits.Creates = append(edits.Creates, op)
			} else if haveLevel != wantLevel {
				edits.Updates = append(edits.Updates, op)
			}
		}
		for _, name := range state.SortedKeys(have.Grants) {
			if _, wanted := want.Grants[name]; wanted || skipped[name] {
				continue
			}
			edits.Deletes = append(edits.Deletes, Op{
				Kind:      RevokeAssetGrant,
				Namespace: ns,
				Group:     name,
				Category:  want.Category,
				Asset:     want.Name,
				AssetID:   have.ID,
			})
		}
	}
}
