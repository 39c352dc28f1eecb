package state

import "strings"

// RoleMapping names the identity-provider groups that assign each
// QuickSight role. Membership in one of these groups is what makes a user
// governed at all.
type RoleMapping struct {
	AdminGroup  string
	AuthorGroup string
	ReaderGroup string
}

// Resolution picks the behavior when a user belongs to more than one role
// group. It is configuration; nothing is ever inferred.
type Resolution string

const (
	// ResolutionStrict refuses to choose: the user is excluded and the
	// conflict reported.
	ResolutionStrict Resolution = "strict"
	// ResolutionHighest resolves conflicts in favor of the most
	// privileged role, ADMIN over AUTHOR over READER.
	ResolutionHighest Resolution = "highest"
)

// ValidResolution reports whether r names a known resolution policy.
func ValidResolution(r Resolution) bool {
	return r == ResolutionStrict || r == ResolutionHighest
}

// RoleConflictError reports a user sitting in several role groups under
// the strict resolution.
type RoleConflictError struct {
	Roles []Role
}

func (e *RoleConflictError) Error() string {
	names := make([]string, len(e.Roles))
	for i, role := range e.Roles {
		names[i] = string(role)
	}
	return "member of more than one role group: " + strings.Join(names, ", ")
}

// RoleOf returns the role a single group name assigns, if any.
func (m RoleMapping) RoleOf(group string) (Role, bool) {
	switch group {
	case m.AdminGroup:
		return RoleAdmin, true
	case m.AuthorGroup:
		return RoleAuthor, true
	case m.ReaderGroup:
		return RoleReader, true
	}
	return "", false
}

// IsRoleGroup reports whether group assigns a role under this mapping.
func (m RoleMapping) IsRoleGroup(group string) bool {
	_, ok := m.RoleOf(group)
	return ok
}

// Resolve derives the effective role from a user's group memberships. It
// is a pure function of the group set. ok is false when no role group is
// present; such users carry no target account at all. A *RoleConflictError
// is returned when several role groups apply and res is strict.
func (m RoleMapping) Resolve(groups []string, res Resolution) (Role, bool, error) {
	seen := make(map[Role]bool)
	for _, group := range groups {
		if role, isRole := m.RoleOf(group); isRole {
			seen[role] = true
		}
	}

	// Privilege order, so conflict reports and the highest policy are
	// deterministic whatever order the groups arrived in.
	var found []Role
	for _, role := range []Role{RoleAdmin, RoleAuthor, RoleReader} {
		if seen[role] {
			found = append(found, role)
		}
	}

	switch len(found) {
	case 0:
		return "", false, nil
	case 1:
		return found[0], true, nil
	}
	if res == ResolutionHighest {
		return found[0], true, nil
	}
	return "", false, &RoleConflictError{Roles: found}
}
