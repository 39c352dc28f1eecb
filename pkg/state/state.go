package state

import "sort"

// DefaultNamespace scopes everything that does not name a namespace.
const DefaultNamespace = "default"

// Role is the QuickSight permission tier a user holds inside a namespace.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleAuthor Role = "AUTHOR"
	RoleReader Role = "READER"
)

// PermissionLevel is the strength of an asset grant. Levels are registered
// per asset category and no ordering between them is assumed.
type PermissionLevel string

const (
	PermissionRead  PermissionLevel = "READ"
	PermissionWrite PermissionLevel = "WRITE"
)

// User is one governed account. The email is the identity; the same email
// in two namespaces is two distinct users.
type User struct {
	Email     string
	Namespace string
	Role      Role
	// Groups are the governed groups the user belongs to, sorted.
	Groups []string
}

// Group is a governed group and its member emails, sorted.
type Group struct {
	Name      string
	Namespace string
	Members   []string
}

// Asset identifies one permission-bearing QuickSight object and the grants
// it should carry. The object itself is owned outside this tool; only its
// grants are governed.
type Asset struct {
	Name      string
	Category  string
	Namespace string
	// ID is the resolved QuickSight identifier. The actual-state reader
	// fills it in; desired-side assets leave it empty.
	ID string
	// Grants maps group name to the level that group should hold.
	Grants map[string]PermissionLevel
	// SkippedGroups are manifest grants that could not be resolved this
	// cycle. The differ leaves the target's grants for these groups alone.
	SkippedGroups []string
}

// Key returns the category/name key an asset is tracked under within its
// namespace.
func (a Asset) Key() string {
	return AssetKey(a.Category, a.Name)
}

// AssetKey builds the per-namespace tracking key for an asset.
func AssetKey(category, name string) string {
	return category + "/" + name
}

type UserList map[string]User

func (l UserList) Contains(email string) bool {
	_, ok := l[email]
	return ok
}

type GroupList map[string]Group

func (l GroupList) Contains(name string) bool {
	_, ok := l[name]
	return ok
}

type AssetList map[string]Asset

func (l AssetList) Contains(key string) bool {
	_, ok := l[key]
	return ok
}

// NamespaceState is one namespace's slice of a State.
type NamespaceState struct {
	Name string
	// Missing marks an actual-side namespace that does not exist in the
	// target yet. Desired-side states never set it.
	Missing bool
	Users   UserList
	Groups  GroupList
	Assets  AssetList
}

func NewNamespaceState(name string) *NamespaceState {
	return &NamespaceState{
		Name:   name,
		Users:  UserList{},
		Groups: GroupList{},
		Assets: AssetList{},
	}
}

// State is a full picture of the governed surface, partitioned by
// namespace. Desired and actual states share this shape.
type State struct {
	Namespaces map[string]*NamespaceState
}

func NewState() *State {
	return &State{Namespaces: map[string]*NamespaceState{}}
}

// Namespace returns the partition for name, creating it when absent.
func (s *State) Namespace(name string) *NamespaceState {
	ns, ok := s.Namespaces[name]
	if !ok {
		ns = NewNamespaceState(name)
		s.Namespaces[name] = ns
	}
	return ns
}

// NamespaceNames returns the partition names in sorted order.
func (s *State) NamespaceNames() []string {
	names := make([]string, 0, len(s.Namespaces))
	for name := range s.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedKeys returns a map's string keys in sorted order. The differ and
// builder walk maps through this so output order never depends on map
// iteration.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
