package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
)

// DefaultNamespace is assumed for any entry that does not name one.
const DefaultNamespace = "default"

// categoryLevels lists the permission levels admins may grant per asset
// category. Categories and levels outside this table are rejected.
var categoryLevels = map[string][]string{
	"dataset":   {"READ", "WRITE"},
	"dashboard": {"READ"},
	"analysis":  {"READ", "WRITE"},
	"theme":     {"READ"},
}

// ValidationError describes a single problem with a governance document.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// UserEntry is one user in the user-governance document. The document is
// normally produced from the identity provider but can be hand-authored.
type UserEntry struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Groups    []string `json:"groups"`
	Namespace string   `json:"namespace,omitempty"`
}

// UserDocument is the identity snapshot: every governed user with the
// groups they belong to.
type UserDocument struct {
	Users []UserEntry `json:"users"`
}

// AssetEntry is one asset in the asset-governance manifest. Name and
// category identify an existing QuickSight object; the entry only governs
// which groups may use it and at what level.
type AssetEntry struct {
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Namespace  string   `json:"namespace,omitempty"`
	Groups     []string `json:"groups"`
	Permission string   `json:"permission"`
}

// AssetDocument is the admin-authored asset permission manifest.
type AssetDocument struct {
	Assets []AssetEntry `json:"assets"`
}

// LoadUsers parses and validates a user-governance document. Validation is
// all or nothing: any problem rejects the whole document, and every problem
// found is reported.
func LoadUsers(data []byte) (*UserDocument, error) {
	var doc UserDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("user governance document is not valid JSON: %w", err)
	}

	var result *multierror.Error
	seen := make(map[string]bool)
	for i, user := range doc.Users {
		field := fmt.Sprintf("users[%d]", i)
		if user.Email == "" {
			result = multierror.Append(result, &ValidationError{Field: field + ".email", Reason: "required"})
			continue
		}
		ns := user.Namespace
		if ns == "" {
			ns = DefaultNamespace
		}
		key := ns + "/" + user.Email
		if seen[key] {
			result = multierror.Append(result, &ValidationError{Field: field, Reason: fmt.Sprintf("duplicate user [%s] in namespace [%s]", user.Email, ns)})
		}
		seen[key] = true
		for j, group := range user.Groups {
			if strings.TrimSpace(group) == "" {
				result = multierror.Append(result, &ValidationError{Field: fmt.Sprintf("%s.groups[%d]", field, j), Reason: "empty group name"})
			}
		}
		doc.Users[i].Namespace = ns
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadAssets parses and validates an asset-governance manifest. Category
// and permission are normalized (lower and upper case respectively) before
// being checked against the registry. Any problem rejects the whole
// manifest so a partial intent is never applied.
func LoadAssets(data []byte) (*AssetDocument, error) {
	var doc AssetDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("asset governance manifest is not valid JSON: %w", err)
	}

	var result *multierror.Error
	seen := make(map[string]bool)
	for i, asset := range doc.Assets {
		field := fmt.Sprintf("assets[%d]", i)
		if asset.Name == "" {
			result = multierror.Append(result, &ValidationError{Field: field + ".name", Reason: "required"})
		}

		category := strings.ToLower(asset.Category)
		levels, known := categoryLevels[category]
		if asset.Category == "" {
			result = multierror.Append(result, &ValidationError{Field: field + ".category", Reason: "required"})
		} else if !known {
			result = multierror.Append(result, &ValidationError{Field: field + ".category", Reason: fmt.Sprintf("unknown category [%s]", asset.Category)})
		}

		permission := strings.ToUpper(asset.Permission)
		if asset.Permission == "" {
			result = multierror.Append(result, &ValidationError{Field: field + ".permission", Reason: "required"})
		} else if known && !contains(levels, permission) {
			result = multierror.Append(result, &ValidationError{Field: field + ".permission", Reason: fmt.Sprintf("level [%s] not recognized for category [%s]", asset.Permission, category)})
		}

		if len(asset.Groups) == 0 {
			result = multierror.Append(result, &ValidationError{Field: field + ".groups", Reason: "at least one group required"})
		}
		groupSeen := make(map[string]bool)
		for j, group := range asset.Groups {
			if strings.TrimSpace(group) == "" {
				result = multierror.Append(result, &ValidationError{Field: fmt.Sprintf("%s.groups[%d]", field, j), Reason: "empty group name"})
				continue
			}
			if groupSeen[group] {
				result = multierror.Append(result, &ValidationError{Field: fmt.Sprintf("%s.groups[%d]", field, j), Reason: fmt.Sprintf("duplicate group [%s]", group)})
			}
			groupSeen[group] = true
		}

		ns := asset.Namespace
		if ns == "" {
			ns = DefaultNamespace
		}
		key := ns + "/" + category + "/" + asset.Name
		if asset.Name != "" && known && seen[key] {
			result = multierror.Append(result, &ValidationError{Field: field, Reason: fmt.Sprintf("duplicate asset [%s/%s] in namespace [%s]", category, asset.Name, ns)})
		}
		seen[key] = true

		doc.Assets[i].Category = category
		doc.Assets[i].Permission = permission
		doc.Assets[i].Namespace = ns
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func contains(list []string, needle string) bool {
	for _, item := range list {
		if item == needle {
			return true
		}
	}
	return false
}
