package okta

import (
	"context"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/PremiereGlobal/quicksight-admin/pkg/manifest"
)

// FetchError reports which stage of the identity fetch failed. Any failure
// voids the whole fetch; a half-fetched snapshot must never pass for a
// small org.
type FetchError struct {
	Stage string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("identity fetch failed at %s: %v", e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher assembles a user-governance snapshot from the directory: every
// member of every governed group, with the groups they sit in.
type Fetcher struct {
	Directory Directory
	Prefix    string
}

// Fetch returns the snapshot, or a *FetchError and no snapshot at all.
// Deactivated members are left out; everyone else, whatever their login
// state, keeps their entry.
func (f *Fetcher) Fetch(ctx context.Context) (*manifest.UserDocument, error) {
	groups, err := f.Directory.Groups(ctx, f.Prefix)
	if err != nil {
		return nil, &FetchError{Stage: "groups", Err: err}
	}

	byLogin := make(map[string]*manifest.UserEntry)
	for _, group := range groups {
		members, err := f.Directory.GroupMembers(ctx, group.ID)
		if err != nil {
			return nil, &FetchError{Stage: "members of " + group.Name, Err: err}
		}
		for _, member := range members {
			switch member.Status {
			case "DEPROVISIONED", "SUSPENDED":
				log.Debugf("Skipping %s member [%s]", strings.ToLower(member.Status), member.Login)
				continue
			}
			entry, ok := byLogin[member.Login]
			if !ok {
				email := member.Email
				if email == "" {
					email = member.Login
				}
				entry = &manifest.UserEntry{
					Username:  member.Login,
					Email:     email,
					Namespace: manifest.DefaultNamespace,
				}
				byLogin[member.Login] = entry
			}
			entry.Groups = append(entry.Groups, group.Name)
		}
	}

	logins := make([]string, 0, len(byLogin))
	for login := range byLogin {
		logins = append(logins, login)
	}
	sort.Strings(logins)

	doc := &manifest.UserDocument{}
	for _, login := range logins {
		entry := byLogin[login]
		sort.Strings(entry.Groups)
		doc.Users = append(doc.Users, *entry)
	}
	log.Infof("Fetched %d governed groups and %d distinct members from the directory", len(groups), len(doc.Users))
	return doc, nil
}
