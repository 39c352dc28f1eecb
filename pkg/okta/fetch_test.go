package okta

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PremiereGlobal/quicksight-admin/pkg/manifest"
)

type fakeDirectory struct {
	groups     []Group
	groupsErr  error
	members    map[string][]Member
	membersErr map[string]error
}

func (f *fakeDirectory) Groups(_ context.Context, _ string) ([]Group, error) {
	return f.groups, f.groupsErr
}

func (f *fakeDirectory) GroupMembers(_ context.Context, groupID string) ([]Member, error) {
	if err := f.membersErr[groupID]; err != nil {
		return nil, err
	}
	return f.members[groupID], nil
}

func TestFetch(t *testing.T) {
	dir := &fakeDirectory{
		groups: []Group{
			{ID: "00g1", Name: "qs_role_author"},
			{ID: "00g2", Name: "qs_group_finance"},
		},
		members: map[string][]Member{
			"00g1": {
				{Login: "alice@corp.example", Email: "alice@corp.example", Status: "ACTIVE"},
			},
			"00g2": {
				{Login: "alice@corp.example", Email: "alice@corp.example", Status: "ACTIVE"},
				{Login: "bob@corp.example", Email: "bob@corp.example", Status: "SUSPENDED"},
				{Login: "carol@corp.example", Email: "", Status: "PROVISIONED"},
			},
		},
	}

	fetcher := &Fetcher{Directory: dir, Prefix: "qs_"}
	doc, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, doc)

	require.Len(t, doc.Users, 2, "suspended members are left out")
	assert.Equal(t, manifest.UserEntry{
		Username:  "alice@corp.example",
		Email:     "alice@corp.example",
		Groups:    []string{"qs_group_finance", "qs_role_author"},
		Namespace: manifest.DefaultNamespace,
	}, doc.Users[0])
	assert.Equal(t, "carol@corp.example", doc.Users[1].Username)
	assert.Equal(t, "carol@corp.example", doc.Users[1].Email, "login stands in for a missing email")
}

func TestFetchIsAllOrNothing(t *testing.T) {
	boom := errors.New("rate limited to death")
	dir := &fakeDirectory{
		groups: []Group{
			{ID: "00g1", Name: "qs_role_author"},
			{ID: "00g2", Name: "qs_group_finance"},
		},
		members: map[string][]Member{
			"00g1": {{Login: "alice@corp.example", Email: "alice@corp.example", Status: "ACTIVE"}},
		},
		membersErr: map[string]error{"00g2": boom},
	}

	fetcher := &Fetcher{Directory: dir, Prefix: "qs_"}
	doc, err := fetcher.Fetch(context.Background())
	assert.Nil(t, doc, "a partial membership read yields no snapshot at all")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "members of qs_group_finance", fetchErr.Stage)
	assert.ErrorIs(t, err, boom)
}

func TestFetchGroupListingFails(t *testing.T) {
	dir := &fakeDirectory{groupsErr: errors.New("connection refused")}
	fetcher := &Fetcher{Directory: dir, Prefix: "qs_"}

	doc, err := fetcher.Fetch(context.Background())
	assert.Nil(t, doc)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "groups", fetchErr.Stage)
}

func TestFetchEmptyDirectory(t *testing.T) {
	fetcher := &Fetcher{Directory: &fakeDirectory{}, Prefix: "qs_"}
	doc, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Empty(t, doc.Users, "an empty org is data, not an error")
}
