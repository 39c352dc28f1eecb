// Package okta reads the governed slice of the identity provider: every
// group under the governance prefix and its members.
package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

const pageLimit = 200

// Group is a directory group.
type Group struct {
	ID   string
	Name string
}

// Member is a directory user as seen through a group listing.
type Member struct {
	Login  string
	Email  string
	Status string
}

// Directory is the identity-provider surface the fetcher needs.
type Directory interface {
	Groups(ctx context.Context, prefix string) ([]Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]Member, error)
}

// Client talks to the Okta org API with an SSWS token. Transient failures
// and rate limits are retried by the transport before a fetch gives up.
type Client struct {
	orgURL string
	token  string
	http   *retryablehttp.Client
}

var _ Directory = (*Client)(nil)

func NewClient(orgURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.Logger = nil
	return &Client{
		orgURL: strings.TrimSuffix(orgURL, "/"),
		token:  token,
		http:   rc,
	}
}

// Wire shapes, trimmed to the fields in use.
type apiGroup struct {
	ID      string `json:"id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type apiUser struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Profile struct {
		Login string `json:"login"`
		Email string `json:"email"`
	} `json:"profile"`
}

func (c *Client) Groups(ctx context.Context, prefix string) ([]Group, error) {
	var groups []Group
	endpoint := fmt.Sprintf("%s/api/v1/groups?q=%s&limit=%d", c.orgURL, url.QueryEscape(prefix), pageLimit)
	err := c.getPaged(ctx, endpoint, func(body []byte) error {
		var page []apiGroup
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decoding group page: %w", err)
		}
		for _, group := range page {
			// q= matches loosely across profile fields; only a real
			// name prefix makes a group governed.
			if !strings.HasPrefix(group.Profile.Name, prefix) {
				continue
			}
			groups = append(groups, Group{ID: group.ID, Name: group.Profile.Name})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	return groups, nil
}

func (c *Client) GroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	var members []Member
	endpoint := fmt.Sprintf("%s/api/v1/groups/%s/users?limit=%d", c.orgURL, groupID, pageLimit)
	err := c.getPaged(ctx, endpoint, func(body []byte) error {
		var page []apiUser
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decoding member page: %w", err)
		}
		for _, user := range page {
			members = append(members, Member{
				Login:  user.Profile.Login,
				Email:  user.Profile.Email,
				Status: user.Status,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing members of group [%s]: %w", groupID, err)
	}
	return members, nil
}

// getPaged walks a paginated endpoint, handing each page's body to page.
// Okta signals the next page through a Link header.
func (c *Client) getPaged(ctx context.Context, endpoint string, page func([]byte) error) error {
	for endpoint != "" {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "SSWS "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("okta returned %s", resp.Status)
		}
		if err := page(body); err != nil {
			return err
		}
		endpoint = nextLink(resp.Header)
	}
	return nil
}

func nextLink(header http.Header) string {
	for _, link := range header.Values("Link") {
		parts := strings.Split(link, ";")
		if len(parts) < 2 {
			continue
		}
		if strings.TrimSpace(parts[1]) != `rel="next"` {
			continue
		}
		target := strings.TrimSpace(parts[0])
		target = strings.TrimPrefix(target, "<")
		return strings.TrimSuffix(target, ">")
	}
	return ""
}
