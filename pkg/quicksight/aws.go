package quicksight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/quicksight"
	"github.com/aws/aws-sdk-go-v2/service/quicksight/types"
	backoff "github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/PremiereGlobal/quicksight-admin/pkg/state"
)

const maxPageSize = 100

// sdk is the subset of the QuickSight SDK client this adapter calls,
// split out so tests can stand in for AWS.
type sdk interface {
	DescribeNamespace(ctx context.Context, in *quicksight.DescribeNamespaceInput, opts ...func(*quicksight.Options)) (*quicksight.DescribeNamespaceOutput, error)
	CreateNamespace(ctx context.Context, in *quicksight.CreateNamespaceInput, opts ...func(*quicksight.Options)) (*quicksight.CreateNamespaceOutput, error)

	ListUsers(ctx context.Context, in *quicksight.ListUsersInput, opts ...func(*quicksight.Options)) (*quicksight.ListUsersOutput, error)
	RegisterUser(ctx context.Context, in *quicksight.RegisterUserInput, opts ...func(*quicksight.Options)) (*quicksight.RegisterUserOutput, error)
	UpdateUser(ctx context.Context, in *quicksight.UpdateUserInput, opts ...func(*quicksight.Options)) (*quicksight.UpdateUserOutput, error)
	DeleteUser(ctx context.Context, in *quicksight.DeleteUserInput, opts ...func(*quicksight.Options)) (*quicksight.DeleteUserOutput, error)

	ListGroups(ctx context.Context, in *quicksight.ListGroupsInput, opts ...func(*quicksight.Options)) (*quicksight.ListGroupsOutput, error)
	CreateGroup(ctx context.Context, in *quicksight.CreateGroupInput, opts ...func(*quicksight.Options)) (*quicksight.CreateGroupOutput, error)
	DeleteGroup(ctx context.Context, in *quicksight.DeleteGroupInput, opts ...func(*quicksight.Options)) (*quicksight.DeleteGroupOutput, error)
	ListGroupMemberships(ctx context.Context, in *quicksight.ListGroupMembershipsInput, opts ...func(*quicksight.Options)) (*quicksight.ListGroupMembershipsOutput, error)
	CreateGroupMembership(ctx context.Context, in *quicksight.CreateGroupMembershipInput, opts ...func(*quicksight.Options)) (*quicksight.CreateGroupMembershipOutput, error)
	DeleteGroupMembership(ctx context.Context, in *quicksight.DeleteGroupMembershipInput, opts ...func(*quicksight.Options)) (*quicksight.DeleteGroupMembershipOutput, error)

	ListDataSets(ctx context.Context, in *quicksight.ListDataSetsInput, opts ...func(*quicksight.Options)) (*quicksight.ListDataSetsOutput, error)
	DescribeDataSetPermissions(ctx context.Context, in *quicksight.DescribeDataSetPermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.DescribeDataSetPermissionsOutput, error)
	UpdateDataSetPermissions(ctx context.Context, in *quicksight.UpdateDataSetPermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.UpdateDataSetPermissionsOutput, error)

	ListDashboards(ctx context.Context, in *quicksight.ListDashboardsInput, opts ...func(*quicksight.Options)) (*quicksight.ListDashboardsOutput, error)
	DescribeDashboardPermissions(ctx context.Context, in *quicksight.DescribeDashboardPermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.DescribeDashboardPermissionsOutput, error)
	UpdateDashboardPermissions(ctx context.Context, in *quicksight.UpdateDashboardPermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.UpdateDashboardPermissionsOutput, error)

	ListAnalyses(ctx context.Context, in *quicksight.ListAnalysesInput, opts ...func(*quicksight.Options)) (*quicksight.ListAnalysesOutput, error)
	DescribeAnalysisPermissions(ctx context.Context, in *quicksight.DescribeAnalysisPermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.DescribeAnalysisPermissionsOutput, error)
	UpdateAnalysisPermissions(ctx context.Context, in *quicksight.UpdateAnalysisPermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.UpdateAnalysisPermissionsOutput, error)

	ListThemes(ctx context.Context, in *quicksight.ListThemesInput, opts ...func(*quicksight.Options)) (*quicksight.ListThemesOutput, error)
	DescribeThemePermissions(ctx context.Context, in *quicksight.DescribeThemePermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.DescribeThemePermissionsOutput, error)
	UpdateThemePermissions(ctx context.Context, in *quicksight.UpdateThemePermissionsInput, opts ...func(*quicksight.Options)) (*quicksight.UpdateThemePermissionsOutput, error)
}

// Client drives QuickSight through the AWS SDK. Governed users federate in
// through a single IAM role, so QuickSight knows them as
// "<role>/<email>"; the client owns that mapping in both directions.
type Client struct {
	api           sdk
	accountID     string
	region        string
	federatedRole string
}

// NewClient builds an AdminAPI over the account's QuickSight subscription.
func NewClient(cfg aws.Config, accountID, federatedRole string) *Client {
	return &Client{
		api:           quicksight.NewFromConfig(cfg),
		accountID:     accountID,
		region:        cfg.Region,
		federatedRole: federatedRole,
	}
}

func (c *Client) userName(email string) string {
	return c.federatedRole + "/" + email
}

// emailOf reverses userName. ok is false for accounts this tool does not
// govern: different identity paths, hand-registered users, the root admin.
func (c *Client) emailOf(userName string) (string, bool) {
	prefix := c.federatedRole + "/"
	if !strings.HasPrefix(userName, prefix) {
		return "", false
	}
	return strings.TrimPrefix(userName, prefix), true
}

func (c *Client) roleArn() string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", c.accountID, c.federatedRole)
}

func (c *Client) groupArn(namespace, group string) string {
	return fmt.Sprintf("arn:aws:quicksight:%s:%s:group/%s/%s", c.region, c.accountID, namespace, group)
}

// parseGroupArn pulls the namespace and group out of a QuickSight group
// principal ARN (arn:aws:quicksight:region:account:group/namespace/name).
func parseGroupArn(arn string) (namespace, group string, ok bool) {
	idx := strings.Index(arn, ":group/")
	if idx < 0 {
		return "", "", false
	}
	parts := strings.SplitN(arn[idx+len(":group/"):], "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (c *Client) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	_, err := c.api.DescribeNamespace(ctx, &quicksight.DescribeNamespaceInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("describing namespace [%s]: %w", namespace, err)
	}
	return true, nil
}

// CreateNamespace provisions a namespace and waits for it to settle.
// Provisioning is asynchronous on the AWS side; returning before the
// namespace reaches CREATED would make the group and user stages behind
// it race the provisioner.
func (c *Client) CreateNamespace(ctx context.Context, namespace string) error {
	_, err := c.api.CreateNamespace(ctx, &quicksight.CreateNamespaceInput{
		AwsAccountId:  aws.String(c.accountID),
		Namespace:     aws.String(namespace),
		IdentityStore: types.IdentityStoreQuicksight,
	})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("creating namespace [%s]: %w", namespace, err)
	}

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = 2 * time.Second
	wait.MaxInterval = 30 * time.Second
	wait.MaxElapsedTime = 5 * time.Minute
	return backoff.Retry(func() error {
		out, err := c.api.DescribeNamespace(ctx, &quicksight.DescribeNamespaceInput{
			AwsAccountId: aws.String(c.accountID),
			Namespace:    aws.String(namespace),
		})
		if err != nil {
			if IsNotFound(err) || IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if out.Namespace == nil {
			return fmt.Errorf("namespace [%s] not reported yet", namespace)
		}
		switch out.Namespace.CreationStatus {
		case types.NamespaceStatusCreated:
			return nil
		case types.NamespaceStatusNonRetryableFailure:
			return backoff.Permanent(fmt.Errorf("namespace [%s] creation failed permanently", namespace))
		}
		log.Debugf("Namespace [%s] is %s, waiting", namespace, out.Namespace.CreationStatus)
		return fmt.Errorf("namespace [%s] is %s", namespace, out.Namespace.CreationStatus)
	}, backoff.WithContext(wait, ctx))
}

func (c *Client) ListUsers(ctx context.Context, namespace string) ([]TargetUser, error) {
	var out []TargetUser
	var next *string
	for {
		page, err := c.api.ListUsers(ctx, &quicksight.ListUsersInput{
			AwsAccountId: aws.String(c.accountID),
			Namespace:    aws.String(namespace),
			MaxResults:   aws.Int32(maxPageSize),
			NextToken:    next,
		})
		if err != nil {
			return nil, fmt.Errorf("listing users in namespace [%s]: %w", namespace, err)
		}
		for _, user := range page.UserList {
			name := aws.ToString(user.UserName)
			email, governed := c.emailOf(name)
			if !governed {
				log.Debugf("User [%s] did not come through the federation role, leaving it alone", name)
				continue
			}
			role := state.Role(user.Role)
			switch role {
			case state.RoleAdmin, state.RoleAuthor, state.RoleReader:
			default:
				log.Debugf("User [%s] has unmanaged role [%s], leaving it alone", email, user.Role)
				continue
			}
			out = append(out, TargetUser{Email: email, Role: role})
		}
		next = page.NextToken
		if next == nil {
			break
		}
	}
	return out, nil
}

func (c *Client) RegisterUser(ctx context.Context, namespace, email string, role state.Role) error {
	_, err := c.api.RegisterUser(ctx, &quicksight.RegisterUserInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
		IdentityType: types.IdentityTypeIam,
		Email:        aws.String(email),
		UserRole:     types.UserRole(role),
		IamArn:       aws.String(c.roleArn()),
		SessionName:  aws.String(email),
	})
	if err != nil {
		return fmt.Errorf("registering user [%s/%s]: %w", namespace, email, err)
	}
	return nil
}

func (c *Client) UpdateUserRole(ctx context.Context, namespace, email string, role state.Role) error {
	_, err := c.api.UpdateUser(ctx, &quicksight.UpdateUserInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
		UserName:     aws.String(c.userName(email)),
		Email:        aws.String(email),
		Role:         types.UserRole(role),
	})
	if err != nil {
		return fmt.Errorf("setting role %s on user [%s/%s]: %w", role, namespace, email, err)
	}
	return nil
}

func (c *Client) DeleteUser(ctx context.Context, namespace, email string) error {
	_, err := c.api.DeleteUser(ctx, &quicksight.DeleteUserInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
		UserName:     aws.String(c.userName(email)),
	})
	if err != nil {
		return fmt.Errorf("deleting user [%s/%s]: %w", namespace, email, err)
	}
	return nil
}

func (c *Client) ListGroups(ctx context.Context, namespace string) ([]string, error) {
	var out []string
	var next *string
	for {
		page, err := c.api.ListGroups(ctx, &quicksight.ListGroupsInput{
			AwsAccountId: aws.String(c.accountID),
			Namespace:    aws.String(namespace),
			MaxResults:   aws.Int32(maxPageSize),
			NextToken:    next,
		})
		if err != nil {
			return nil, fmt.Errorf("listing groups in namespace [%s]: %w", namespace, err)
		}
		for _, group := range page.GroupList {
			out = append(out, aws.ToString(group.GroupName))
		}
		next = page.NextToken
		if next == nil {
			break
		}
	}
	return out, nil
}

func (c *Client) CreateGroup(ctx context.Context, namespace, group string) error {
	_, err := c.api.CreateGroup(ctx, &quicksight.CreateGroupInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
		GroupName:    aws.String(group),
		Description:  aws.String("Managed by quicksight-admin"),
	})
	if err != nil {
		return fmt.Errorf("creating group [%s/%s]: %w", namespace, group, err)
	}
	return nil
}

func (c *Client) DeleteGroup(ctx context.Context, namespace, group string) error {
	_, err := c.api.DeleteGroup(ctx, &quicksight.DeleteGroupInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
		GroupName:    aws.String(group),
	})
	if err != nil {
		return fmt.Errorf("deleting group [%s/%s]: %w", namespace, group, err)
	}
	return nil
}

func (c *Client) ListGroupMembers(ctx context.Context, namespace, group string) ([]string, error) {
	var out []string
	var next *string
	for {
		page, err := c.api.ListGroupMemberships(ctx, &quicksight.ListGroupMembershipsInput{
			AwsAccountId: aws.String(c.accountID),
			Namespace:    aws.String(namespace),
			GroupName:    aws.String(group),
			MaxResults:   aws.Int32(maxPageSize),
			NextToken:    next,
		})
		if err != nil {
			return nil, fmt.Errorf("listing members of group [%s/%s]: %w", namespace, group, err)
		}
		for _, member := range page.GroupMemberList {
			name := aws.ToString(member.MemberName)
			email, governed := c.emailOf(name)
			if !governed {
				log.Debugf("Member [%s] of group [%s/%s] did not come through the federation role, leaving it alone", name, namespace, group)
				continue
			}
			out = append(out, email)
		}
		next = page.NextToken
		if next == nil {
			break
		}
	}
	return out, nil
}

func (c *Client) AddGroupMember(ctx context.Context, namespace, group, email string) error {
	_, err := c.api.CreateGroupMembership(ctx, &quicksight.CreateGroupMembershipInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
		GroupName:    aws.String(group),
		MemberName:   aws.String(c.userName(email)),
	})
	if err != nil {
		return fmt.Errorf("adding [%s] to group [%s/%s]: %w", email, namespace, group, err)
	}
	return nil
}

func (c *Client) RemoveGroupMember(ctx context.Context, namespace, group, email string) error {
	_, err := c.api.DeleteGroupMembership(ctx, &quicksight.DeleteGroupMembershipInput{
		AwsAccountId: aws.String(c.accountID),
		Namespace:    aws.String(namespace),
		GroupName:    aws.String(group),
		MemberName:   aws.String(c.userName(email)),
	})
	if err != nil {
		return fmt.Errorf("removing [%s] from group [%s/%s]: %w", email, namespace, group, err)
	}
	return nil
}

// ResolveAsset scans the category's listing for a name match. Asset names
// are not unique keys in QuickSight itself, but the governance contract
// treats them as such; the first match wins.
func (c *Client) ResolveAsset(ctx context.Context, category, name string) (string, error) {
	var next *string
	for {
		var token *string
		switch category {
		case "dataset":
			page, err := c.api.ListDataSets(ctx, &quicksight.ListDataSetsInput{AwsAccountId: aws.String(c.accountID), NextToken: next})
			if err != nil {
				return "", fmt.Errorf("listing datasets: %w", err)
			}
			for _, summary := range page.DataSetSummaries {
				if aws.ToString(summary.Name) == name {
					return aws.ToString(summary.DataSetId), nil
				}
			}
			token = page.NextToken
		case "dashboard":
			page, err := c.api.ListDashboards(ctx, &quicksight.ListDashboardsInput{AwsAccountId: aws.String(c.accountID), NextToken: next})
			if err != nil {
				return "", fmt.Errorf("listing dashboards: %w", err)
			}
			for _, summary := range page.DashboardSummaryList {
				if aws.ToString(summary.Name) == name {
					return aws.ToString(summary.DashboardId), nil
				}
			}
			token = page.NextToken
		case "analysis":
			page, err := c.api.ListAnalyses(ctx, &quicksight.ListAnalysesInput{AwsAccountId: aws.String(c.accountID), NextToken: next})
			if err != nil {
				return "", fmt.Errorf("listing analyses: %w", err)
			}
			for _, summary := range page.AnalysisSummaryList {
				if aws.ToString(summary.Name) == name {
					return aws.ToString(summary.AnalysisId), nil
				}
			}
			token = page.NextToken
		case "theme":
			page, err := c.api.ListThemes(ctx, &quicksight.ListThemesInput{AwsAccountId: aws.String(c.accountID), NextToken: next})
			if err != nil {
				return "", fmt.Errorf("listing themes: %w", err)
			}
			for _, summary := range page.ThemeSummaryList {
				if aws.ToString(summary.Name) == name {
					return aws.ToString(summary.ThemeId), nil
				}
			}
			token = page.NextToken
		default:
			return "", fmt.Errorf("unknown asset category [%s]", category)
		}
		if token == nil {
			return "", fmt.Errorf("%s [%s]: %w", category, name, ErrAssetNotFound)
		}
		next = token
	}
}

func (c *Client) AssetGrants(ctx context.Context, category, assetID, namespace string) (map[string]state.PermissionLevel, error) {
	perms, err := c.describePermissions(ctx, category, assetID)
	if err != nil {
		return nil, err
	}
	grants := make(map[string]state.PermissionLevel)
	for _, perm := range perms {
		ns, group, ok := parseGroupArn(aws.ToString(perm.Principal))
		if !ok || ns != namespace {
			// User-principal and foreign-namespace grants are outside
			// this tool's authority.
			continue
		}
		grants[group] = levelOf(category, perm.Actions)
	}
	return grants, nil
}

// PutAssetGrant sets a group's level on an asset. The principal's existing
// entry is cleared first: granting alone would not drop actions a previous
// higher level carried.
func (c *Client) PutAssetGrant(ctx context.Context, category, assetID, namespace, group string, level state.PermissionLevel) error {
	principal := aws.String(c.groupArn(namespace, group))
	revoke := []types.ResourcePermission{{Principal: principal, Actions: allActions(category)}}
	if err := c.updatePermissions(ctx, category, assetID, nil, revoke); err != nil {
		return fmt.Errorf("resetting %s [%s] for group [%s/%s]: %w", category, assetID, namespace, group, err)
	}
	grant := []types.ResourcePermission{{Principal: principal, Actions: actionsFor(category, level)}}
	if err := c.updatePermissions(ctx, category, assetID, grant, nil); err != nil {
		return fmt.Errorf("granting %s on %s [%s] to group [%s/%s]: %w", level, category, assetID, namespace, group, err)
	}
	return nil
}

func (c *Client) RevokeAssetGrant(ctx context.Context, category, assetID, namespace, group string) error {
	revoke := []types.ResourcePermission{{
		Principal: aws.String(c.groupArn(namespace, group)),
		Actions:   allActions(category),
	}}
	if err := c.updatePermissions(ctx, category, assetID, nil, revoke); err != nil {
		return fmt.Errorf("revoking %s [%s] from group [%s/%s]: %w", category, assetID, namespace, group, err)
	}
	return nil
}

func (c *Client) describePermissions(ctx context.Context, category, assetID string) ([]types.ResourcePermission, error) {
	account := aws.String(c.accountID)
	switch category {
	case "dataset":
		out, err := c.api.DescribeDataSetPermissions(ctx, &quicksight.DescribeDataSetPermissionsInput{AwsAccountId: account, DataSetId: aws.String(assetID)})
		if err != nil {
			return nil, fmt.Errorf("describing dataset [%s] permissions: %w", assetID, err)
		}
		return out.Permissions, nil
	case "dashboard":
		out, err := c.api.DescribeDashboardPermissions(ctx, &quicksight.DescribeDashboardPermissionsInput{AwsAccountId: account, DashboardId: aws.String(assetID)})
		if err != nil {
			return nil, fmt.Errorf("describing dashboard [%s] permissions: %w", assetID, err)
		}
		return out.Permissions, nil
	case "analysis":
		out, err := c.api.DescribeAnalysisPermissions(ctx, &quicksight.DescribeAnalysisPermissionsInput{AwsAccountId: account, AnalysisId: aws.String(assetID)})
		if err != nil {
			return nil, fmt.Errorf("describing analysis [%s] permissions: %w", assetID, err)
		}
		return out.Permissions, nil
	case "theme":
		out, err := c.api.DescribeThemePermissions(ctx, &quicksight.DescribeThemePermissionsInput{AwsAccountId: account, ThemeId: aws.String(assetID)})
		if err != nil {
			return nil, fmt.Errorf("describing theme [%s] permissions: %w", assetID, err)
		}
		return out.Permissions, nil
	}
	return nil, fmt.Errorf("unknown asset category [%s]", category)
}

func (c *Client) updatePermissions(ctx context.Context, category, assetID string, grant, revoke []types.ResourcePermission) error {
	account := aws.String(c.accountID)
	var err error
	switch category {
	case "dataset":
		_, err = c.api.UpdateDataSetPermissions(ctx, &quicksight.UpdateDataSetPermissionsInput{
			AwsAccountId: account, DataSetId: aws.String(assetID),
			GrantPermissions: grant, RevokePermissions: revoke,
		})
	case "dashboard":
		_, err = c.api.UpdateDashboardPermissions(ctx, &quicksight.UpdateDashboardPermissionsInput{
			AwsAccountId: account, DashboardId: aws.String(assetID),
			GrantPermissions: grant, RevokePermissions: revoke,
		})
	case "analysis":
		_, err = c.api.UpdateAnalysisPermissions(ctx, &quicksight.UpdateAnalysisPermissionsInput{
			AwsAccountId: account, AnalysisId: aws.String(assetID),
			GrantPermissions: grant, RevokePermissions: revoke,
		})
	case "theme":
		_, err = c.api.UpdateThemePermissions(ctx, &quicksight.UpdateThemePermissionsInput{
			AwsAccountId: account, ThemeId: aws.String(assetID),
			GrantPermissions: grant, RevokePermissions: revoke,
		})
	default:
		return fmt.Errorf("unknown asset category [%s]", category)
	}
	return err
}
