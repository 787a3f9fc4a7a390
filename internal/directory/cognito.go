package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"subgate/internal/metrics"
	"subgate/pkg/problems"
)

// CognitoAPI is the subset of the Cognito user pool API the directory uses.
type CognitoAPI interface {
	ListUsers(ctx context.Context, in *cip.ListUsersInput, optFns ...func(*cip.Options)) (*cip.ListUsersOutput, error)
	AdminAddUserToGroup(ctx context.Context, in *cip.AdminAddUserToGroupInput, optFns ...func(*cip.Options)) (*cip.AdminAddUserToGroupOutput, error)
	AdminRemoveUserFromGroup(ctx context.Context, in *cip.AdminRemoveUserFromGroupInput, optFns ...func(*cip.Options)) (*cip.AdminRemoveUserFromGroupOutput, error)
}

// Cognito is a Directory backed by a Cognito user pool.
type Cognito struct {
	api    CognitoAPI
	poolID string
}

func NewCognito(api CognitoAPI, poolID string) *Cognito {
	return &Cognito{api: api, poolID: poolID}
}

// NewCognitoFromEnv builds the SDK client from the default credential chain.
// Requests time out after timeout and are not retried by the SDK.
func NewCognitoFromEnv(ctx context.Context, region, poolID string, timeout time.Duration) (*Cognito, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(1),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(timeout)),
	}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return NewCognito(cip.NewFromConfig(cfg), poolID), nil
}

func (c *Cognito) FindUsers(ctx context.Context, username string, includeDisabled bool) ([]string, error) {
	out, err := c.api.ListUsers(ctx, &cip.ListUsersInput{
		UserPoolId: aws.String(c.poolID),
		Filter:     aws.String(`username = "` + filterQuoter.Replace(username) + `"`),
		Limit:      aws.Int32(2),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", problems.ErrUpstream, err)
	}
	var names []string
	for _, u := range out.Users {
		if !u.Enabled && !includeDisabled {
			continue
		}
		names = append(names, aws.ToString(u.Username))
	}
	return names, nil
}

func (c *Cognito) AddUserToGroup(ctx context.Context, username, group string) error {
	_, err := c.api.AdminAddUserToGroup(ctx, &cip.AdminAddUserToGroupInput{
		UserPoolId: aws.String(c.poolID),
		Username:   aws.String(username),
		GroupName:  aws.String(group),
	})
	metrics.DirectoryMutations.WithLabelValues("add", metrics.Result(err)).Inc()
	return classify("add user to group", err)
}

func (c *Cognito) RemoveUserFromGroup(ctx context.Context, username, group string) error {
	_, err := c.api.AdminRemoveUserFromGroup(ctx, &cip.AdminRemoveUserFromGroupInput{
		UserPoolId: aws.String(c.poolID),
		Username:   aws.String(username),
		GroupName:  aws.String(group),
	})
	metrics.DirectoryMutations.WithLabelValues("remove", metrics.Result(err)).Inc()
	return classify("remove user from group", err)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *types.UserNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s: %v", problems.ErrCustomerNotFound, op, err)
	}
	return fmt.Errorf("%w: %s: %v", problems.ErrUpstream, op, err)
}

// filterQuoter escapes a value for a double-quoted ListUsers filter.
var filterQuoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
