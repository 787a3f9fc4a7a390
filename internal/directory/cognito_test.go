package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"subgate/pkg/problems"
)

type fakeCognito struct {
	users     []types.UserType
	listErr   error
	mutateErr error

	filters []string
	added   []string
	removed []string
}

func (f *fakeCognito) ListUsers(_ context.Context, in *cip.ListUsersInput, _ ...func(*cip.Options)) (*cip.ListUsersOutput, error) {
	f.filters = append(f.filters, aws.ToString(in.Filter))
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &cip.ListUsersOutput{Users: f.users}, nil
}

func (f *fakeCognito) AdminAddUserToGroup(_ context.Context, in *cip.AdminAddUserToGroupInput, _ ...func(*cip.Options)) (*cip.AdminAddUserToGroupOutput, error) {
	f.added = append(f.added, aws.ToString(in.UserPoolId)+"/"+aws.ToString(in.Username)+"/"+aws.ToString(in.GroupName))
	return &cip.AdminAddUserToGroupOutput{}, f.mutateErr
}

func (f *fakeCognito) AdminRemoveUserFromGroup(_ context.Context, in *cip.AdminRemoveUserFromGroupInput, _ ...func(*cip.Options)) (*cip.AdminRemoveUserFromGroupOutput, error) {
	f.removed = append(f.removed, aws.ToString(in.UserPoolId)+"/"+aws.ToString(in.Username)+"/"+aws.ToString(in.GroupName))
	return &cip.AdminRemoveUserFromGroupOutput{}, f.mutateErr
}

func TestCognito_FindUsersFiltersByExactUsername(t *testing.T) {
	api := &fakeCognito{users: []types.UserType{
		{Username: aws.String("jane"), Enabled: true},
		{Username: aws.String("jane-disabled"), Enabled: false},
	}}
	d := NewCognito(api, "pool-1")

	got, err := d.FindUsers(context.Background(), `ja"ne\`, false)
	if err != nil {
		t.Fatalf("FindUsers: %v", err)
	}
	if len(got) != 1 || got[0] != "jane" {
		t.Fatalf("users = %v", got)
	}
	if want := `username = "ja\"ne\\"`; api.filters[0] != want {
		t.Fatalf("filter = %s, want %s", api.filters[0], want)
	}
}

func TestCognito_Mutations(t *testing.T) {
	api := &fakeCognito{}
	d := NewCognito(api, "pool-1")

	if err := d.AddUserToGroup(context.Background(), "jane", "paid_subscribers"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.RemoveUserFromGroup(context.Background(), "jane", "paid_subscribers"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(api.added) != 1 || api.added[0] != "pool-1/jane/paid_subscribers" {
		t.Fatalf("added = %v", api.added)
	}
	if len(api.removed) != 1 || api.removed[0] != "pool-1/jane/paid_subscribers" {
		t.Fatalf("removed = %v", api.removed)
	}
}

func TestCognito_ErrorClassification(t *testing.T) {
	d := NewCognito(&fakeCognito{mutateErr: &types.UserNotFoundException{Message: aws.String("gone")}}, "pool-1")
	if err := d.AddUserToGroup(context.Background(), "jane", "g"); !errors.Is(err, problems.ErrResolution) {
		t.Fatalf("err = %v, want resolution failure", err)
	}

	d = NewCognito(&fakeCognito{mutateErr: errors.New("throttled")}, "pool-1")
	if err := d.RemoveUserFromGroup(context.Background(), "jane", "g"); !errors.Is(err, problems.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}

	d = NewCognito(&fakeCognito{listErr: errors.New("timeout")}, "pool-1")
	if _, err := d.FindUsers(context.Background(), "jane", false); !errors.Is(err, problems.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}

func TestMemory_IdempotentMembership(t *testing.T) {
	m := NewMemory("jane")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := m.AddUserToGroup(ctx, "jane", "paid_subscribers"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if got := m.Members("paid_subscribers"); len(got) != 1 || got[0] != "jane" {
		t.Fatalf("members = %v", got)
	}
	for i := 0; i < 2; i++ {
		if err := m.RemoveUserFromGroup(ctx, "jane", "paid_subscribers"); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	if m.IsMember("jane", "paid_subscribers") {
		t.Fatal("jane still a member")
	}
	if users, _ := m.FindUsers(ctx, "john", true); len(users) != 0 {
		t.Fatalf("unexpected users %v", users)
	}
}

func TestParseSeed(t *testing.T) {
	got, err := ParseSeed(`["jane", " ", "joe "]`)
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	if len(got) != 2 || got[0] != "jane" || got[1] != "joe" {
		t.Fatalf("seed = %v", got)
	}
	if got, err := ParseSeed(""); err != nil || got != nil {
		t.Fatalf("empty seed = %v, %v", got, err)
	}
	if _, err := ParseSeed(`{"jane":true}`); err == nil {
		t.Fatal("expected error for non-array seed")
	}
}

func TestCognito_FindUsersIncludesDisabledOnRequest(t *testing.T) {
	api := &fakeCognito{users: []types.UserType{{Username: aws.String("jane"), Enabled: false}}}
	d := NewCognito(api, "pool-1")

	if got, err := d.FindUsers(context.Background(), "jane", false); err != nil || len(got) != 0 {
		t.Fatalf("enabled-only = %v, %v", got, err)
	}
	got, err := d.FindUsers(context.Background(), "jane", true)
	if err != nil || len(got) != 1 || got[0] != "jane" {
		t.Fatalf("including disabled = %v, %v", got, err)
	}
}

func TestMemory_DisableUser(t *testing.T) {
	m := NewMemory("jane")
	m.DisableUser("jane")
	m.DisableUser("ghost")
	ctx := context.Background()
	if users, _ := m.FindUsers(ctx, "jane", false); len(users) != 0 {
		t.Fatalf("disabled user returned: %v", users)
	}
	if users, _ := m.FindUsers(ctx, "jane", true); len(users) != 1 {
		t.Fatalf("disabled user hidden: %v", users)
	}
	if users, _ := m.FindUsers(ctx, "ghost", true); len(users) != 0 {
		t.Fatalf("unknown user returned: %v", users)
	}
}
