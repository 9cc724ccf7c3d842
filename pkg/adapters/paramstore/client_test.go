package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut  *ssm.GetParameterOutput
	getErr  error
	lastIn  *ssm.GetParameterInput
	callCnt int
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	f.callCnt++
	return f.getOut, f.getErr
}

func withValue(v string) *fakeAPI {
	return &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: aws.String("p"), Value: aws.String(v), Type: types.ParameterTypeSecureString,
	}}}
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := withValue("token-123")
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), " /stepwise/token ")
	require.NoError(t, err)
	require.Equal(t, "token-123", v)
	require.Equal(t, "/stepwise/token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p")}}}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

func TestGetParameter_APIError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_NotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")

	var nilClient *Client
	_, err = nilClient.Resolve(context.Background(), "ssm:/x")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestResolve(t *testing.T) {
	api := withValue("from-ssm")
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.Resolve(context.Background(), "literal")
	require.NoError(t, err)
	require.Equal(t, "literal", v)
	require.Zero(t, api.callCnt)

	v, err = client.Resolve(context.Background(), "ssm:/stepwise/token")
	require.NoError(t, err)
	require.Equal(t, "from-ssm", v)
	require.Equal(t, "/stepwise/token", *api.lastIn.Name)

	require.True(t, IsRef("ssm:/a"))
	require.False(t, IsRef("plain"))
}
