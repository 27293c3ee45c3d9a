package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: strPtr("v")}}}
	c, err := New(api)
	require.NoError(t, err)

	v, err := c.GetParameter(context.Background(), " /relay/x ")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, "/relay/x", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)

	_, err = c.GetParameter(context.Background(), "")
	require.Error(t, err)
}

func TestGetParameter_Failures(t *testing.T) {
	c, _ := New(&fakeAPI{getErr: errors.New("denied")})
	_, err := c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "denied")

	c, _ = New(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{}}})
	_, err = c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestSecret(t *testing.T) {
	g := mapGetter{
		"/relay/openai-key":   `{"token":"sk-123"}`,
		"/relay/twilio-token": "plain-token",
		"/relay/empty":        `{"token":""}`,
	}
	cases := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"openai-key", "sk-123", false},
		{"/twilio-token", "plain-token", false},
		{"empty", "", true},
		{"missing", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Secret(context.Background(), g, "/relay/", tc.name)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
