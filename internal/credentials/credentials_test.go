package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCredentials(t *testing.T) {
	ctx := context.Background()

	creds, err := Static{AccessKeyID: "AKID", SecretAccessKey: "secret"}.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)

	_, err = Static{AccessKeyID: "AKID"}.Credentials(ctx)
	assert.ErrorIs(t, err, ErrAuthRequired)

	expired := Static{AccessKeyID: "AKID", SecretAccessKey: "secret", CanExpire: true, Expires: time.Now().Add(-time.Minute)}
	_, err = expired.Credentials(ctx)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestAWSProviderMapsFailuresToAuthRequired(t *testing.T) {
	ctx := context.Background()

	failing := NewAWSProviderFrom(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, errors.New("no profile")
	}), "us-east-1")
	_, err := failing.Credentials(ctx)
	assert.ErrorIs(t, err, ErrAuthRequired)

	expired := NewAWSProviderFrom(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "a", SecretAccessKey: "b", CanExpire: true, Expires: time.Now().Add(-time.Second)}, nil
	}), "us-east-1")
	_, err = expired.Credentials(ctx)
	assert.ErrorIs(t, err, ErrAuthRequired)

	ok := NewAWSProviderFrom(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "a", SecretAccessKey: "b", SessionToken: "t"}, nil
	}), "eu-west-1")
	creds, err := ok.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t", creds.SessionToken)
	assert.Equal(t, "eu-west-1", ok.Region())
}

func TestSDKProviderRoundTrip(t *testing.T) {
	sdk := SDKProvider(Static{AccessKeyID: "AKID", SecretAccessKey: "secret", SessionToken: "tok"})
	got, err := sdk.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", got.AccessKeyID)
	assert.Equal(t, "tok", got.SessionToken)
}
