package session

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConfigLoad replaces config loading and records the resolved load options
func stubConfigLoad(t *testing.T, loadErr error) *config.LoadOptions {
	t.Helper()

	captured := &config.LoadOptions{}
	original := configLoadFunc
	configLoadFunc = func(_ context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			if err := fn(captured); err != nil {
				return aws.Config{}, err
			}
		}
		if loadErr != nil {
			return aws.Config{}, loadErr
		}
		return aws.Config{Region: captured.Region, Credentials: captured.Credentials}, nil
	}
	t.Cleanup(func() {
		configLoadFunc = original
	})
	return captured
}

func TestNewSessionDefaults(t *testing.T) {
	captured := stubConfigLoad(t, nil)

	s, err := NewSession(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", captured.Region)
	assert.Equal(t, DefaultMaxRetries, captured.RetryMaxAttempts)
	assert.Equal(t, aws.RetryModeStandard, captured.RetryMode)
	assert.Nil(t, captured.Credentials)

	client, err := s.Client()
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, "us-east-1", s.AWSConfig().Region)
	assert.Equal(t, DefaultMaxRetries, s.Config().MaxRetries)
}

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	captured := stubConfigLoad(t, nil)

	_, err := LoadAWSConfig(context.Background(), &Config{
		Region:          "eu-west-1",
		MaxRetries:      5,
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
	})
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", captured.Region)
	assert.Equal(t, 5, captured.RetryMaxAttempts)
	require.NotNil(t, captured.Credentials)

	creds, err := captured.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "SECRET", creds.SecretAccessKey)
}

func TestLoadAWSConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		loadErr error
		want    string
	}{
		{"half static credentials", &Config{AccessKeyID: "AKID"}, nil, "static credentials"},
		{"load failure", &Config{}, errors.New("no profile"), "failed to load AWS config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubConfigLoad(t, tt.loadErr)

			_, err := LoadAWSConfig(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadAWSConfigAssumeRole(t *testing.T) {
	stubConfigLoad(t, nil)

	awsConfig, err := LoadAWSConfig(context.Background(), &Config{
		Region:        "us-east-1",
		AssumeRoleARN: "arn:aws:iam::123456789012:role/reader",
	})
	require.NoError(t, err)

	_, ok := awsConfig.Credentials.(*aws.CredentialsCache)
	assert.True(t, ok)
}

func TestNilSessionClient(t *testing.T) {
	var s *Session
	_, err := s.Client()
	assert.Error(t, err)
}
