package overrides

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	account string
	err     error
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

type fakeS3 struct {
	objects map[string]string
	err     error
	bucket  string
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = aws.ToString(params.Bucket)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[f.bucket+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

const document = `{
  "dlc-benchmark": {
    "abc123": ["multinode"],
    "def456": []
  }
}`

func TestFetch(t *testing.T) {
	s3Client := &fakeS3{objects: map[string]string{"dlc-cicd-helper-123456789012/override_tests_flags.json": document}}
	flags, err := Fetch(context.TODO(), &fakeSTS{account: "123456789012"}, s3Client)
	require.NoError(t, err)
	assert.Equal(t, "dlc-cicd-helper-123456789012", s3Client.bucket)
	assert.Equal(t, []string{"multinode"}, flags["dlc-benchmark"]["abc123"])
}

func TestFetch_APIErrorsYieldNoOverrides(t *testing.T) {
	flags, err := Fetch(context.TODO(), &fakeSTS{account: "123456789012"}, &fakeS3{})
	require.NoError(t, err)
	assert.Empty(t, flags)

	flags, err = Fetch(context.TODO(), &fakeSTS{err: &smithy.GenericAPIError{Code: "ExpiredToken"}}, &fakeS3{})
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestFetch_OtherErrorsPropagate(t *testing.T) {
	_, err := Fetch(context.TODO(), &fakeSTS{account: "1"}, &fakeS3{err: errors.New("connection reset")})
	assert.Error(t, err)
}

func TestIsDisabled(t *testing.T) {
	flags, err := Parse([]byte(document))
	require.NoError(t, err)

	tests := []struct {
		name     string
		test     string
		build    string
		version  string
		disabled bool
	}{
		{name: "keyword match", test: "test_performance_multinode", build: "dlc-benchmark", version: "abc123", disabled: true},
		{name: "keyword miss", test: "test_performance_singlenode", build: "dlc-benchmark", version: "abc123"},
		{name: "empty list disables all", test: "anything", build: "dlc-benchmark", version: "def456", disabled: true},
		{name: "other version", test: "test_performance_multinode", build: "dlc-benchmark", version: "zzz"},
		{name: "other build", test: "test_performance_multinode", build: "dlc-pr", version: "abc123"},
		{name: "no build info", test: "test_performance_multinode", version: "abc123"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.disabled, flags.IsDisabled(tc.test, tc.build, tc.version))
			assert.Equal(t, tc.disabled, flags.For(tc.build, tc.version).IsDisabled(tc.test))
		})
	}
}

func TestBuildNameFromARN(t *testing.T) {
	assert.Equal(t, "dlc-benchmark", BuildNameFromARN("arn:aws:codebuild:us-west-2:123456789012:build/dlc-benchmark:8f7a2b"))
	assert.Equal(t, "", BuildNameFromARN(""))
	assert.Equal(t, "project", BuildNameFromARN("project"))
}
