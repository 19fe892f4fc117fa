// Package overrides reads the remote document that switches off tests for a build.
//
// The document lives in the account's CI helper bucket and looks like
//
//	{
//	  "<build project>": {
//	    "<source version>": ["test keyword", ...]
//	  }
//	}
//
// An empty keyword list disables every test for that build and version.
package overrides

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

const (
	BucketPrefix = "dlc-cicd-helper-"
	ObjectKey    = "override_tests_flags.json"
)

type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Flags maps build project -> source version -> test keywords.
type Flags map[string]map[string][]string

// Fetch reads the override document for the caller's account.
// AWS API errors (missing bucket, access denied) are logged and yield no overrides.
func Fetch(ctx context.Context, stsClient STSAPI, s3Client S3API) (Flags, error) {
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return handleAPIError(err)
	}
	bucket := BucketPrefix + aws.ToString(identity.Account)
	out, err := s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(ObjectKey),
	})
	if err != nil {
		return handleAPIError(err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, ObjectKey, err)
	}
	return Parse(data)
}

func handleAPIError(err error) (Flags, error) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		klog.Warningf("failed to read remote test overrides (%s), continuing without them: %v", apiErr.ErrorCode(), err)
		return Flags{}, nil
	}
	return nil, err
}

// Parse decodes an override document.
func Parse(data []byte) (Flags, error) {
	flags := Flags{}
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil, fmt.Errorf("failed to parse test overrides: %w", err)
	}
	return flags, nil
}

// IsDisabled reports whether testName is switched off for the build and source version.
func (f Flags) IsDisabled(testName, buildName, version string) bool {
	if buildName == "" || version == "" {
		return false
	}
	keywords, ok := f[buildName][version]
	if !ok {
		return false
	}
	if len(keywords) == 0 {
		return true
	}
	for _, keyword := range keywords {
		if strings.Contains(testName, keyword) {
			return true
		}
	}
	return false
}

// For binds the flags to one build and source version.
func (f Flags) For(buildName, version string) *Binding {
	return &Binding{flags: f, buildName: buildName, version: version}
}

// Binding checks tests against a single build and source version.
type Binding struct {
	flags     Flags
	buildName string
	version   string
}

func (b *Binding) IsDisabled(testName string) bool {
	return b.flags.IsDisabled(testName, b.buildName, b.version)
}

// BuildNameFromARN extracts the CodeBuild project name from a build ARN such as
// arn:aws:codebuild:us-west-2:123456789012:build/dlc-benchmark:8f7a...
func BuildNameFromARN(arn string) string {
	if arn == "" {
		return ""
	}
	last := arn[strings.LastIndex(arn, "/")+1:]
	name, _, _ := strings.Cut(last, ":")
	return name
}
