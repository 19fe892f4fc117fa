// Package results uploads benchmark logs to S3.
package results

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

// FailureDir is the key segment that separates logs of failed runs.
const FailureDir = "failure_log"

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Location is an S3 bucket and key prefix.
type Location struct {
	Bucket string
	Prefix string
}

// ParseS3URI parses s3://bucket/prefix. The scheme is optional.
func ParseS3URI(uri string) (Location, error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	bucket, prefix, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("invalid S3 location %q", uri)
	}
	return Location{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

func (l Location) String() string {
	return "s3://" + path.Join(l.Bucket, l.Prefix)
}

// Key identifies where a run's log is stored.
type Key struct {
	Framework        string
	FrameworkVersion string
	Platform         string
	Job              string
	Device           string
	PythonVersion    string
	File             string
	Failed           bool
}

// KeyFor returns <prefix>/<framework>/<version>/<platform>/<job>/<device>/<python>/[failure_log/]<file>.
func (l Location) KeyFor(k Key) string {
	parts := []string{l.Prefix, k.Framework, k.FrameworkVersion, k.Platform, k.Job, k.Device, k.PythonVersion}
	if k.Failed {
		parts = append(parts, FailureDir)
	}
	parts = append(parts, k.File)
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// URI returns the s3:// URI of a key in this location's bucket.
func (l Location) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, key)
}

// Uploader puts log files into a Location.
type Uploader struct {
	client   S3API
	location Location
	backoff  wait.Backoff
}

func NewUploader(client S3API, location Location) *Uploader {
	return &Uploader{
		client:   client,
		location: location,
		backoff: wait.Backoff{
			Duration: 2 * time.Second,
			Factor:   2,
			Jitter:   0.1,
			Steps:    5,
		},
	}
}

// WithBackoff replaces the retry policy.
func (u *Uploader) WithBackoff(backoff wait.Backoff) *Uploader {
	u.backoff = backoff
	return u
}

func (u *Uploader) Location() Location {
	return u.location
}

// Upload stores the file at localPath under key, retrying failed puts. It returns the object's URI.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, u.backoff, func(ctx context.Context) (bool, error) {
		f, err := os.Open(localPath)
		if err != nil {
			return false, err
		}
		defer f.Close()
		_, lastErr = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.location.Bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String("text/plain"),
		})
		if lastErr != nil {
			klog.Warningf("failed to upload %s to %s, retrying: %v", localPath, u.location.URI(key), lastErr)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return "", fmt.Errorf("failed to upload %s to %s: %w", localPath, u.location.URI(key), lastErr)
		}
		return "", fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	uri := u.location.URI(key)
	klog.Infof("uploaded %s to %s", localPath, uri)
	return uri, nil
}
