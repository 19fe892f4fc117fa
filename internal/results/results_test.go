package results

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"
)

type fakeS3 struct {
	failures int
	calls    int
	bucket   string
	key      string
	body     string
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("slow down")
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.bucket = aws.ToString(params.Bucket)
	f.key = aws.ToString(params.Key)
	f.body = string(data)
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3URI(t *testing.T) {
	loc, err := ParseS3URI("s3://dlinfra-dlc-cicd-performance/test/")
	require.NoError(t, err)
	assert.Equal(t, Location{Bucket: "dlinfra-dlc-cicd-performance", Prefix: "test"}, loc)
	assert.Equal(t, "s3://dlinfra-dlc-cicd-performance/test", loc.String())

	loc, err = ParseS3URI("bucket")
	require.NoError(t, err)
	assert.Equal(t, Location{Bucket: "bucket"}, loc)

	_, err = ParseS3URI("s3://")
	assert.Error(t, err)
}

func TestKeyFor(t *testing.T) {
	loc := Location{Bucket: "b", Prefix: "test"}
	key := Key{
		Framework:        "tensorflow",
		FrameworkVersion: "2.12.0",
		Platform:         "sagemaker",
		Job:              "training",
		Device:           "gpu",
		PythonVersion:    "py310",
		File:             "results.txt",
	}
	assert.Equal(t, "test/tensorflow/2.12.0/sagemaker/training/gpu/py310/results.txt", loc.KeyFor(key))

	key.Failed = true
	assert.Equal(t, "test/tensorflow/2.12.0/sagemaker/training/gpu/py310/failure_log/results.txt", loc.KeyFor(key))

	assert.Equal(t, "tensorflow/2.12.0/sagemaker/training/gpu/py310/failure_log/results.txt", Location{Bucket: "b"}.KeyFor(key))
}

func TestUpload_Retries(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "results.txt")
	require.NoError(t, os.WriteFile(logPath, []byte("images/sec: 10.0\n"), 0644))

	client := &fakeS3{failures: 2}
	u := NewUploader(client, Location{Bucket: "bucket", Prefix: "perf"}).
		WithBackoff(wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 5})

	uri, err := u.Upload(context.TODO(), logPath, "perf/results.txt")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/perf/results.txt", uri)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, "bucket", client.bucket)
	assert.Equal(t, "perf/results.txt", client.key)
	assert.Equal(t, "images/sec: 10.0\n", client.body)
}

func TestUpload_GivesUp(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "results.txt")
	require.NoError(t, os.WriteFile(logPath, []byte("x"), 0644))

	client := &fakeS3{failures: 100}
	u := NewUploader(client, Location{Bucket: "bucket"}).
		WithBackoff(wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 3})

	_, err := u.Upload(context.TODO(), logPath, "results.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
	assert.Equal(t, 3, client.calls)
}

func TestUpload_MissingFile(t *testing.T) {
	client := &fakeS3{}
	u := NewUploader(client, Location{Bucket: "bucket"})
	_, err := u.Upload(context.TODO(), filepath.Join(t.TempDir(), "nope.txt"), "nope.txt")
	assert.Error(t, err)
	assert.Equal(t, 0, client.calls)
}
