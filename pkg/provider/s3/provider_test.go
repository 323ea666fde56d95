package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/glourbee/pkg/provider"
)

// fakeS3 is a path-style bucket holding objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	types   map[string]string
	status  int
}

func newFakeS3(t *testing.T, bucket string) (*fakeS3, string) {
	t.Helper()
	f := &fakeS3{bucket: bucket, objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<Error><Code>NoSuchBucket</Code><Message>missing</Message></Error>`)
		return
	}
	switch r.Method {
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestSink(t *testing.T, bucket, endpoint string) *Provider {
	t.Helper()
	p, err := New(context.Background(), Config{
		Bucket:          bucket,
		Region:          "eu-west-3",
		Endpoint:        endpoint,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_PublishAndHead(t *testing.T) {
	ctx := context.Background()
	fake, url := newFakeS3(t, "results")
	p := newTestSink(t, "results", url)
	assert.Equal(t, "results", p.Bucket())

	_, err := p.Head(ctx, "runs/metrics.csv")
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))

	data := []byte("DATE,DGO_FID\n2020-01-01,1\n")
	require.NoError(t, provider.Publish(ctx, p, "runs/metrics.csv", data, "text/csv", false))
	assert.Equal(t, data, fake.objects["runs/metrics.csv"])
	assert.Equal(t, "text/csv", fake.types["runs/metrics.csv"])

	meta, err := p.Head(ctx, "runs/metrics.csv")
	require.NoError(t, err)
	assert.Equal(t, "abc123", meta.ETag)
	assert.Equal(t, int64(len(data)), meta.Size)

	err = provider.Publish(ctx, p, "runs/metrics.csv", []byte("x"), "text/csv", false)
	assert.True(t, provider.IsExists(err))
	assert.Equal(t, data, fake.objects["runs/metrics.csv"])

	require.NoError(t, provider.Publish(ctx, p, "runs/metrics.csv", []byte("x"), "text/csv", true))
	assert.Equal(t, []byte("x"), fake.objects["runs/metrics.csv"])
}

func TestProvider_ErrorMapping(t *testing.T) {
	ctx := context.Background()

	t.Run("missing bucket", func(t *testing.T) {
		_, url := newFakeS3(t, "results")
		p := newTestSink(t, "other", url)
		err := p.PutObject(ctx, "k", bytes.NewReader([]byte("x")), 1, "")
		require.Error(t, err)
		assert.True(t, provider.IsBucketNotFound(err), "%v", err)
	})

	t.Run("forbidden head", func(t *testing.T) {
		fake, url := newFakeS3(t, "results")
		fake.status = http.StatusForbidden
		p := newTestSink(t, "results", url)
		_, err := p.Head(ctx, "k")
		require.Error(t, err)
		assert.True(t, provider.IsAccessDenied(err), "%v", err)

		var pe *provider.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "Head", pe.Op)
		assert.Equal(t, "k", pe.Key)
	})
}

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestWrapError(t *testing.T) {
	p := &Provider{bucket: "b"}
	tests := []struct {
		err  error
		want error
	}{
		{&apiError{"NoSuchKey"}, provider.ErrNotFound},
		{&apiError{"NoSuchBucket"}, provider.ErrBucketNotFound},
		{&apiError{"AccessDenied"}, provider.ErrAccessDenied},
		{&apiError{"SignatureDoesNotMatch"}, provider.ErrInvalidCredentials},
		{&apiError{"SlowDown"}, provider.ErrThrottled},
		{&apiError{"InternalError"}, provider.ErrProviderUnavailable},
		{errors.New("StatusCode: 404, NotFound"), provider.ErrNotFound},
		{errors.New("StatusCode: 503"), provider.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := p.wrapError("PutObject", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	err := p.wrapError("PutObject", "k", &apiError{"Weird"})
	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Weird", pe.Err.Error())
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Bucket: "b", AccessKeyID: "id"}).Validate())
	assert.NoError(t, (&Config{Bucket: "b"}).Validate())
	assert.NoError(t, (&Config{Bucket: "b", AccessKeyID: "id", SecretAccessKey: "s"}).Validate())

	var ce *ConfigError
	_, err := New(context.Background(), Config{})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "s3 config: Bucket: bucket name is required", err.Error())
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("", "", "eu-west-1"))
	assert.Equal(t, "eu-west-3", resolveRegion("eu-west-3", "", ""))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", "", ""))
	assert.Empty(t, resolveRegion("", "http://minio:9000", ""))
}

func TestCleanETag(t *testing.T) {
	assert.Equal(t, "abc", cleanETag(`"abc"`))
	assert.Equal(t, "abc", cleanETag("abc"))
}
