package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/glourbee/pkg/provider"
)

// Provider is a result sink bound to one bucket.
type Provider struct {
	client *s3.Client
	bucket string
}

var _ provider.Sink = (*Provider)(nil)

// New validates cfg and builds the S3 client.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := sdkConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}

	return &Provider{
		bucket: cfg.Bucket,
		client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
	}, nil
}

func sdkConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var load []func(*config.LoadOptions) error
	if cfg.Region != "" {
		load = append(load, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		load = append(load, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		load = append(load, config.WithCredentialsProvider(static))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Bucket returns the destination bucket.
func (p *Provider) Bucket() string { return p.bucket }

// Head fetches object metadata; a missing object yields provider.ErrNotFound.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &p.bucket, Key: &key})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return &provider.ObjectMeta{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         cleanETag(aws.ToString(out.ETag)),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
	}, nil
}

// PutObject writes body as a single-part upload.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        &p.bucket,
		Key:           &key,
		Body:          body,
		ContentLength: &contentLength,
	}
	if contentType != "" {
		in.ContentType = &contentType
	}
	_, err := p.client.PutObject(ctx, in)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

func (p *Provider) Close() error { return nil }

// errorCodes maps S3 API error codes to sink sentinels.
var errorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrProviderUnavailable,
	"InternalError":         provider.ErrProviderUnavailable,
}

// messageHints classify errors with no known API code, e.g. HEAD responses
// which have no body. Order matters: the first match wins.
var messageHints = []struct {
	needles []string
	err     error
}{
	{[]string{"NoSuchKey", "NotFound", "404"}, provider.ErrNotFound},
	{[]string{"NoSuchBucket"}, provider.ErrBucketNotFound},
	{[]string{"AccessDenied", "Forbidden", "403"}, provider.ErrAccessDenied},
	{[]string{"InvalidAccessKeyId", "SignatureDoesNotMatch"}, provider.ErrInvalidCredentials},
	{[]string{"SlowDown", "Throttling", "429"}, provider.ErrThrottled},
	{[]string{"ServiceUnavailable", "503"}, provider.ErrProviderUnavailable},
}

func (p *Provider) wrapError(op, key string, err error) error {
	pe := &provider.ProviderError{Op: op, Provider: provider.ProviderS3, Bucket: p.bucket, Key: key, Err: err}

	var (
		notFound     *types.NotFound
		noSuchKey    *types.NoSuchKey
		noSuchBucket *types.NoSuchBucket
		apiErr       smithy.APIError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		pe.Err = provider.ErrNotFound
	case errors.As(err, &noSuchBucket):
		pe.Err = provider.ErrBucketNotFound
	case errors.As(err, &apiErr) && errorCodes[apiErr.ErrorCode()] != nil:
		pe.Err = errorCodes[apiErr.ErrorCode()]
	default:
		msg := err.Error()
		for _, h := range messageHints {
			if containsAny(msg, h.needles) {
				pe.Err = h.err
				break
			}
		}
	}
	return pe
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// resolveRegion picks the SDK-resolved region, then the configured one,
// then us-east-1 for AWS proper. Custom endpoints get no default.
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	switch {
	case sdkRegion != "":
		return sdkRegion
	case cfgRegion != "":
		return cfgRegion
	case endpoint == "":
		return DefaultAWSRegion
	}
	return ""
}
