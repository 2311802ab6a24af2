// Package s3 provides an S3-compatible storage backend (AWS S3, MinIO,
// Ceph RGW and friends).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/sly67/blobd/internal/logging"
	"github.com/sly67/blobd/internal/metrics"
	"github.com/sly67/blobd/internal/storage"
)

// Config holds S3 backend settings.
type Config struct {
	Endpoint       string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	ForcePathStyle bool
	PublicBaseURL  string
	OpTimeout      time.Duration
}

// s3API is the subset of the S3 client used by the backend.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// presignAPI is the subset of the S3 presign client used by the backend.
type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Backend implements storage.Backend using S3-compatible object storage.
type Backend struct {
	client     s3API
	presign    presignAPI
	bucket     string
	endpoint   string
	publicBase string
	pathStyle  bool
	opTimeout  time.Duration
}

// New creates a new S3 backend and verifies the bucket exists, creating
// it when possible.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "s3.New", Err: fmt.Errorf("bucket is required")}
	}
	if cfg.Endpoint == "" {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "s3.New", Err: fmt.Errorf("endpoint is required")}
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "s3.New", Err: fmt.Errorf("access key and secret key must be set together")}
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &storage.Error{Kind: storage.KindConfig, Op: "s3.New", Err: fmt.Errorf("load aws config: %w", err)}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = cfg.ForcePathStyle
	})

	backend := &Backend{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		publicBase: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		pathStyle:  cfg.ForcePathStyle,
		opTimeout:  cfg.OpTimeout,
	}

	if err := backend.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return backend, nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if createErr != nil {
		metrics.RecordStorageOperation("s3", "create_bucket", time.Since(start), false)
		return &storage.Error{Kind: storage.KindConfig, Op: "s3.New", Err: fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)}
	}
	metrics.RecordStorageOperation("s3", "create_bucket", time.Since(start), true)
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// opCtx bounds a single backend call with the configured timeout.
func (b *Backend) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.opTimeout)
}

// Open retrieves an object from S3, forwarding conditional and range
// headers verbatim. The timeout covers only the call phase; streaming
// the body afterwards is unbounded, and closing the body releases the
// request context.
func (b *Backend) Open(ctx context.Context, key string, cond storage.Conditional) (*storage.Content, error) {
	start := time.Now()

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}
	if cond.IfMatch != "" {
		input.IfMatch = aws.String(cond.IfMatch)
	}
	if cond.IfNoneMatch != "" {
		input.IfNoneMatch = aws.String(cond.IfNoneMatch)
	}
	if cond.IfModifiedSince != "" {
		if t, err := http.ParseTime(cond.IfModifiedSince); err == nil {
			input.IfModifiedSince = aws.Time(t)
		}
	}
	if cond.IfUnmodifiedSince != "" {
		if t, err := http.ParseTime(cond.IfUnmodifiedSince); err == nil {
			input.IfUnmodifiedSince = aws.Time(t)
		}
	}
	if cond.Range != "" {
		input.Range = aws.String(cond.Range)
	}

	ctx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	if b.opTimeout > 0 {
		t := time.AfterFunc(b.opTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer t.Stop()
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		cancel()
		if respErr, ok := notModified(err); ok {
			metrics.RecordStorageOperation("s3", "get_object", time.Since(start), true)
			content := &storage.Content{
				Body:   http.NoBody,
				Status: http.StatusNotModified,
				ETag:   respErr.Response.Header.Get("ETag"),
			}
			if lm, parseErr := http.ParseTime(respErr.Response.Header.Get("Last-Modified")); parseErr == nil {
				content.LastModified = lm
			}
			return content, nil
		}
		metrics.RecordStorageOperation("s3", "get_object", time.Since(start), false)
		if timedOut.Load() {
			return nil, &storage.Error{Kind: storage.KindTimeout, Op: "get_object", Key: key, Err: err}
		}
		return nil, classify("get_object", key, err)
	}
	metrics.RecordStorageOperation("s3", "get_object", time.Since(start), true)

	content := &storage.Content{
		Body:   &cancelReadCloser{ReadCloser: result.Body, cancel: cancel},
		Status: http.StatusOK,
	}
	if result.ContentLength != nil {
		content.Size = *result.ContentLength
	}
	if result.ContentType != nil {
		content.ContentType = *result.ContentType
	}
	if result.ETag != nil {
		content.ETag = *result.ETag
	}
	if result.LastModified != nil {
		content.LastModified = *result.LastModified
	}
	if result.ContentRange != nil {
		content.Status = http.StatusPartialContent
		content.ContentRange = *result.ContentRange
	}
	return content, nil
}

// Stat returns object metadata via HeadObject.
func (b *Backend) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	start := time.Now()
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordStorageOperation("s3", "head_object", time.Since(start), false)
		return nil, classify("head_object", key, err)
	}
	metrics.RecordStorageOperation("s3", "head_object", time.Since(start), true)

	info := &storage.ObjectInfo{
		Key:      key,
		Filename: path.Base(key),
	}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	if result.ETag != nil {
		info.ETag = *result.ETag
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

// Put uploads an object to S3.
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (*storage.ObjectInfo, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	start := time.Now()
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	result, err := b.client.PutObject(ctx, input)
	if err != nil {
		metrics.RecordStorageOperation("s3", "put_object", time.Since(start), false)
		return nil, classify("put_object", key, err)
	}
	metrics.RecordStorageOperation("s3", "put_object", time.Since(start), true)
	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size))

	info := &storage.ObjectInfo{
		Key:          key,
		Filename:     path.Base(key),
		Size:         size,
		ContentType:  contentType,
		LastModified: time.Now(),
	}
	if result.ETag != nil {
		info.ETag = *result.ETag
	}
	return info, nil
}

// Delete removes an object. S3 treats deleting a missing key as success,
// so the operation is naturally idempotent.
func (b *Backend) Delete(ctx context.Context, key string) error {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordStorageOperation("s3", "delete_object", time.Since(start), false)
		return classify("delete_object", key, err)
	}
	metrics.RecordStorageOperation("s3", "delete_object", time.Since(start), true)
	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

// List returns the names of objects directly under prefix, using "/" as
// delimiter so deeper keys are excluded.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	start := time.Now()
	names := []string{}
	var token *string
	for {
		result, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			metrics.RecordStorageOperation("s3", "list_objects", time.Since(start), false)
			return nil, classify("list_objects", prefix, err)
		}
		for _, obj := range result.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" {
				// Placeholder object for the prefix itself
				continue
			}
			names = append(names, name)
		}
		if result.IsTruncated == nil || !*result.IsTruncated {
			break
		}
		token = result.NextContinuationToken
	}
	metrics.RecordStorageOperation("s3", "list_objects", time.Since(start), true)
	return names, nil
}

// SignedURL presigns a GetObject request for key. Signing happens
// locally, no request is sent and the object's existence is not checked.
func (b *Backend) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("presign_get_object", key, err)
	}
	return req.URL, nil
}

// PublicURL returns the unauthenticated URL for key.
func (b *Backend) PublicURL(key string) string {
	if b.publicBase != "" {
		return b.publicBase + "/" + key
	}
	if b.pathStyle {
		return b.endpoint + "/" + b.bucket + "/" + key
	}
	u, err := url.Parse(b.endpoint)
	if err != nil || u.Host == "" {
		return b.endpoint + "/" + b.bucket + "/" + key
	}
	u.Host = b.bucket + "." + u.Host
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + key
	return u.String()
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }

// notModified reports whether err is an HTTP 304 response, which the SDK
// surfaces as an error on conditional GetObject calls.
func notModified(err error) (*awshttp.ResponseError, bool) {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotModified {
		return respErr, true
	}
	return nil, false
}

// classify maps SDK errors onto the storage error kinds.
func classify(op, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFoundErr *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFoundErr) {
		return &storage.Error{Kind: storage.KindNotFound, Op: op, Key: key, Err: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return &storage.Error{Kind: storage.KindNotFound, Op: op, Key: key, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &storage.Error{Kind: storage.KindTimeout, Op: op, Key: key, Err: err}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return &storage.Error{Kind: storage.KindUpstream, Op: op, Key: key, Status: respErr.HTTPStatusCode(), Err: err}
	}
	return &storage.Error{Kind: storage.KindUpstream, Op: op, Key: key, Err: err}
}

// cancelReadCloser releases the request context when the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
