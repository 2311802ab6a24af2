package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/sly67/blobd/internal/storage"
)

// fakeS3 implements s3API with per-call hooks.
type fakeS3 struct {
	getObject     func(ctx context.Context, params *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	headObject    func(ctx context.Context, params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	putObject     func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	deleteObject  func(ctx context.Context, params *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
	listObjectsV2 func(ctx context.Context, params *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getObject(ctx, params)
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.headObject(ctx, params)
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return f.putObject(ctx, params)
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return f.deleteObject(ctx, params)
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return f.listObjectsV2(ctx, params)
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, nil
}

type fakePresign struct {
	presignGetObject func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

func (f *fakePresign) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return f.presignGetObject(ctx, params, optFns...)
}

func newTestBackend(client s3API, presign presignAPI) *Backend {
	return &Backend{
		client:    client,
		presign:   presign,
		bucket:    "blobd",
		endpoint:  "http://localhost:9000",
		pathStyle: true,
		opTimeout: time.Second,
	}
}

// httpResponseError builds the error shape the SDK surfaces for a raw
// HTTP status (304, 412, 416).
func httpResponseError(status int, header http.Header) *awshttp.ResponseError {
	if header == nil {
		header = http.Header{}
	}
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{
				Response: &http.Response{
					StatusCode: status,
					Header:     header,
				},
			},
			Err: fmt.Errorf("http response error"),
		},
	}
}

func TestOpenForwardsConditionals(t *testing.T) {
	var captured *s3.GetObjectInput
	fake := &fakeS3{
		getObject: func(_ context.Context, params *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			captured = params
			return &s3.GetObjectOutput{
				Body:          io.NopCloser(strings.NewReader("data")),
				ContentLength: aws.Int64(4),
			}, nil
		},
	}
	b := newTestBackend(fake, nil)

	modSince := "Mon, 02 Jan 2006 15:04:05 GMT"
	content, err := b.Open(context.Background(), "s/b/r/f.png", storage.Conditional{
		IfMatch:           `"m1"`,
		IfNoneMatch:       `"m2"`,
		IfModifiedSince:   modSince,
		IfUnmodifiedSince: modSince,
		Range:             "bytes=0-99",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	content.Body.Close()

	if aws.ToString(captured.Bucket) != "blobd" || aws.ToString(captured.Key) != "s/b/r/f.png" {
		t.Errorf("bucket/key: %q %q", aws.ToString(captured.Bucket), aws.ToString(captured.Key))
	}
	if aws.ToString(captured.IfMatch) != `"m1"` {
		t.Errorf("IfMatch %q", aws.ToString(captured.IfMatch))
	}
	if aws.ToString(captured.IfNoneMatch) != `"m2"` {
		t.Errorf("IfNoneMatch %q", aws.ToString(captured.IfNoneMatch))
	}
	if aws.ToString(captured.Range) != "bytes=0-99" {
		t.Errorf("Range %q", aws.ToString(captured.Range))
	}
	want, _ := http.ParseTime(modSince)
	if captured.IfModifiedSince == nil || !captured.IfModifiedSince.Equal(want) {
		t.Errorf("IfModifiedSince %v", captured.IfModifiedSince)
	}
	if captured.IfUnmodifiedSince == nil || !captured.IfUnmodifiedSince.Equal(want) {
		t.Errorf("IfUnmodifiedSince %v", captured.IfUnmodifiedSince)
	}
}

func TestOpenPartialContent(t *testing.T) {
	fake := &fakeS3{
		getObject: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{
				Body:          io.NopCloser(strings.NewReader("2345")),
				ContentLength: aws.Int64(4),
				ContentRange:  aws.String("bytes 2-5/10"),
				ContentType:   aws.String("text/plain"),
				ETag:          aws.String(`"etag1"`),
			}, nil
		},
	}
	b := newTestBackend(fake, nil)

	content, err := b.Open(context.Background(), "s/b/r/f.txt", storage.Conditional{Range: "bytes=2-5"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer content.Body.Close()

	if content.Status != http.StatusPartialContent {
		t.Errorf("status %d, want 206", content.Status)
	}
	if content.ContentRange != "bytes 2-5/10" {
		t.Errorf("content range %q", content.ContentRange)
	}
	if content.Size != 4 {
		t.Errorf("size %d", content.Size)
	}
}

func TestOpenNotModified(t *testing.T) {
	header := http.Header{}
	header.Set("ETag", `"cached"`)
	header.Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")

	fake := &fakeS3{
		getObject: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, fmt.Errorf("operation error S3: GetObject, %w", httpResponseError(http.StatusNotModified, header))
		},
	}
	b := newTestBackend(fake, nil)

	content, err := b.Open(context.Background(), "s/b/r/f.png", storage.Conditional{IfNoneMatch: `"cached"`})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer content.Body.Close()

	if content.Status != http.StatusNotModified {
		t.Fatalf("status %d, want 304", content.Status)
	}
	if content.ETag != `"cached"` {
		t.Errorf("etag %q", content.ETag)
	}
	data, _ := io.ReadAll(content.Body)
	if len(data) != 0 {
		t.Errorf("304 carried a body: %q", data)
	}
	if content.LastModified.IsZero() {
		t.Error("Last-Modified not mapped")
	}
}

func TestOpenPreconditionFailed(t *testing.T) {
	fake := &fakeS3{
		getObject: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, fmt.Errorf("operation error S3: GetObject, %w", httpResponseError(http.StatusPreconditionFailed, nil))
		},
	}
	b := newTestBackend(fake, nil)

	_, err := b.Open(context.Background(), "s/b/r/f.png", storage.Conditional{IfMatch: `"stale"`})
	var serr *storage.Error
	if !errors.As(err, &serr) || serr.Status != http.StatusPreconditionFailed {
		t.Errorf("expected 412 upstream error, got %v", err)
	}
}

func TestOpenNotFound(t *testing.T) {
	fake := &fakeS3{
		getObject: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return nil, fmt.Errorf("operation error S3: GetObject, %w", &types.NoSuchKey{})
		},
	}
	b := newTestBackend(fake, nil)

	_, err := b.Open(context.Background(), "s/b/r/missing.png", storage.Conditional{})
	if !storage.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestStatNotFound(t *testing.T) {
	fake := &fakeS3{
		headObject: func(_ context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, fmt.Errorf("operation error S3: HeadObject, %w", &types.NotFound{})
		},
	}
	b := newTestBackend(fake, nil)

	_, err := b.Stat(context.Background(), "s/b/r/missing.png")
	if !storage.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestStatMapsMetadata(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	fake := &fakeS3{
		headObject: func(_ context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{
				ContentLength: aws.Int64(1024),
				ContentType:   aws.String("image/png"),
				ETag:          aws.String(`"e1"`),
				LastModified:  aws.Time(now),
			}, nil
		},
	}
	b := newTestBackend(fake, nil)

	info, err := b.Stat(context.Background(), "s/b/r/f.png")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 1024 || info.ContentType != "image/png" || info.ETag != `"e1"` {
		t.Errorf("info %+v", info)
	}
	if info.Filename != "f.png" {
		t.Errorf("filename %q", info.Filename)
	}
}

func TestStatTimeout(t *testing.T) {
	fake := &fakeS3{
		headObject: func(ctx context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("operation error S3: HeadObject, %w", ctx.Err())
		},
	}
	b := newTestBackend(fake, nil)
	b.opTimeout = 10 * time.Millisecond

	_, err := b.Stat(context.Background(), "s/b/r/f.png")
	if !storage.IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
}

// The call-phase timer cancels through WithCancel, not WithTimeout, so
// the classification relies on the timer flag rather than the context
// error kind.
func TestOpenCallPhaseTimeout(t *testing.T) {
	fake := &fakeS3{
		getObject: func(ctx context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("operation error S3: GetObject, %w", ctx.Err())
		},
	}
	b := newTestBackend(fake, nil)
	b.opTimeout = 10 * time.Millisecond

	_, err := b.Open(context.Background(), "s/b/r/f.png", storage.Conditional{})
	if !storage.IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestPutForwards(t *testing.T) {
	var captured *s3.PutObjectInput
	var body []byte
	fake := &fakeS3{
		putObject: func(_ context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			captured = params
			body, _ = io.ReadAll(params.Body)
			return &s3.PutObjectOutput{ETag: aws.String(`"new"`)}, nil
		},
	}
	b := newTestBackend(fake, nil)

	info, err := b.Put(context.Background(), "s/b/r/f.png", strings.NewReader("png data"), 8, "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if aws.ToInt64(captured.ContentLength) != 8 {
		t.Errorf("ContentLength %v", captured.ContentLength)
	}
	if aws.ToString(captured.ContentType) != "image/png" {
		t.Errorf("ContentType %q", aws.ToString(captured.ContentType))
	}
	if string(body) != "png data" {
		t.Errorf("body %q", body)
	}
	if info.ETag != `"new"` || info.Filename != "f.png" {
		t.Errorf("info %+v", info)
	}
}

func TestDelete(t *testing.T) {
	var captured *s3.DeleteObjectInput
	fake := &fakeS3{
		deleteObject: func(_ context.Context, params *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			captured = params
			return &s3.DeleteObjectOutput{}, nil
		},
	}
	b := newTestBackend(fake, nil)

	if err := b.Delete(context.Background(), "s/b/r/f.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if aws.ToString(captured.Key) != "s/b/r/f.png" {
		t.Errorf("key %q", aws.ToString(captured.Key))
	}
}

func TestListPaginatesAndScopes(t *testing.T) {
	var inputs []*s3.ListObjectsV2Input
	fake := &fakeS3{
		listObjectsV2: func(_ context.Context, params *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			inputs = append(inputs, params)
			if params.ContinuationToken == nil {
				return &s3.ListObjectsV2Output{
					Contents: []types.Object{
						{Key: aws.String("site1/box1/res1/")}, // prefix placeholder
						{Key: aws.String("site1/box1/res1/a.png")},
					},
					IsTruncated:           aws.Bool(true),
					NextContinuationToken: aws.String("page2"),
				}, nil
			}
			return &s3.ListObjectsV2Output{
				Contents: []types.Object{
					{Key: aws.String("site1/box1/res1/b.png")},
				},
				IsTruncated: aws.Bool(false),
			}, nil
		},
	}
	b := newTestBackend(fake, nil)

	names, err := b.List(context.Background(), "site1/box1/res1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(names) != 2 || names[0] != "a.png" || names[1] != "b.png" {
		t.Errorf("names %v", names)
	}
	if len(inputs) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(inputs))
	}
	if aws.ToString(inputs[0].Prefix) != "site1/box1/res1/" {
		t.Errorf("prefix %q", aws.ToString(inputs[0].Prefix))
	}
	if aws.ToString(inputs[0].Delimiter) != "/" {
		t.Errorf("delimiter %q", aws.ToString(inputs[0].Delimiter))
	}
	if aws.ToString(inputs[1].ContinuationToken) != "page2" {
		t.Errorf("continuation token %q", aws.ToString(inputs[1].ContinuationToken))
	}
}

func TestSignedURL(t *testing.T) {
	var capturedTTL time.Duration
	presign := &fakePresign{
		presignGetObject: func(_ context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			opts := s3.PresignOptions{}
			for _, fn := range optFns {
				fn(&opts)
			}
			capturedTTL = opts.Expires
			return &v4.PresignedHTTPRequest{
				URL: "http://localhost:9000/blobd/" + aws.ToString(params.Key) + "?X-Amz-Signature=sig",
			}, nil
		},
	}
	b := newTestBackend(&fakeS3{}, presign)

	u, err := b.SignedURL(context.Background(), "s/b/r/f.png", 300*time.Second)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if capturedTTL != 300*time.Second {
		t.Errorf("ttl %v", capturedTTL)
	}
	if !strings.Contains(u, "X-Amz-Signature") {
		t.Errorf("url %q", u)
	}
}

func TestPublicURL(t *testing.T) {
	b := newTestBackend(&fakeS3{}, nil)
	if got := b.PublicURL("s/b/r/f.png"); got != "http://localhost:9000/blobd/s/b/r/f.png" {
		t.Errorf("path style: %q", got)
	}

	b.pathStyle = false
	if got := b.PublicURL("s/b/r/f.png"); got != "http://blobd.localhost:9000/s/b/r/f.png" {
		t.Errorf("virtual host: %q", got)
	}

	b.publicBase = "https://assets.example.com"
	if got := b.PublicURL("s/b/r/f.png"); got != "https://assets.example.com/s/b/r/f.png" {
		t.Errorf("override: %q", got)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cases := []Config{
		{Endpoint: "http://localhost:9000"},                     // no bucket
		{Bucket: "blobd"},                                       // no endpoint
		{Endpoint: "http://x", Bucket: "b", AccessKey: "only"},  // key without secret
		{Endpoint: "http://x", Bucket: "b", SecretKey: "only"},  // secret without key
	}
	for i, cfg := range cases {
		_, err := New(context.Background(), cfg)
		var serr *storage.Error
		if !errors.As(err, &serr) || serr.Kind != storage.KindConfig {
			t.Errorf("case %d: expected config error, got %v", i, err)
		}
	}
}
