package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kbukum/filestore/logger"
	"github.com/kbukum/filestore/storage"
)

func init() {
	storage.RegisterFactory(storage.ProviderS3, func(ctx context.Context, providerCfg any, log *logger.Logger) (storage.Backend, error) {
		c := &Config{}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("s3: expected *s3.Config, got %T", providerCfg)
			}
			c = pc
		}
		return Open(ctx, c, log)
	})
}

// API is the subset of the S3 client the backend calls.
type API interface {
	HeadBucket(ctx context.Context, in *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *awss3.CreateBucketInput, optFns ...func(*awss3.Options)) (*awss3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *awss3.CreateMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *awss3.UploadPartInput, optFns ...func(*awss3.Options)) (*awss3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *awss3.CompleteMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *awss3.AbortMultipartUploadInput, optFns ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error)
}

// Presigner signs GetObject requests.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Backend implements storage.Backend on Amazon S3 or an S3-compatible service.
type Backend struct {
	api     API
	presign Presigner
	bucket  string
	region  string
	log     *logger.Logger
}

var (
	_ storage.Backend        = (*Backend)(nil)
	_ storage.MinPartSizer   = (*Backend)(nil)
	_ storage.PresignLimiter = (*Backend)(nil)
)

// New binds an existing client to cfg.Bucket. It does not touch the network.
func New(client *awss3.Client, cfg *Config, log *logger.Logger) *Backend {
	return NewWithAPI(client, awss3.NewPresignClient(client), cfg, log)
}

// NewWithAPI is New with the client split into its call and presign halves.
func NewWithAPI(api API, presigner Presigner, cfg *Config, log *logger.Logger) *Backend {
	if log == nil {
		log = logger.Nop()
	}
	return &Backend{
		api:     api,
		presign: presigner,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		log:     log.WithComponent("storage.s3"),
	}
}

// Open builds a client from cfg and ensures the bucket exists.
func Open(ctx context.Context, cfg *Config, log *logger.Logger) (*Backend, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := New(client, cfg, log)
	if err := b.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// NewClient creates an S3 client from cfg.
func NewClient(ctx context.Context, cfg *Config) (*awss3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// EnsureBucket creates the bucket unless it already exists.
func (b *Backend) EnsureBucket(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) && !isNoSuchBucket(err) {
		return fmt.Errorf("s3: head bucket %s: %w", b.bucket, err)
	}

	in := &awss3.CreateBucketInput{Bucket: aws.String(b.bucket)}
	if b.region != "" && b.region != DefaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	if _, err := b.api.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("s3: create bucket %s: %w", b.bucket, err)
	}
	b.log.Info("bucket created", logger.Fields(logger.FieldBucket, b.bucket))
	return nil
}

func (b *Backend) Name() string { return storage.ProviderS3 }

// MinPartSize reports the S3 minimum for non-final parts.
func (b *Backend) MinPartSize() int64 { return storage.S3MinPartSize }

// MaxPresignExpiry reports the SigV4 cap on presigned URL lifetime.
func (b *Backend) MaxPresignExpiry() time.Duration { return storage.S3MaxPresignExpiry }

func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("s3: head bucket %s: %w", b.bucket, err)
	}
	return nil
}

// PutObject uploads r. An unknown size (-1) buffers the payload in memory
// because S3 requires a content length.
func (b *Backend) PutObject(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) error {
	if size < 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("s3: buffer upload: %w", err)
		}
		r, size = bytes.NewReader(data), int64(len(data))
	}
	_, err := b.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(opts.ContentType),
		Metadata:      opts.Metadata,
	})
	if err != nil {
		return fmt.Errorf("s3: put object: %w", err)
	}
	return nil
}

func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: get %s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}
	return out.Body, nil
}

// DeleteObject heads the key first because S3 deletes are idempotent and do
// not report whether the key existed.
func (b *Backend) DeleteObject(ctx context.Context, key string) (bool, error) {
	_, err := b.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head object: %w", err)
	}
	_, err = b.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("s3: delete object: %w", err)
	}
	return true, nil
}

func (b *Backend) PresignGetObject(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("s3: presign: %w", err)
	}
	return req.URL, nil
}

func (b *Backend) CreateMultipartUpload(ctx context.Context, key string, opts storage.PutOptions) (string, error) {
	out, err := b.api.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(opts.ContentType),
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("s3: create multipart upload: %w", err)
	}
	return aws.ToString(out.UploadId), nil
}

func (b *Backend) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	out, err := b.api.UploadPart(ctx, &awss3.UploadPartInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(partNumber)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return "", fmt.Errorf("s3: upload part: %w", storage.ErrUploadNotFound)
		}
		return "", fmt.Errorf("s3: upload part %d: %w", partNumber, err)
	}
	return aws.ToString(out.ETag), nil
}

func (b *Backend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Number)),
		}
	}
	_, err := b.api.CompleteMultipartUpload(ctx, &awss3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return fmt.Errorf("s3: complete multipart upload: %w", storage.ErrUploadNotFound)
		}
		return fmt.Errorf("s3: complete multipart upload: %w", err)
	}
	return nil
}

func (b *Backend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := b.api.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return fmt.Errorf("s3: abort multipart upload: %w", storage.ErrUploadNotFound)
		}
		return fmt.Errorf("s3: abort multipart upload: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isNoSuchBucket(err error) bool {
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket"
}

func isNoSuchUpload(err error) bool {
	var noUpload *types.NoSuchUpload
	if errors.As(err, &noUpload) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload"
}
