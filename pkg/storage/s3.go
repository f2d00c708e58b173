package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog/log"

	"github.com/oiwn/fetchbox/pkg/config"
)

// S3ObjectStore implements ObjectStore against S3 or an S3-compatible
// endpoint (MinIO, LocalStack) via aws-sdk-go.
type S3ObjectStore struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3ObjectStore builds an S3ObjectStore from cfg. An Endpoint
// switches to path-style addressing for S3-compatible backends.
func NewS3ObjectStore(cfg config.StorageConfig) (*S3ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 backend requires a bucket")
	}

	awsConfig := &aws.Config{Region: aws.String(cfg.Region)}

	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("storage: create aws session: %w", err)
	}

	return &S3ObjectStore{
		bucket:   cfg.Bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (s *S3ObjectStore) Scheme() string { return "s3" }
func (s *S3ObjectStore) Bucket() string { return s.bucket }

func (s *S3ObjectStore) Put(ctx context.Context, key string, data []byte) (UploadMetadata, error) {
	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return UploadMetadata{}, &Error{Kind: UploadFailed, Key: key, Err: err}
	}

	etag := ""
	if result.ETag != nil {
		etag = *result.ETag
	}

	log.Debug().Str("key", key).Int("size", len(data)).Msg("uploaded to s3 storage")
	return UploadMetadata{Key: key, ETag: etag, Size: len(data)}, nil
}

func (s *S3ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &Error{Kind: NotFound, Key: key, Err: err}
		}
		return nil, &Error{Kind: DownloadFailed, Key: key, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Kind: DownloadFailed, Key: key, Err: err}
	}
	return data, nil
}

func (s *S3ObjectStore) Head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, &Error{Kind: BackendError, Key: key, Err: err}
	}
	return true, nil
}

// isNotFound reports whether err is S3's "no such key" / "not found"
// response, collapsing its several AWS error codes into one check.
func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}
