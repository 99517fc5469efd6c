package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cockroachdb/errors"

	"github.com/meterbridge/meterbridge/internal/config"
	ierr "github.com/meterbridge/meterbridge/internal/errors"
)

type s3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an ObjectStore backed by a single S3 bucket.
func NewS3Store(ctx context.Context, cfg *config.Configuration) (ObjectStore, error) {
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("failed to load aws config").
			Mark(ierr.ErrHTTPClient)
	}

	return &s3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.AWS.Bucket,
	}, nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("failed to list objects").
				WithMessagef("bucket:%s, prefix:%s", s.bucket, prefix).
				Mark(ierr.ErrHTTPClient)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ierr.NewErrorf("object %s not found", key).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("failed to get object").
			WithMessagef("bucket:%s, key:%s", s.bucket, key).
			Mark(ierr.ErrHTTPClient)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

func (s *s3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return ierr.WithError(err).
			WithHint("failed to put object").
			WithMessagef("bucket:%s, key:%s", s.bucket, key).
			Mark(ierr.ErrHTTPClient)
	}

	return nil
}
