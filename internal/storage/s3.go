package storage

import (
	"context"
	"fmt"
	"strings"
	"voxagent/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const s3Scheme = "s3://"

type S3Source struct {
	client *s3.Client
}

// NewS3Source creates an object storage client. An empty endpoint means AWS;
// empty keys fall back to the default credential chain.
func NewS3Source(ctx context.Context, endpoint, accessKey, secretKey, region string) (*S3Source, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	logger.Info("S3 source initialized", zap.String("endpoint", endpoint), zap.String("region", region))

	return &S3Source{client: client}, nil
}

// ParseS3URI splits "s3://bucket/key/parts" into bucket and key
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(uri, s3Scheme) {
		return "", "", false
	}
	bucket, key, found := strings.Cut(strings.TrimPrefix(uri, s3Scheme), "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// Download streams an s3:// object into dst
func (s *S3Source) Download(ctx context.Context, uri, dst string) error {
	bucket, key, ok := ParseS3URI(uri)
	if !ok {
		return fmt.Errorf("invalid s3 uri %q", uri)
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	defer result.Body.Close()

	n, err := writeFile(dst, result.Body)
	if err != nil {
		return err
	}

	logger.Debug("File downloaded from S3",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("size", n))

	return nil
}
