package reliability

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config addresses an S3 compatible bucket (AWS, R2, MinIO).
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for S3 compatible stores
	AccessKeyID     string // empty uses the default credential chain
	SecretAccessKey string
	PathStyle       bool
}

// S3Uploader uploads archives with the S3 transfer manager.
type S3Uploader struct {
	bucket   string
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewS3Uploader builds a client for the configured bucket.
func NewS3Uploader(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Uploader{
		bucket:   cfg.Bucket,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("service", "s3_uploader").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload of %s failed: %w", key, err)
	}
	u.log.Debug().Str("key", key).Str("location", out.Location).Msg("Object uploaded")
	return nil
}
