package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"materialpos/backend/internal/config"
	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
)

// S3Sink stores backups in an S3 compatible bucket (AWS S3, MinIO, ...).
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
	log    *zap.Logger
}

func NewS3Sink(ctx context.Context, cfg config.S3Config, log *zap.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, log: log}, nil
}

func (s *S3Sink) key(name string) string {
	return s.prefix + name
}

func (s *S3Sink) Put(ctx context.Context, name string, payload []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: invalid backup name %q", store.ErrInvalidTransaction, name)
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload backup %s: %w", name, err)
	}
	s.log.Info("backup uploaded", zap.String("bucket", s.bucket), zap.String("key", s.key(name)), zap.Int("bytes", len(payload)))
	return nil
}

func (s *S3Sink) Get(ctx context.Context, name string) ([]byte, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: invalid backup name %q", store.ErrInvalidTransaction, name)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: backup %s", store.ErrNotFound, name)
		}
		return nil, fmt.Errorf("download backup %s: %w", name, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List returns stored backups, newest first.
func (s *S3Sink) List(ctx context.Context) ([]domain.BackupInfo, error) {
	backups := make([]domain.BackupInfo, 0, 16)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if !ValidName(name) {
				continue
			}
			backups = append(backups, domain.BackupInfo{
				Name:      name,
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}
	sortNewestFirst(backups)
	return backups, nil
}
