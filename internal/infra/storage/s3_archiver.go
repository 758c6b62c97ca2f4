// Package storage archives scheduler run reports to an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/port"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("storage")

// S3Config locates the archive bucket. Endpoint is optional and targets
// S3-compatible services such as MinIO.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectPutter is the subset of *s3.Client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one JSON object per run under
// <prefix>/YYYY/MM/DD/<run_id>.json.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

var _ port.RunArchiver = (*S3Archiver)(nil)

// NewS3Client builds an S3 client from static credentials, using path-style
// addressing when a custom endpoint is set.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Archiver creates an archiver writing to bucket.
func NewS3Archiver(client ObjectPutter, bucket, prefix string, logger *zap.Logger) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key of a report.
func (a *S3Archiver) Key(report domain.RunReport) string {
	day := report.StartedAt.UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, report.RunID+".json")
}

// Archive uploads the report as JSON.
func (a *S3Archiver) Archive(ctx context.Context, report domain.RunReport) error {
	ctx, span := tracer.Start(ctx, "S3Archiver.Archive")
	defer span.End()

	key := a.Key(report)
	span.SetAttributes(attribute.String("s3.key", key))

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		span.RecordError(err)
		a.logger.Error("run report archive failed",
			zap.String("run_id", report.RunID),
			zap.String("key", key),
			zap.Error(err),
		)
		return &domain.ErrExternalService{Service: "s3", Err: err}
	}

	a.logger.Debug("run report archived", zap.String("run_id", report.RunID), zap.String("key", key))
	return nil
}
