package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "adsync/config"
)

// objectPutter is the part of the S3 client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores raw detail pages in S3-compatible storage.
type S3Archiver struct {
	client objectPutter
	bucket string
}

// NewS3Archiver creates an archiver for cfg. An endpoint switches to
// path-style addressing for DO Spaces, R2, MinIO and the like.
func NewS3Archiver(ctx context.Context, cfg appconfig.ArchiveConfig) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archiver{client: client, bucket: cfg.Bucket}, nil
}

// ArchiveKey is the object key of a customer's raw detail page.
func ArchiveKey(customerID uuid.UUID, externalID string) string {
	return fmt.Sprintf("raw/%s/%s.html", customerID, externalID)
}

func (a *S3Archiver) ArchivePage(ctx context.Context, customerID uuid.UUID, externalID, html string) error {
	return a.upload(ctx, ArchiveKey(customerID, externalID), strings.NewReader(html), "text/html; charset=utf-8")
}

func (a *S3Archiver) upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
