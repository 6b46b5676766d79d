package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configure an S3 or S3-compatible (R2, MinIO) archive bucket.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// PutObjectAPI is the slice of the S3 client used for archiving.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver copies generated images to a bucket.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver builds a client from opts. Static keys are used when set,
// otherwise the default AWS credential chain applies.
func NewS3Archiver(ctx context.Context, opts S3Options) (*S3Archiver, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("archive bucket is required")
	}
	region := opts.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return NewS3ArchiverWithClient(client, opts.Bucket, opts.Prefix), nil
}

func NewS3ArchiverWithClient(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for a run's file.
func (a *S3Archiver) Key(runID, fileName string) string {
	return path.Join(a.prefix, runID, fileName)
}

// Archive uploads data and returns its object key.
func (a *S3Archiver) Archive(ctx context.Context, runID, fileName string, data []byte, mimeType string) (string, error) {
	key := a.Key(runID, fileName)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}
