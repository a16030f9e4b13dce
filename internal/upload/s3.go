package upload

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"email-mirror-gateway/internal/body"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ObjectPutter is the part of the S3 API S3Store needs. *s3.Client implements it.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads attachments to an S3 bucket, keyed by realm.
type S3Store struct {
	client  ObjectPutter
	bucket  string
	baseURL string
}

// NewS3Client builds an S3 client from the default AWS configuration chain.
// Static credentials and a custom endpoint (MinIO, Ceph) from cfg take precedence.
func NewS3Client(ctx context.Context, cfg models.UploadConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Store creates an S3Store. Without cfg.BaseURL, links point at the
// bucket's virtual-hosted AWS URL.
func NewS3Store(client ObjectPutter, cfg models.UploadConfig) *S3Store {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		if cfg.Region == "" {
			baseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
		}
	}
	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: baseURL,
	}
}

// Upload puts file under realm/uuid/name and returns the object URL.
func (s *S3Store) Upload(ctx context.Context, file body.Attachment) (string, error) {
	realm := realmDir(file.Realm)
	key := realm + "/" + uuid.New().String() + "/" + SanitizeName(file.Filename)

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(file.Data),
		ContentLength: aws.Int64(int64(len(file.Data))),
		ContentType:   aws.String(contentType),
	}
	if file.Owner != nil {
		input.Metadata = map[string]string{"owner": file.Owner.Email}
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	logging.Log.WithFields(map[string]interface{}{
		"realm":  file.Realm,
		"bucket": s.bucket,
		"size":   len(file.Data),
	}).Infof("Stored attachment %s", key)

	return s.baseURL + "/" + key, nil
}
