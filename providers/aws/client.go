package aws

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

const pptxContentType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

// PutObjectAPI is the part of the S3 client the publisher needs
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArtifactPublisher copies finished merge artifacts to an S3 bucket
type ArtifactPublisher struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger logrus.FieldLogger
}

// NewClient creates an S3-backed artifact publisher using the default
// credential chain. An empty region defers to the environment.
func NewClient(ctx context.Context, region, bucket, prefix string, logger logrus.FieldLogger) (*ArtifactPublisher, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return NewArtifactPublisher(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// NewArtifactPublisher wraps an existing S3 client
func NewArtifactPublisher(client PutObjectAPI, bucket, prefix string, logger logrus.FieldLogger) *ArtifactPublisher {
	return &ArtifactPublisher{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
	}
}

// Key returns the object key for an artifact file
func (p *ArtifactPublisher) Key(artifactPath string) string {
	return p.prefix + filepath.Base(artifactPath)
}

// Publish uploads the artifact at artifactPath
func (p *ArtifactPublisher) Publish(ctx context.Context, jobID, artifactPath string) error {
	f, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}

	key := p.Key(artifactPath)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        awssdk.String(p.bucket),
		Key:           awssdk.String(key),
		Body:          f,
		ContentLength: awssdk.Int64(info.Size()),
		ContentType:   awssdk.String(pptxContentType),
		Metadata:      map[string]string{"job-id": jobID},
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", p.bucket, key, err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"bucket": p.bucket,
		"key":    key,
		"bytes":  info.Size(),
	}).Info("Artifact published")
	return nil
}
