package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReportArchiver stores fan-out delivery reports for later diagnosis
type ReportArchiver interface {
	Archive(ctx context.Context, report *FanoutReport) error
}

// S3Archiver writes reports to an S3-compatible bucket
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver creates an archiver. Static credentials are used when an access key is
// given, otherwise the default AWS credential chain applies.
func NewS3Archiver(ctx context.Context, region, bucket, accessKey, secretKey, endpoint string) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{client: client, bucket: bucket}, nil
}

// ReportKey is the object key of a report: alerts/{event_id}/{unix}.json
func ReportKey(report *FanoutReport) string {
	return fmt.Sprintf("alerts/%s/%d.json", report.EventID, report.CompletedAt.Unix())
}

// Archive uploads the report as JSON
func (a *S3Archiver) Archive(ctx context.Context, report *FanoutReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ReportKey(report)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return nil
}
