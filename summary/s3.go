package summary

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ObjectPutter is the S3 capability used by S3Sink.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures NewS3Sink.
type S3Config struct {
	Region          string
	AccessKeyID     string // optional, with SecretAccessKey
	SecretAccessKey string
	Bucket          string
}

// S3Sink stores each record as a JSON object.
type S3Sink struct {
	client ObjectPutter
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

// NewS3Sink builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain applies.
func NewS3Sink(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("summary: S3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("summary: AWS region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3SinkWithClient(s3.NewFromConfig(awsCfg), cfg.Bucket, logger), nil
}

// NewS3SinkWithClient creates a sink over an existing client.
func NewS3SinkWithClient(client ObjectPutter, bucket string, logger *zap.Logger) *S3Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		logger: logger,
		now:    time.Now,
	}
}

// Save uploads r under ObjectKey.
func (s *S3Sink) Save(ctx context.Context, r *Record) error {
	if r == nil {
		return fmt.Errorf("summary: nil record")
	}

	body, err := r.MarshalIndent()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	key := ObjectKey(r, s.now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	s.logger.Info("call summary saved to S3",
		zap.String("key", key),
		zap.String("call_sid", r.CallSid),
	)
	return nil
}

// ObjectKey returns twilio/calls/{callSid}/summary-{startedAt}.json with the
// colons and dots of the timestamp replaced by dashes. A missing call id
// becomes "unknown-call" and a missing or unparseable start time falls back
// to now.
func ObjectKey(r *Record, now time.Time) string {
	callSid := r.CallSid
	if callSid == "" {
		callSid = "unknown-call"
	}

	ts := now
	if r.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, r.StartedAt); err == nil {
			ts = t
		}
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(FormatTime(ts))

	return fmt.Sprintf("twilio/calls/%s/summary-%s.json", callSid, stamp)
}
