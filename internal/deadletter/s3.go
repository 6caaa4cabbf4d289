package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/awsutil"
	"github.com/BarkinBalci/event-ingestion-service/internal/config"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives letters as JSON objects under <prefix>YYYY/MM/DD/.
type S3Sink struct {
	api    s3API
	bucket string
	prefix string
}

// NewS3Sink creates an archive sink. DEAD_LETTER_S3_ENDPOINT selects a local S3-compatible
// store, addressed path-style.
func NewS3Sink(ctx context.Context, cfg config.DeadLetter, region string, log *zap.Logger) (*S3Sink, error) {
	awsConfig, err := awsutil.LoadConfig(ctx, region, cfg.S3Endpoint, log)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Info("Dead-letter archive configured",
		zap.String("bucket", cfg.S3Bucket),
		zap.String("prefix", cfg.S3Prefix))

	return newS3Sink(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Sink(api s3API, bucket, prefix string) *S3Sink {
	return &S3Sink{api: api, bucket: bucket, prefix: prefix}
}

// Send writes the letter as one object.
func (s *S3Sink) Send(ctx context.Context, letter Letter) error {
	body, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("s3 sink: failed to marshal letter: %w", err)
	}

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(letter)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"reason": letter.Reason,
		},
	})
	if err != nil {
		return fmt.Errorf("s3 sink: failed to put object: %w", err)
	}
	return nil
}

func (s *S3Sink) objectKey(letter Letter) string {
	failedAt := letter.FailedAt.UTC()
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}

	name := letter.MessageID
	if name == "" {
		name = uuid.NewString()
	}

	return s.prefix + path.Join(failedAt.Format("2006/01/02"), name+".json")
}
