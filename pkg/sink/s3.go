package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awshttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog"
)

// maxParts bounds the part probing of a single hour.
const maxParts = 1000

// S3API is the subset of the S3 client the sink uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader streams an object body to S3.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Config holds the S3 sink configuration.
type S3Config struct {
	Bucket string
	Prefix string
	Region string

	// Endpoint overrides the S3 endpoint (MinIO, LocalStack); path-style addressing is used then.
	Endpoint string
}

// S3Sink writes each hour as gzip-compressed NDJSON under
// "<prefix>/<destination>/dt=YYYY-MM-DD/hour=HH/part-NNNNN.json.gz" and marks
// the hour with an empty "_SUCCESS" object. An hour written again gets the next
// free part number, so earlier parts are never overwritten. Empty hours are
// skipped.
type S3Sink struct {
	bucket   string
	prefix   string
	client   S3API
	uploader Uploader
	logger   zerolog.Logger
}

// NewS3Sink creates an S3 sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SinkWithClient(cfg.Bucket, cfg.Prefix, client, manager.NewUploader(client), logger), nil
}

// NewS3SinkWithClient creates an S3 sink over existing clients.
func NewS3SinkWithClient(bucket, prefix string, client S3API, uploader Uploader, logger zerolog.Logger) *S3Sink {
	return &S3Sink{
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: uploader,
		logger:   logger.With().Str("component", "s3-sink").Str("bucket", bucket).Logger(),
	}
}

// HourDir returns the key prefix of a destination hour.
func (s *S3Sink) HourDir(dest Destination) string {
	start := dest.Hour.Start
	return path.Join(s.prefix, dest.Name,
		"dt="+start.Format("2006-01-02"),
		"hour="+start.Format("15"))
}

// Exists reports whether key exists in the bucket.
func (s *S3Sink) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, err
}

// Write implements EventSink.
func (s *S3Sink) Write(ctx context.Context, dest Destination, events []json.RawMessage) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer func() { record("s3", len(events), err) }()

	if dest.Name == "" {
		return fmt.Errorf("s3 sink: destination name is required")
	}

	body, err := encodeNDJSON(events)
	if err != nil {
		return err
	}

	dir := s.HourDir(dest)
	key, err := s.nextPartKey(ctx, dir)
	if err != nil {
		return err
	}

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(dir, "_SUCCESS")),
		Body:   strings.NewReader(""),
	}); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to write _SUCCESS marker")
	}

	s.logger.Info().
		Str("key", key).
		Time("window_start", dest.Hour.Start).
		Int("events", len(events)).
		Msg("Uploaded events")
	return nil
}

func (s *S3Sink) nextPartKey(ctx context.Context, dir string) (string, error) {
	for part := 0; part < maxParts; part++ {
		key := path.Join(dir, fmt.Sprintf("part-%05d.json.gz", part))
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("head %s: %w", key, err)
		}
		if !exists {
			return key, nil
		}
	}
	return "", fmt.Errorf("no free part under %s", dir)
}

// encodeNDJSON gzips events as one compact JSON document per line.
func encodeNDJSON(events []json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)

	var line bytes.Buffer
	for _, raw := range events {
		line.Reset()
		if err := json.Compact(&line, raw); err != nil {
			zw.Close()
			return nil, fmt.Errorf("compact event: %w", err)
		}
		line.WriteByte('\n')
		if _, err := zw.Write(line.Bytes()); err != nil {
			zw.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}
