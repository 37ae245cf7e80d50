package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ErrNoBucket is returned when S3 upload is requested without a bucket.
var ErrNoBucket = errors.New("no S3 bucket configured")

// S3Config locates the bucket exports are uploaded to. Static keys are
// optional; without them the default AWS credential chain is used.
// Endpoint is set for S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	Prefix    string
}

type uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3 uploads exported files.
type S3 struct {
	up     uploader
	bucket string
	prefix string
	log    *slog.Logger
}

// NewS3 opens an AWS session for cfg.
func NewS3(cfg S3Config, logger *slog.Logger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return newS3(s3manager.NewUploader(sess), cfg, logger), nil
}

func newS3(up uploader, cfg S3Config, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{up: up, bucket: cfg.Bucket, prefix: cfg.Prefix, log: logger.With("component", "s3")}
}

// ObjectKey names the export of board taken at t.
func (s *S3) ObjectKey(board string, t time.Time) string {
	return path.Join(s.prefix, "boards", board, t.UTC().Format("20060102T150405Z")+".pdf")
}

// Upload stores body under key and returns the object location.
func (s *S3) Upload(ctx context.Context, key string, body io.Reader) (string, error) {
	out, err := s.up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	s.log.Info("export uploaded", "bucket", s.bucket, "key", key, "location", out.Location)
	return out.Location, nil
}
