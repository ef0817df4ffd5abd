package auditlog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"aaronromeo.com/mailsweep/pkg/utils"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

const archiveTimestampFormat = "20060102T150405Z"

// Uploader abstracts the s3manager upload call for testing.
type Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Archiver copies the audit log file to object storage after a sweep so
// the deletion history survives the host.
type S3Archiver struct {
	uploader    Uploader
	bucket      string
	keyPrefix   string
	fileManager utils.FileManager
	logger      *slog.Logger
	now         func() time.Time
}

type S3ArchiverOption func(*S3Archiver) error

func NewS3Archiver(opts ...S3ArchiverOption) (*S3Archiver, error) {
	ar := S3Archiver{now: time.Now}
	for _, opt := range opts {
		err := opt(&ar)
		if err != nil {
			return nil, err
		}
	}

	if ar.uploader == nil {
		return nil, errors.New("requires uploader")
	}
	if ar.bucket == "" {
		return nil, errors.New("requires bucket")
	}
	if ar.fileManager == nil {
		return nil, errors.New("requires file manager")
	}
	if ar.logger == nil {
		return nil, errors.New("requires slogger")
	}

	return &ar, nil
}

func WithUploader(u Uploader) S3ArchiverOption {
	return func(ar *S3Archiver) error {
		ar.uploader = u
		return nil
	}
}

func WithBucket(bucket, keyPrefix string) S3ArchiverOption {
	return func(ar *S3Archiver) error {
		ar.bucket = bucket
		ar.keyPrefix = keyPrefix
		return nil
	}
}

func WithFileManager(fileManager utils.FileManager) S3ArchiverOption {
	return func(ar *S3Archiver) error {
		ar.fileManager = fileManager
		return nil
	}
}

func WithArchiverLogger(logger *slog.Logger) S3ArchiverOption {
	return func(ar *S3Archiver) error {
		ar.logger = logger
		return nil
	}
}

func WithClock(now func() time.Time) S3ArchiverOption {
	return func(ar *S3Archiver) error {
		ar.now = now
		return nil
	}
}

// Archive uploads the audit log at logPath and returns the object key.
func (ar *S3Archiver) Archive(ctx context.Context, logPath string) (string, error) {
	data, err := ar.fileManager.ReadFile(logPath)
	if err != nil {
		return "", errors.Wrap(err, "reading audit log for archive")
	}

	key := path.Join(ar.keyPrefix, fmt.Sprintf("audit-%s.jsonl", ar.now().UTC().Format(archiveTimestampFormat)))

	_, err = ar.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(ar.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		ar.logger.ErrorContext(ctx, err.Error(), slog.Any("error", utils.WrapError(err)))
		return "", errors.Wrap(err, "uploading audit log")
	}

	ar.logger.Info("Archived audit log", slog.String("bucket", ar.bucket), slog.String("key", key))
	return key, nil
}
