package auditlog_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/mock"
	"aaronromeo.com/mailsweep/pkg/models/auditlog"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	err    error
	inputs []*s3manager.UploadInput
	bodies [][]byte
}

func (u *fakeUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.inputs = append(u.inputs, input)
	u.bodies = append(u.bodies, body)
	return &s3manager.UploadOutput{}, nil
}

func TestArchiveUploadsLogFile(t *testing.T) {
	content := []byte(`{"runId":"run-1","outcome":"deleted"}` + "\n")
	fm := mock.MockFileWriter{
		Writers: map[string]mock.MockWriter{},
		Files:   map[string][]byte{base.AuditLogFile: content},
	}
	uploader := &fakeUploader{}

	archiver, err := auditlog.NewS3Archiver(
		auditlog.WithUploader(uploader),
		auditlog.WithBucket("mailsweep-audit", "mailsweep"),
		auditlog.WithFileManager(fm),
		auditlog.WithArchiverLogger(mock.SetupLogger(t)),
		auditlog.WithClock(func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	require.NoError(t, err)

	key, err := archiver.Archive(context.Background(), base.AuditLogFile)
	require.NoError(t, err)

	assert.Equal(t, "mailsweep/audit-20240501T120000Z.jsonl", key)
	require.Len(t, uploader.inputs, 1)
	assert.Equal(t, "mailsweep-audit", aws.StringValue(uploader.inputs[0].Bucket))
	assert.Equal(t, key, aws.StringValue(uploader.inputs[0].Key))
	assert.Equal(t, content, uploader.bodies[0])
}

func TestArchiveMissingLogFails(t *testing.T) {
	fm := mock.MockFileWriter{Writers: map[string]mock.MockWriter{}}
	archiver, err := auditlog.NewS3Archiver(
		auditlog.WithUploader(&fakeUploader{}),
		auditlog.WithBucket("mailsweep-audit", "mailsweep"),
		auditlog.WithFileManager(fm),
		auditlog.WithArchiverLogger(mock.SetupLogger(t)),
	)
	require.NoError(t, err)

	_, err = archiver.Archive(context.Background(), base.AuditLogFile)
	assert.Error(t, err)
}

func TestArchiveUploadFailure(t *testing.T) {
	fm := mock.MockFileWriter{
		Writers: map[string]mock.MockWriter{},
		Files:   map[string][]byte{base.AuditLogFile: []byte("{}\n")},
	}
	archiver, err := auditlog.NewS3Archiver(
		auditlog.WithUploader(&fakeUploader{err: fmt.Errorf("access denied")}),
		auditlog.WithBucket("mailsweep-audit", "mailsweep"),
		auditlog.WithFileManager(fm),
		auditlog.WithArchiverLogger(mock.SetupLogger(t)),
	)
	require.NoError(t, err)

	_, err = archiver.Archive(context.Background(), base.AuditLogFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3ArchiverValidation(t *testing.T) {
	_, err := auditlog.NewS3Archiver()
	assert.Error(t, err)

	_, err = auditlog.NewS3Archiver(auditlog.WithUploader(&fakeUploader{}))
	assert.Error(t, err)
}
