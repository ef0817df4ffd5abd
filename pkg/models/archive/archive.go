package archive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/utils"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/pkg/errors"
)

const archiveTimestampFormat = "20060102T150405Z"

// Metadata describes an archived message alongside its body file.
type Metadata struct {
	AccountID  string    `json:"accountId"`
	Folder     string    `json:"folder"`
	UID        uint32    `json:"uid"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Timestamp  time.Time `json:"timestamp"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// Archiver writes a copy of a message to the file system before it is
// deleted, one directory per message with a metadata.json and the parsed
// body.
type Archiver struct {
	fileManager utils.FileManager
	logger      *slog.Logger
	baseFolder  string
	clock       func() time.Time
}

type ArchiverOption func(*Archiver) error

func NewArchiver(opts ...ArchiverOption) (*Archiver, error) {
	ar := Archiver{clock: time.Now}
	for _, opt := range opts {
		err := opt(&ar)
		if err != nil {
			return nil, err
		}
	}

	if ar.fileManager == nil {
		return nil, errors.New("requires file manager")
	}
	if ar.logger == nil {
		return nil, errors.New("requires slogger")
	}
	if ar.baseFolder == "" {
		ar.baseFolder = "archive"
	}

	return &ar, nil
}

func WithFileManager(fileManager utils.FileManager) ArchiverOption {
	return func(ar *Archiver) error {
		ar.fileManager = fileManager
		return nil
	}
}

func WithLogger(logger *slog.Logger) ArchiverOption {
	return func(ar *Archiver) error {
		ar.logger = logger
		return nil
	}
}

func WithBaseFolder(folder string) ArchiverOption {
	return func(ar *Archiver) error {
		ar.baseFolder = folder
		return nil
	}
}

func WithClock(clock func() time.Time) ArchiverOption {
	return func(ar *Archiver) error {
		ar.clock = clock
		return nil
	}
}

// Save writes msg under <base>/<account>/<folder>/<timestamped dir>/. The
// fetched message must carry its envelope and at least one body section.
func (ar *Archiver) Save(ctx context.Context, account base.Account, folder string, msg *imap.Message) error {
	if msg == nil || msg.Envelope == nil {
		return errors.New("message is missing its envelope")
	}

	env := msg.Envelope
	dirName := fmt.Sprintf("%s-%s-%x",
		env.Date.UTC().Format(archiveTimestampFormat),
		sanitize(env.Subject),
		md5.Sum([]byte(fmt.Sprintf("%s/%s/%d", account.ID, folder, msg.Uid))))
	dirPath := filepath.Join(ar.baseFolder, sanitize(account.ID), sanitize(folder), dirName)

	if err := ar.fileManager.MkdirAll(dirPath, os.ModePerm); err != nil {
		ar.logger.ErrorContext(ctx, "Failed to create archive folder", slog.Any("error", err))
		return errors.Wrap(err, "creating archive folder")
	}

	var from []string
	for _, a := range env.From {
		from = append(from, a.Address())
	}
	var to []string
	for _, a := range env.To {
		to = append(to, a.Address())
	}
	metadata := Metadata{
		AccountID:  account.ID,
		Folder:     folder,
		UID:        msg.Uid,
		Subject:    env.Subject,
		From:       strings.Join(from, ", "),
		To:         strings.Join(to, ", "),
		Timestamp:  env.Date,
		ArchivedAt: ar.clock(),
	}
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return errors.Wrap(err, "serializing archive metadata")
	}
	if err := ar.fileManager.WriteFile(filepath.Join(dirPath, "metadata.json"), metadataBytes, 0o644); err != nil {
		ar.logger.ErrorContext(ctx, "Failed to write archive metadata", slog.Any("error", err))
		return errors.Wrap(err, "writing archive metadata")
	}

	wrote := false
	for _, literal := range msg.Body {
		entity, err := message.Read(literal)
		if err != nil && !message.IsUnknownCharset(err) {
			return errors.Wrap(err, "parsing message body")
		}

		var buf bytes.Buffer
		if err := entity.WriteTo(&buf); err != nil {
			return errors.Wrap(err, "rendering message body")
		}
		if err := ar.fileManager.WriteFile(filepath.Join(dirPath, "message.eml"), buf.Bytes(), 0o644); err != nil {
			return errors.Wrap(err, "writing message body")
		}
		wrote = true
		break
	}
	if !wrote {
		return errors.New("message carried no body section")
	}

	ar.logger.Info("Archived message",
		slog.String("account", account.ID),
		slog.String("path", dirPath))
	return nil
}

var sanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitize(value string) string {
	cleaned := sanitizePattern.ReplaceAllString(value, "_")
	cleaned = strings.Trim(cleaned, "_")
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	if cleaned == "" {
		return "unnamed"
	}
	return cleaned
}
