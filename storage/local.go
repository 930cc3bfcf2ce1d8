package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"messenger-core/model"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var ErrTooLarge = errors.New("file is too large")

const sniffLength = 512

// Local keeps message attachments on disk under dir, one folder per day.
type Local struct {
	dir     string
	maxSize int64
	log     *slog.Logger
	now     func() time.Time
}

func NewLocal(dir string, maxSize int64, log *slog.Logger) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return &Local{dir: dir, maxSize: maxSize, log: log, now: time.Now}, nil
}

func (l *Local) Dir() string {
	return l.dir
}

// Save stores r under a generated name and describes it as an attachment.
// The mime type is sniffed from the content, not taken from the client.
func (l *Local) Save(ctx context.Context, name string, r io.Reader) (model.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return model.Attachment{}, err
	}
	sniff := make([]byte, sniffLength)
	n, err := io.ReadFull(r, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return model.Attachment{}, fmt.Errorf("failed to read upload: %w", err)
	}
	sniff = sniff[:n]
	mtype := mimetype.Detect(sniff)

	rel := path.Join(l.now().UTC().Format("2006/01/02"), uuid.NewString()+mtype.Extension())
	full := filepath.Join(l.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return model.Attachment{}, fmt.Errorf("failed to create upload folder: %w", err)
	}
	file, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("failed to create upload file: %w", err)
	}

	// Read one byte past the limit to tell a full file from an oversized one
	size, err := io.Copy(file, io.MultiReader(bytes.NewReader(sniff), io.LimitReader(r, l.maxSize+1-int64(n))))
	closeErr := file.Close()
	switch {
	case err != nil:
		l.discard(full)
		return model.Attachment{}, fmt.Errorf("failed to write upload: %w", err)
	case closeErr != nil:
		l.discard(full)
		return model.Attachment{}, fmt.Errorf("failed to write upload: %w", closeErr)
	case size > l.maxSize:
		l.discard(full)
		return model.Attachment{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, l.maxSize)
	}

	l.log.Debug("Attachment stored", "path", rel, "mime_type", mtype.String(), "size", size)
	return model.Attachment{
		Path:     rel,
		MimeType: mtype.String(),
		Size:     size,
		Name:     filepath.Base(name),
	}, nil
}

// Remove deletes a stored attachment by the path Save returned.
func (l *Local) Remove(ctx context.Context, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return fmt.Errorf("refusing to remove %q outside the upload dir", rel)
	}
	if err := os.Remove(filepath.Join(l.dir, local)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove upload %s: %w", rel, err)
	}
	return nil
}

func (l *Local) discard(full string) {
	if err := os.Remove(full); err != nil {
		l.log.Warn("Failed to remove partial upload", "path", full, "error", err)
	}
}

// MessageType picks the message type matching an attachment's mime type.
func MessageType(mimeType string) model.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return model.TypeImage
	case strings.HasPrefix(mimeType, "audio/"):
		return model.TypeAudio
	case strings.HasPrefix(mimeType, "video/"):
		return model.TypeVideo
	default:
		return model.TypeFile
	}
}
