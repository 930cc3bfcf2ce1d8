package storage

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"messenger-core/model"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// smallest valid png header
var pngHeader = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52}

func newLocal(t *testing.T, maxSize int64) *Local {
	t.Helper()
	l, err := NewLocal(filepath.Join(t.TempDir(), "uploads"), maxSize, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	return l
}

func TestLocal_Save(t *testing.T) {
	req := require.New(t)
	l := newLocal(t, 1<<20)
	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0x01}, 1000)...)

	// When a png is uploaded under a misleading name
	a, err := l.Save(context.Background(), "../../holiday.txt", bytes.NewReader(content))

	// Then it is stored by content type under a generated name
	req.NoError(err)
	req.Equal("image/png", a.MimeType)
	req.EqualValues(len(content), a.Size)
	req.Equal("holiday.txt", a.Name)
	req.True(strings.HasPrefix(a.Path, "2024/03/09/"), a.Path)
	req.True(strings.HasSuffix(a.Path, ".png"), a.Path)

	stored, err := os.ReadFile(filepath.Join(l.Dir(), filepath.FromSlash(a.Path)))
	req.NoError(err)
	req.Equal(content, stored)
}

func TestLocal_SaveSmallText(t *testing.T) {
	req := require.New(t)
	l := newLocal(t, 1<<20)

	a, err := l.Save(context.Background(), "notes.txt", strings.NewReader("hi"))

	req.NoError(err)
	req.True(strings.HasPrefix(a.MimeType, "text/plain"), a.MimeType)
	req.EqualValues(2, a.Size)
}

func TestLocal_RejectsOversizedFile(t *testing.T) {
	req := require.New(t)
	l := newLocal(t, 600)

	_, err := l.Save(context.Background(), "big.bin", bytes.NewReader(make([]byte, 601)))

	req.ErrorIs(err, ErrTooLarge)
	entries, err := os.ReadDir(filepath.Join(l.Dir(), "2024", "03", "09"))
	req.NoError(err)
	req.Empty(entries)
}

func TestLocal_Remove(t *testing.T) {
	req := require.New(t)
	l := newLocal(t, 1<<20)
	a, err := l.Save(context.Background(), "cat.png", bytes.NewReader(pngHeader))
	req.NoError(err)

	// When the stored attachment is removed
	req.NoError(l.Remove(context.Background(), a.Path))

	// Then the file is gone and a second remove is harmless
	_, err = os.Stat(filepath.Join(l.Dir(), filepath.FromSlash(a.Path)))
	req.ErrorIs(err, os.ErrNotExist)
	req.NoError(l.Remove(context.Background(), a.Path))
}

func TestLocal_RemoveStaysInsideDir(t *testing.T) {
	req := require.New(t)
	l := newLocal(t, 1<<20)
	outside := filepath.Join(filepath.Dir(l.Dir()), "keep.txt")
	req.NoError(os.WriteFile(outside, []byte("keep"), 0o640))

	req.Error(l.Remove(context.Background(), "../keep.txt"))
	req.Error(l.Remove(context.Background(), outside))

	_, err := os.Stat(outside)
	req.NoError(err)
}

func TestMessageType(t *testing.T) {
	cases := map[string]model.MessageType{
		"image/png":       model.TypeImage,
		"audio/mpeg":      model.TypeAudio,
		"video/mp4":       model.TypeVideo,
		"application/pdf": model.TypeFile,
	}
	for mime, want := range cases {
		require.Equal(t, want, MessageType(mime), mime)
	}
}
