package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerr "github.com/docseek/docseek/internal/errors"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestPlainText_Extract(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "doc.md", []byte("# Getting Started\n\nInstall the binary.\n"))

	text, meta, err := NewPlainText(0).Extract(ctx, path)
	require.NoError(t, err)
	assert.Contains(t, text, "Install the binary")
	assert.Equal(t, "Getting Started", meta.Title)
	assert.False(t, meta.Binary)
}

func TestPlainText_TitleSkipsBlankLines(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "doc.txt", []byte("\n\n  First real line\nsecond\n"))

	_, meta, err := NewPlainText(0).Extract(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "First real line", meta.Title)
}

func TestPlainText_BinarySkipped(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "blob.bin", []byte{0x89, 0x50, 0x00, 0x47})

	text, meta, err := NewPlainText(0).Extract(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.True(t, meta.Binary)
}

func TestPlainText_FileNotFound(t *testing.T) {
	ctx := context.Background()

	_, _, err := NewPlainText(0).Extract(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeFileNotFound, enginerr.GetCode(err))
}

func TestPlainText_FileTooLarge(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "big.txt", make([]byte, 100))

	_, _, err := NewPlainText(10).Extract(ctx, path)
	require.Error(t, err)
	assert.Equal(t, enginerr.ErrCodeFileTooLarge, enginerr.GetCode(err))
}

func TestPlainText_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeFile(t, "doc.txt", []byte("content"))
	_, _, err := NewPlainText(0).Extract(ctx, path)
	assert.Error(t, err)
}
