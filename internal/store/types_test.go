package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDocumentID(t *testing.T) {
	a := NewDocumentID("/docs/a.txt")
	b := NewDocumentID("/docs/a.txt")
	assert.Equal(t, a, b, "same path yields same id")
	assert.NotEqual(t, a, NewDocumentID("/docs/b.txt"))

	// Separators and redundant elements normalize to the same id.
	assert.Equal(t, NewDocumentID("/docs/a.txt"), NewDocumentID("/docs/./a.txt"))
}

func TestHashContent(t *testing.T) {
	h1 := HashContent("hello")
	h2 := HashContent("hello")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashContent("world"))
	assert.Len(t, h1, 64)
}

func TestFileTypeOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/docs/readme.md", "md"},
		{"/docs/notes.TXT", "txt"},
		{"/docs/noext", ""},
		{"/docs/archive.tar.gz", "gz"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileTypeOf(tt.path), tt.path)
	}
}
