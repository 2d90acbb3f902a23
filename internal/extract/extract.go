// Package extract defines the document processing boundary. The engine
// consumes extracted text through the Processor interface; concrete format
// converters (PDF, HTML, office formats) plug in behind it.
package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	enginerr "github.com/docseek/docseek/internal/errors"
)

// Metadata carries extractor-provided document attributes.
type Metadata struct {
	Title  string
	Extra  map[string]string
	Binary bool // Content was detected as binary and skipped
}

// Processor extracts searchable text from a file.
type Processor interface {
	// Extract reads path and returns its plain text and metadata.
	// Failures are wrapped as document processing errors.
	Extract(ctx context.Context, path string) (string, *Metadata, error)
}

// PlainText is the default Processor for text formats (.txt, .md, source
// files). It derives the title from the first non-empty line and skips
// binary content.
type PlainText struct {
	MaxFileSize int64 // 0 means unlimited
}

// NewPlainText creates a plain-text processor.
func NewPlainText(maxFileSize int64) *PlainText {
	return &PlainText{MaxFileSize: maxFileSize}
}

// Extract implements Processor.
func (p *PlainText) Extract(ctx context.Context, path string) (string, *Metadata, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, enginerr.New(enginerr.ErrCodeFileNotFound,
				fmt.Sprintf("file not found: %s", path), err)
		}
		return "", nil, enginerr.DocumentProcessingError(path, err)
	}

	if p.MaxFileSize > 0 && info.Size() > p.MaxFileSize {
		return "", nil, enginerr.New(enginerr.ErrCodeFileTooLarge,
			fmt.Sprintf("file %s exceeds size limit (%d > %d bytes)", path, info.Size(), p.MaxFileSize), nil).
			WithDetail("path", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, enginerr.DocumentProcessingError(path, err)
	}

	if isBinaryContent(content) {
		return "", &Metadata{Binary: true}, nil
	}

	text := string(content)
	return text, &Metadata{Title: titleFromText(text)}, nil
}

// titleFromText returns the first non-empty line, with markdown heading
// markers stripped.
func titleFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return ""
}

// isBinaryContent checks the first 512 bytes for null bytes.
func isBinaryContent(content []byte) bool {
	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}

	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}

	return false
}
