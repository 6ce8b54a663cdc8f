// Package extract converts uploaded PDF and DOCX documents into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spigell/cv-matcher/internal/apperr"
)

const DefaultMaxSize = 10 << 20

var (
	ErrUnsupportedType = apperr.Input("Unsupported file type. Please upload PDF or DOCX files.")
	ErrTooLarge        = apperr.Input("Uploaded document is too large.")
)

type Extractor interface {
	Extract(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Documents extracts text from PDF and DOCX files, dispatching on the
// declared filename's extension.
type Documents struct {
	maxSize int64
}

func New(maxSize int64) *Documents {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Documents{maxSize: maxSize}
}

// Supported reports whether filename has an extension Extract understands.
func Supported(filename string) bool {
	switch extension(filename) {
	case ".pdf", ".docx":
		return true
	default:
		return false
	}
}

func (d *Documents) Extract(ctx context.Context, filename string, r io.Reader) (string, error) {
	ext := extension(filename)
	if !Supported(filename) {
		return "", ErrUnsupportedType
	}

	data, err := io.ReadAll(io.LimitReader(r, d.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if int64(len(data)) > d.maxSize {
		return "", ErrTooLarge
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	var text string
	switch ext {
	case ".pdf":
		text, err = pdfText(bytes.NewReader(data), int64(len(data)))
	case ".docx":
		text, err = docxText(bytes.NewReader(data), int64(len(data)))
	}
	if err != nil {
		return "", fmt.Errorf("extract text from %s: %w", filename, err)
	}

	return text, nil
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
}
