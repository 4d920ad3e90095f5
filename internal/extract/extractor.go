// Package extract turns clinical documents (PDF, Word, OpenDocument, RTF,
// spreadsheets, plain text) into plain text for segmentation.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lu4p/cat"
)

// Supported lists the extensions Extract understands.
var Supported = []string{".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".txt", ".md", ".rst"}

// IsSupported reports whether ext (with leading dot, any case) can be extracted.
func IsSupported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, s := range Supported {
		if s == ext {
			return true
		}
	}
	return false
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".odt" || ext == ".rtf" {
		return extractWithCat(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are
// read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return extractCatBytes(content, ext)
	case ".xlsx":
		return extractExcel(content)
	default:
		return extractPlain(content)
	}
}

func extractWithCat(path string) (string, error) {
	text, err := cat.File(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Ext(path), err)
	}
	return strings.TrimSpace(text), nil
}

// extractCatBytes spills content to a temp file because cat detects the
// format from the file name.
func extractCatBytes(content []byte, ext string) (string, error) {
	f, err := os.CreateTemp("", "medquery-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return extractWithCat(f.Name())
}
