package extract

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	errBinary = errors.New("binary content in text file")
)

// extractPlain decodes a text file. A leading BOM is dropped, line endings
// become "\n" and invalid UTF-8 becomes U+FFFD. Content with NUL bytes is
// rejected so a mislabelled binary never reaches the index.
func extractPlain(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if bytes.IndexByte(content, 0) >= 0 {
		return "", errBinary
	}
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n"), nil
}
