// Package segment splits document text into overlapping chunks for embedding.
package segment

import (
	"strconv"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/models"
)

// separators are natural break points in order of preference.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
	[]rune("; "),
	[]rune(" "),
}

// Segmenter splits text into chunks of at most size characters where each chunk
// shares exactly overlap characters with the next one.
type Segmenter struct {
	size    int
	overlap int
}

// New returns a segmenter. Lengths are counted in characters (runes).
// Returns a ConfigError unless 0 <= overlap < size.
func New(size, overlap int) (*Segmenter, error) {
	if size <= 0 {
		return nil, apperr.Errorf(apperr.ConfigError, "segment.New", "chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, apperr.Errorf(apperr.ConfigError, "segment.New", "chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, apperr.Errorf(apperr.ConfigError, "segment.New", "chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Segmenter{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length.
func (s *Segmenter) Size() int { return s.size }

// Overlap returns the number of characters shared by consecutive chunks.
func (s *Segmenter) Overlap() int { return s.overlap }

// Split returns the chunks of text in order. Empty text yields no chunks.
func (s *Segmenter) Split(text string) []string {
	runes := []rune(text)
	spans := s.spans(runes)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = string(runes[sp.start:sp.end])
	}
	return out
}

// SplitDocument splits doc.Text and tags each chunk with its source, character
// offset, position, and document id.
func (s *Segmenter) SplitDocument(doc models.Document) []models.Chunk {
	runes := []rune(doc.Text)
	spans := s.spans(runes)
	chunks := make([]models.Chunk, len(spans))
	for i, sp := range spans {
		meta := map[string]string{
			models.MetaSource:     doc.Source,
			models.MetaOffset:     strconv.Itoa(sp.start),
			models.MetaChunkIndex: strconv.Itoa(i),
		}
		if doc.ID != "" {
			meta[models.MetaDocumentID] = doc.ID
		}
		chunks[i] = models.Chunk{Text: string(runes[sp.start:sp.end]), Metadata: meta}
	}
	return chunks
}

// Join reverses Split: it concatenates chunks, dropping the first overlap
// characters of every chunk after the first.
func Join(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0])
	for _, c := range chunks[1:] {
		r := []rune(c)
		if overlap < len(r) {
			out = append(out, r[overlap:]...)
		}
	}
	return string(out)
}

type span struct{ start, end int }

func (s *Segmenter) spans(text []rune) []span {
	n := len(text)
	if n == 0 {
		return nil
	}
	var out []span
	start := 0
	for n-start > s.size {
		end := s.breakPoint(text, start)
		out = append(out, span{start, end})
		start = end - s.overlap
	}
	return append(out, span{start, n})
}

// breakPoint picks the exclusive end of the chunk starting at start. It prefers
// the latest natural separator in the back half of the window and falls back to
// a hard cut at start+size. The result is always > start+overlap, so the next
// chunk starts strictly later.
func (s *Segmenter) breakPoint(text []rune, start int) int {
	limit := start + s.size
	floor := start + s.size/2
	if floor <= start+s.overlap {
		floor = start + s.overlap + 1
	}
	for _, sep := range separators {
		for end := limit; end >= floor; end-- {
			if hasSuffixAt(text, end, sep) {
				return end
			}
		}
	}
	return limit
}

// hasSuffixAt reports whether text[:end] ends with sep.
func hasSuffixAt(text []rune, end int, sep []rune) bool {
	if end < len(sep) || end > len(text) {
		return false
	}
	for i, r := range sep {
		if text[end-len(sep)+i] != r {
			return false
		}
	}
	return true
}
