package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// BERT special token ids used when no vocabulary is available.
const (
	clsID = 101
	sepID = 102
	unkID = 100
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps each normalised word to a hash-derived id. It is the
// fallback when the model directory has no vocab.txt.
type SimpleTokenizer struct{}

// Tokenize produces padded ids of length maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := NormalizedWords(text)
	ids := make([]int64, 0, len(words))
	for _, w := range words {
		ids = append(ids, int64(HashString(w)%30000)+1000)
	}
	return pack(ids, clsID, sepID, maxTokens)
}

// WordPieceTokenizer implements greedy longest-match-first WordPiece over a
// BERT vocab.txt (one token per line, line number is the id).
type WordPieceTokenizer struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

// LoadWordPiece reads a vocab.txt file.
func LoadWordPiece(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var id int64
	for sc.Scan() {
		vocab[strings.TrimRight(sc.Text(), "\r")] = id
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	t := &WordPieceTokenizer{vocab: vocab, cls: clsID, sep: sepID, unk: unkID}
	if v, ok := vocab["[CLS]"]; ok {
		t.cls = v
	}
	if v, ok := vocab["[SEP]"]; ok {
		t.sep = v
	}
	if v, ok := vocab["[UNK]"]; ok {
		t.unk = v
	}
	return t, nil
}

// Tokenize splits text into basic tokens, then into word pieces.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	var ids []int64
	for _, tok := range basicTokens(text) {
		ids = append(ids, t.pieces(tok)...)
		if maxTokens > 0 && len(ids) >= maxTokens {
			break
		}
	}
	return pack(ids, t.cls, t.sep, maxTokens)
}

func (t *WordPieceTokenizer) pieces(word string) []int64 {
	runes := []rune(word)
	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := int64(-1)
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{t.unk}
		}
		out = append(out, found)
		start = end
	}
	return out
}

// pack wraps ids with cls/sep, truncates, and pads to maxTokens.
func pack(ids []int64, cls, sep int64, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	if len(ids) > maxTokens-2 {
		ids = ids[:maxTokens-2]
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = cls
	attentionMask[0] = 1
	pos := 1
	for _, id := range ids {
		inputIDs[pos] = id
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sep
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// basicTokens lowercases text and splits it on whitespace and punctuation,
// keeping punctuation marks as their own tokens.
func basicTokens(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}

// NormalizedWords lowercases text and returns its runs of letters and digits.
func NormalizedWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
