package model

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/seanblong/codesage/internal/codeerrors"
)

const (
	padToken = "[PAD]"
	unkToken = "[UNK]"
	clsToken = "[CLS]"
	sepToken = "[SEP]"
)

// Tokenizer is a pure-Go WordPiece tokenizer compatible with BERT/NomicBERT
// vocabularies: lowercase, NFD-normalize and drop combining marks, space
// out CJK code points, split on whitespace and Unicode punctuation, then
// greedy-longest-match WordPiece with "##" continuation pieces.
type Tokenizer struct {
	vocab     map[string]int
	maxLength int
	padID     int
	unkID     int
	clsID     int
	sepID     int
}

// LoadTokenizer reads a line-delimited vocabulary file (one token per line,
// line index is the token id).
func LoadTokenizer(vocabPath string, maxLength int) (*Tokenizer, error) {
	f, err := os.Open(vocabPath)
	if err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrResource, fmt.Sprintf("vocabulary not found: %s", vocabPath), err)
	}
	defer f.Close()

	t := &Tokenizer{
		vocab:     make(map[string]int),
		maxLength: maxLength,
		unkID:     100,
		clsID:     101,
		sepID:     102,
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	idx := 0
	for scanner.Scan() {
		t.vocab[scanner.Text()] = idx
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrIO, "read vocabulary", err)
	}

	if id, ok := t.vocab[padToken]; ok {
		t.padID = id
	}
	if id, ok := t.vocab[unkToken]; ok {
		t.unkID = id
	}
	if id, ok := t.vocab[clsToken]; ok {
		t.clsID = id
	}
	if id, ok := t.vocab[sepToken]; ok {
		t.sepID = id
	}
	return t, nil
}

// Tokenize splits text into WordPiece token strings.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range basicTokenize(text) {
		tokens = append(tokens, t.wordpieceTokenize(word)...)
	}
	return tokens
}

// Encode returns (input_ids, attention_mask) for one text, wrapped with
// [CLS]/[SEP] and truncated to maxLength, but not padded.
func (t *Tokenizer) Encode(text string) ([]int, []int) {
	tokens := t.Tokenize(text)
	maxTokens := t.maxLength - 2
	if maxTokens < 0 {
		maxTokens = 0
	}
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}

	ids := make([]int, 0, len(tokens)+2)
	ids = append(ids, t.clsID)
	for _, tok := range tokens {
		id, ok := t.vocab[tok]
		if !ok {
			id = t.unkID
		}
		ids = append(ids, id)
	}
	ids = append(ids, t.sepID)

	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return ids, mask
}

// BatchEncode encodes every text and pads to the batch's own longest
// sequence (not the tokenizer's global max_length).
func (t *Tokenizer) BatchEncode(texts []string) ([][]int, [][]int) {
	allIDs := make([][]int, len(texts))
	allMasks := make([][]int, len(texts))
	maxLen := 0
	for i, text := range texts {
		ids, mask := t.Encode(text)
		allIDs[i] = ids
		allMasks[i] = mask
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}
	for i := range allIDs {
		padLen := maxLen - len(allIDs[i])
		for j := 0; j < padLen; j++ {
			allIDs[i] = append(allIDs[i], t.padID)
			allMasks[i] = append(allMasks[i], 0)
		}
	}
	return allIDs, allMasks
}

func (t *Tokenizer) wordpieceTokenize(word string) []string {
	if _, ok := t.vocab[word]; ok {
		return []string{word}
	}

	var tokens []string
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := ""
		for start < end {
			substr := string(runes[start:end])
			if start > 0 {
				substr = "##" + substr
			}
			if _, ok := t.vocab[substr]; ok {
				found = substr
				break
			}
			end--
		}
		if found == "" {
			tokens = append(tokens, unkToken)
			break
		}
		tokens = append(tokens, found)
		start = end
	}
	return tokens
}

func basicTokenize(text string) []string {
	text = strings.ToLower(text)
	text = stripAccents(text)
	text = spaceCJK(text)

	var tokens []string
	for _, word := range strings.Fields(text) {
		tokens = append(tokens, splitOnPunctuation(word)...)
	}
	out := tokens[:0]
	for _, tok := range tokens {
		if strings.TrimSpace(tok) != "" {
			out = append(out, tok)
		}
	}
	return out
}

func stripAccents(text string) string {
	decomposed := norm.NFD.String(text)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func spaceCJK(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isCJK(r) {
			b.WriteRune(' ')
			b.WriteRune(r)
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}

func splitOnPunctuation(word string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range word {
		if isPunctuation(r) {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			tokens = append(tokens, string(r))
		} else {
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func isPunctuation(r rune) bool {
	cp := int(r)
	if (cp >= 33 && cp <= 47) || (cp >= 58 && cp <= 64) || (cp >= 91 && cp <= 96) || (cp >= 123 && cp <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
