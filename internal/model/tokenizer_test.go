package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func writeVocab(t *testing.T, tokens ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(tokens, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return path
}

func baseVocab() []string {
	return []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "hello", "world", "he", "##llo", "wor", "##ld"}
}

func TestTokenizeExactVocabMatch(t *testing.T) {
	path := writeVocab(t, baseVocab()...)
	tok, err := LoadTokenizer(path, 512)
	if err != nil {
		t.Fatalf("LoadTokenizer: %v", err)
	}

	tokens := tok.Tokenize("hello world")
	want := []string{"hello", "world"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("tokens[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestTokenizeGreedyWordpieceSplit(t *testing.T) {
	path := writeVocab(t, "[PAD]", "[UNK]", "[CLS]", "[SEP]", "he", "##llo")
	tok, err := LoadTokenizer(path, 512)
	if err != nil {
		t.Fatalf("LoadTokenizer: %v", err)
	}

	tokens := tok.Tokenize("hello")
	want := []string{"he", "##llo"}
	if len(tokens) != len(want) || tokens[0] != want[0] || tokens[1] != want[1] {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
}

func TestEncodeWrapsClsSep(t *testing.T) {
	path := writeVocab(t, baseVocab()...)
	tok, err := LoadTokenizer(path, 512)
	if err != nil {
		t.Fatalf("LoadTokenizer: %v", err)
	}

	ids, mask := tok.Encode("hello")
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want length 3 ([CLS] hello [SEP])", ids)
	}
	if ids[0] != tok.clsID || ids[2] != tok.sepID {
		t.Fatalf("ids = %v, want wrapped with cls=%d sep=%d", ids, tok.clsID, tok.sepID)
	}
	for _, m := range mask {
		if m != 1 {
			t.Fatalf("mask = %v, want all 1s (unpadded single sequence)", mask)
		}
	}
}

func TestBatchEncodePadsToBatchMax(t *testing.T) {
	path := writeVocab(t, baseVocab()...)
	tok, err := LoadTokenizer(path, 512)
	if err != nil {
		t.Fatalf("LoadTokenizer: %v", err)
	}

	ids, masks := tok.BatchEncode([]string{"hello", "hello world"})
	if len(ids[0]) != len(ids[1]) {
		t.Fatalf("batch rows not padded to equal length: %v", ids)
	}
	if masks[0][len(masks[0])-1] != 0 {
		t.Fatalf("expected trailing pad mask 0 on shorter row, got %v", masks[0])
	}
}

func TestUnknownWordBecomesUNK(t *testing.T) {
	path := writeVocab(t, "[PAD]", "[UNK]", "[CLS]", "[SEP]", "hello")
	tok, err := LoadTokenizer(path, 512)
	if err != nil {
		t.Fatalf("LoadTokenizer: %v", err)
	}
	tokens := tok.Tokenize("xyzzy")
	if len(tokens) != 1 || tokens[0] != "[UNK]" {
		t.Fatalf("tokens = %v, want [[UNK]]", tokens)
	}
}
