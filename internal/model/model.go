// Package model implements the embedding model abstraction: a shared
// contract for pluggable encoders, a WordPiece tokenizer, a NomicBERT-style
// transformer encoder (the default indexing model), and a thin remote
// API-backed variant for use as a reranker.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/seanblong/codesage/internal/codeerrors"
)

// Mode selects which prefix a model prepends to its inputs.
type Mode int

const (
	ModeQuery Mode = iota
	ModeDocument
)

func (m Mode) String() string {
	if m == ModeQuery {
		return "query"
	}
	return "document"
}

// ParseMode validates a mode string, per the Contract-error requirement in
// spec.md §7 ("invalid set_mode argument").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "query":
		return ModeQuery, nil
	case "document":
		return ModeDocument, nil
	default:
		return 0, codeerrors.Wrap(codeerrors.ErrContract, fmt.Sprintf("invalid mode %q", s), nil)
	}
}

// Model is the embedding model abstraction every concrete variant
// implements: dim/max_seq_len, embed(texts)->vectors, load_weights, and a
// stateful mode switch.
type Model interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	SetMode(mode Mode) error
	Dim() int
	MaxSeqLen() int
	LoadWeights(path string) error
}

// EmbeddingDim is the default embedding dimensionality, used by the remote
// model when its config gives no hidden size. The store's vector column is
// sized from the active model's Dim() at Migrate time; a change in dimension
// requires a full rebuild (new Migrate + reindex), per spec.md §6.
const EmbeddingDim = 768

// guardedMode is embedded by concrete Model implementations to provide the
// shared-single-writer mode state spec.md §5 requires ("set_mode must not
// race with embed within a language's indexing run").
type guardedMode struct {
	mu   sync.Mutex
	mode Mode
}

func (g *guardedMode) SetMode(mode Mode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = mode
	return nil
}

func (g *guardedMode) currentMode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}
