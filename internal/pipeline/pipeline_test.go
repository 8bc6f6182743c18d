package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/seanblong/codesage/internal/chunker"
	"github.com/seanblong/codesage/internal/crawler"
	"github.com/seanblong/codesage/internal/embedder"
	"github.com/seanblong/codesage/internal/model"
	"github.com/seanblong/codesage/internal/registry"
	"github.com/seanblong/codesage/internal/store"
	"github.com/seanblong/codesage/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

type stubModel struct {
	dim  int
	mode model.Mode
}

func (m *stubModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, m.dim)
	}
	return out, nil
}
func (m *stubModel) SetMode(mode model.Mode) error { m.mode = mode; return nil }
func (m *stubModel) Dim() int                      { return m.dim }
func (m *stubModel) MaxSeqLen() int                { return 512 }
func (m *stubModel) LoadWeights(path string) error { return nil }

type stubStore struct {
	rows []models.ChunkRecord
}

func (s *stubStore) Insert(ctx context.Context, rows []models.ChunkRecord) (int, error) {
	s.rows = append(s.rows, rows...)
	return len(rows), nil
}
func (s *stubStore) Search(ctx context.Context, qv []float32, limit int, filters store.QueryFilters) ([]models.SearchResult, error) {
	return nil, nil
}
func (s *stubStore) Count(ctx context.Context, language string) (int, error) {
	n := 0
	for _, r := range s.rows {
		if language == "" || r.Language == language {
			n++
		}
	}
	return n, nil
}
func (s *stubStore) Languages(ctx context.Context) ([]store.LanguageCount, error) { return nil, nil }
func (s *stubStore) Stats(ctx context.Context) (store.Stats, error)              { return store.Stats{}, nil }
func (s *stubStore) DeleteByLanguage(ctx context.Context, language string) (int, error) {
	kept := s.rows[:0]
	n := 0
	for _, r := range s.rows {
		if r.Language == language {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}
func (s *stubStore) DeleteByFile(ctx context.Context, filePath string) (int, error) {
	kept := s.rows[:0]
	n := 0
	for _, r := range s.rows {
		if r.FilePath == filePath {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}

func setupEntry(t *testing.T) (*registry.Registry, string) {
	t.Helper()
	root := t.TempDir()
	repoDir := filepath.Join(root, "github.com", "rust-lang", "rust")
	if err := os.MkdirAll(filepath.Join(repoDir, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	source := "fn main() {\n    println!(\"hi\");\n}\n"
	if err := os.WriteFile(filepath.Join(repoDir, "src", "main.rs"), []byte(source), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	catalog := filepath.Join(root, "index.tsv")
	if err := os.WriteFile(catalog, []byte("Rust\trs\tLanguage\t.rs\t\thttps://github.com/rust-lang/rust\trust-lang\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	reg, err := registry.Load(catalog, root)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return reg, root
}

func newTestPipeline(t *testing.T, reg *registry.Registry, st *stubStore) (*Pipeline, *IndexState) {
	t.Helper()
	extMap := reg.ExtensionMap()
	cr := crawler.New(extMap)
	m := &stubModel{dim: 4}
	emb := embedder.New(m, 10)
	state, err := LoadState(filepath.Join(t.TempDir(), "index_state.json"))
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	return New(reg, cr, m, emb, st, state), state
}

func TestIndexLanguageEmbedsAndInsertsChunks(t *testing.T) {
	reg, _ := setupEntry(t)
	st := &stubStore{}
	p, state := newTestPipeline(t, reg, st)

	result, err := p.IndexLanguage(context.Background(), "Rust", Options{
		Incremental: false,
		ChunkOpts:   chunker.Options{MinLines: 1, MaxLines: 100},
	})
	if err != nil {
		t.Fatalf("IndexLanguage: %v", err)
	}
	if result.Skipped {
		t.Fatalf("expected not skipped")
	}
	if result.Files != 1 {
		t.Fatalf("Files = %d, want 1", result.Files)
	}
	if len(st.rows) == 0 {
		t.Fatalf("expected rows inserted")
	}
	for _, r := range st.rows {
		if r.Language != "Rust" {
			t.Fatalf("row language = %q, want Rust", r.Language)
		}
		if len(r.Vector) != 4 {
			t.Fatalf("row vector dim = %d, want 4", len(r.Vector))
		}
	}
	if _, ok := state.Languages["Rust"]; !ok {
		t.Fatalf("expected Rust recorded in state.Languages")
	}
}

func TestIndexLanguageSkipsUnknownEntry(t *testing.T) {
	reg, _ := setupEntry(t)
	st := &stubStore{}
	p, _ := newTestPipeline(t, reg, st)

	result, err := p.IndexLanguage(context.Background(), "Cobol", Options{})
	if err != nil {
		t.Fatalf("IndexLanguage: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skip for unknown entry")
	}
}

func TestIndexLanguageIncrementalSkipsUnchangedFiles(t *testing.T) {
	reg, _ := setupEntry(t)
	st := &stubStore{}
	p, _ := newTestPipeline(t, reg, st)

	opts := Options{Incremental: true, ChunkOpts: chunker.Options{MinLines: 1, MaxLines: 100}}
	if _, err := p.IndexLanguage(context.Background(), "Rust", opts); err != nil {
		t.Fatalf("first IndexLanguage: %v", err)
	}
	firstCount := len(st.rows)
	if firstCount == 0 {
		t.Fatalf("expected rows after first run")
	}

	result, err := p.IndexLanguage(context.Background(), "Rust", opts)
	if err != nil {
		t.Fatalf("second IndexLanguage: %v", err)
	}
	if result.Files != 0 {
		t.Fatalf("second run Files = %d, want 0 (no mtime change)", result.Files)
	}
	if len(st.rows) != firstCount {
		t.Fatalf("second run inserted more rows: before=%d after=%d", firstCount, len(st.rows))
	}
}
