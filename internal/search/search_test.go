package search

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/seanblong/codesage/internal/model"
	"github.com/seanblong/codesage/internal/store"
	"github.com/seanblong/codesage/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// mockModel implements model.Model for testing.
type mockModel struct {
	EmbedFunc   func(ctx context.Context, texts []string) ([][]float32, error)
	modeSet     model.Mode
	setModeErrs error
}

func (m *mockModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
func (m *mockModel) SetMode(mode model.Mode) error {
	m.modeSet = mode
	return m.setModeErrs
}
func (m *mockModel) Dim() int                      { return 3 }
func (m *mockModel) MaxSeqLen() int                { return 512 }
func (m *mockModel) LoadWeights(path string) error { return nil }

// mockStore implements store.ChunkStore for testing.
type mockStore struct {
	SearchFunc func(ctx context.Context, qv []float32, limit int, filters store.QueryFilters) ([]models.SearchResult, error)
}

func (m *mockStore) Insert(ctx context.Context, rows []models.ChunkRecord) (int, error) {
	return 0, nil
}
func (m *mockStore) Search(ctx context.Context, qv []float32, limit int, filters store.QueryFilters) ([]models.SearchResult, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, qv, limit, filters)
	}
	return nil, nil
}
func (m *mockStore) Count(ctx context.Context, language string) (int, error) { return 0, nil }
func (m *mockStore) Languages(ctx context.Context) ([]store.LanguageCount, error) {
	return nil, nil
}
func (m *mockStore) Stats(ctx context.Context) (store.Stats, error) { return store.Stats{}, nil }
func (m *mockStore) DeleteByLanguage(ctx context.Context, language string) (int, error) {
	return 0, nil
}
func (m *mockStore) DeleteByFile(ctx context.Context, filePath string) (int, error) { return 0, nil }

func TestQuerySetsQueryModeAndForwardsFilters(t *testing.T) {
	mm := &mockModel{}
	var gotVec []float32
	var gotLimit int
	var gotFilters store.QueryFilters
	ms := &mockStore{
		SearchFunc: func(ctx context.Context, qv []float32, limit int, filters store.QueryFilters) ([]models.SearchResult, error) {
			gotVec = qv
			gotLimit = limit
			gotFilters = filters
			return []models.SearchResult{{ChunkRecord: models.ChunkRecord{Language: "go"}, Score: 0.1}}, nil
		},
	}

	svc := NewService(mm, ms)
	results, err := svc.Query(context.Background(), "  find equivalent  ", 5, store.QueryFilters{Language: "go"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if mm.modeSet != model.ModeQuery {
		t.Fatalf("expected query mode set, got %v", mm.modeSet)
	}
	if len(gotVec) != 3 {
		t.Fatalf("expected query vector forwarded, got %v", gotVec)
	}
	if gotLimit != 5 {
		t.Fatalf("limit = %d, want 5", gotLimit)
	}
	if gotFilters.Language != "go" {
		t.Fatalf("filters = %+v, want Language=go", gotFilters)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestQueryPropagatesEmbedError(t *testing.T) {
	wantErr := errors.New("boom")
	mm := &mockModel{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, wantErr
	}}
	svc := NewService(mm, &mockStore{})

	_, err := svc.Query(context.Background(), "q", 5, store.QueryFilters{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected embed error propagated, got %v", err)
	}
}

func TestQueryPropagatesStoreError(t *testing.T) {
	wantErr := errors.New("store down")
	ms := &mockStore{SearchFunc: func(ctx context.Context, qv []float32, limit int, filters store.QueryFilters) ([]models.SearchResult, error) {
		return nil, wantErr
	}}
	svc := NewService(&mockModel{}, ms)

	_, err := svc.Query(context.Background(), "q", 5, store.QueryFilters{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected store error propagated, got %v", err)
	}
}
