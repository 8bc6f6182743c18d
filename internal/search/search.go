// Package search implements semantic search: embed a query in query mode
// and run it against the vector store with a filter set.
package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/codesage/internal/model"
	"github.com/seanblong/codesage/internal/store"
	"github.com/seanblong/codesage/pkg/models"
)

// Service ties a model and a store together for single-query search.
type Service struct {
	Model model.Model
	Store store.ChunkStore
}

// NewService builds a search Service.
func NewService(m model.Model, s store.ChunkStore) *Service {
	return &Service{Model: m, Store: s}
}

// Query embeds q in query mode and searches the store with filters,
// per spec.md §4.7.
func (s *Service) Query(ctx context.Context, q string, limit int, filters store.QueryFilters) ([]models.SearchResult, error) {
	q = strings.TrimSpace(q)

	if err := s.Model.SetMode(model.ModeQuery); err != nil {
		return nil, err
	}

	vecs, err := s.Model.Embed(ctx, []string{q})
	if err != nil {
		log.Error().Err(err).Str("query", q).Msg("query embedding failed")
		return nil, err
	}

	results, err := s.Store.Search(ctx, vecs[0], limit, filters)
	if err != nil {
		return nil, err
	}
	return results, nil
}
