// Package query implements the cross-language equivalence finder: search
// candidates in target languages, optionally rerank with a larger model,
// optionally fuse in structural similarity, and return a ranked result.
package query

import (
	"context"
	"math"
	"sort"

	"github.com/seanblong/codesage/internal/model"
	"github.com/seanblong/codesage/internal/search"
	"github.com/seanblong/codesage/internal/store"
	"github.com/seanblong/codesage/internal/structural"
	"github.com/seanblong/codesage/pkg/models"
)

const defaultRerankCandidates = 100

// Options controls one find_equivalents call.
type Options struct {
	Limit           int
	Rerank          bool
	Structural      bool
	TargetLanguages []string
}

// Finder ties semantic search, an optional rerank model, and the
// structural comparator together, per spec.md §4.8.
type Finder struct {
	search      *search.Service
	store       store.ChunkStore
	rerankModel model.Model
}

// New builds a Finder. rerankModel may be nil, in which case reranking is
// always skipped regardless of Options.Rerank.
func New(searchModel model.Model, st store.ChunkStore, rerankModel model.Model) *Finder {
	return &Finder{
		search:      search.NewService(searchModel, st),
		store:       st,
		rerankModel: rerankModel,
	}
}

// FindEquivalents finds equivalent implementations of code (written in
// sourceLanguage) across other languages.
func (f *Finder) FindEquivalents(ctx context.Context, code, sourceLanguage string, opts Options) (models.EquivalenceResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	candidatesLimit := limit
	if opts.Rerank && f.rerankModel != nil {
		candidatesLimit = defaultRerankCandidates
	}

	var results []models.SearchResult
	if len(opts.TargetLanguages) > 0 {
		perLang := candidatesLimit / max(len(opts.TargetLanguages), 1)
		for _, lang := range opts.TargetLanguages {
			if lang == sourceLanguage {
				continue
			}
			langResults, err := f.search.Query(ctx, code, perLang, store.QueryFilters{Language: lang})
			if err != nil {
				return models.EquivalenceResult{}, err
			}
			results = append(results, langResults...)
		}
	} else {
		r, err := f.search.Query(ctx, code, candidatesLimit, store.QueryFilters{ExcludeLanguages: []string{sourceLanguage}})
		if err != nil {
			return models.EquivalenceResult{}, err
		}
		results = r
	}

	if opts.Rerank && f.rerankModel != nil && len(results) > 0 {
		reranked, err := f.rerank(ctx, code, results, limit*2)
		if err != nil {
			return models.EquivalenceResult{}, err
		}
		results = reranked
	}

	if opts.Structural && len(results) > 0 {
		for i := range results {
			comp := structural.Compare(code, sourceLanguage, results[i].Text, results[i].Language)
			score := comp.Similarity
			results[i].StructuralScore = &score
		}
	}

	sortByCombinedScore(results)

	if len(results) > limit {
		results = results[:limit]
	}

	return models.EquivalenceResult{
		SourceLanguage: sourceLanguage,
		SourceCode:     code,
		Equivalents:    results,
	}, nil
}

// rerank embeds the query and all candidate texts with the rerank model
// and overwrites each candidate's score with a cosine-distance score.
func (f *Finder) rerank(ctx context.Context, queryCode string, candidates []models.SearchResult, limit int) ([]models.SearchResult, error) {
	if err := f.rerankModel.SetMode(model.ModeQuery); err != nil {
		return nil, err
	}
	queryVecs, err := f.rerankModel.Embed(ctx, []string{queryCode})
	if err != nil {
		return nil, err
	}
	queryVec := queryVecs[0]

	if err := f.rerankModel.SetMode(model.ModeDocument); err != nil {
		return nil, err
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	candidateVecs, err := f.rerankModel.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidates[i].Score = 1.0 - cosineSimilarity(candidateVecs[i], queryVec)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score < candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom < 1e-12 {
		denom = 1e-12
	}
	return dot / denom
}

// sortByCombinedScore sorts results ascending by the fused sort key:
// 0.7*semantic + 0.3*(1-structural) when a structural score exists,
// else pure semantic distance.
func sortByCombinedScore(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return combinedScore(results[i]) < combinedScore(results[j])
	})
}

func combinedScore(r models.SearchResult) float64 {
	if r.StructuralScore != nil {
		return 0.7*r.Score + 0.3*(1.0-*r.StructuralScore)
	}
	return r.Score
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
