// Package embedder wraps an embedding Model with batching and progress
// reporting.
package embedder

import (
	"context"

	"github.com/seanblong/codesage/internal/model"
)

const defaultBatchSize = 256

// ProgressFunc is called with (done, total) after each batch of embed_all.
type ProgressFunc func(done, total int)

// Embedder batches texts through a model.
type Embedder struct {
	model     model.Model
	batchSize int
}

// New wraps model m. A batchSize <= 0 uses the default of 256.
func New(m model.Model, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Embedder{model: m, batchSize: batchSize}
}

func (e *Embedder) Dim() int { return e.model.Dim() }

// BatchSize returns the configured batch size used by EmbedAll.
func (e *Embedder) BatchSize() int { return e.batchSize }

// EmbedBatch embeds a single batch by invoking the model once. An empty
// input returns an empty result without invoking the model.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return e.model.Embed(ctx, texts)
}

// EmbedAll embeds all texts in slabs of batchSize, concatenating results in
// order and reporting (done, total) after each slab.
func (e *Embedder) EmbedAll(ctx context.Context, texts []string, progress ProgressFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	total := len(texts)
	all := make([][]float32, 0, total)
	for i := 0; i < total; i += e.batchSize {
		end := i + e.batchSize
		if end > total {
			end = total
		}
		batch := texts[i:end]
		vecs, err := e.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		all = append(all, vecs...)
		if progress != nil {
			progress(end, total)
		}
	}
	return all, nil
}
