// Package pipeline implements the indexing pipeline: discover, chunk,
// embed, and store source files for one language, with incremental
// re-indexing driven by file mtimes persisted in IndexState.
package pipeline

import (
	"bytes"
	"context"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/codesage/internal/chunker"
	"github.com/seanblong/codesage/internal/codeerrors"
	"github.com/seanblong/codesage/internal/crawler"
	"github.com/seanblong/codesage/internal/embedder"
	"github.com/seanblong/codesage/internal/model"
	"github.com/seanblong/codesage/internal/registry"
	"github.com/seanblong/codesage/internal/store"
	"github.com/seanblong/codesage/pkg/models"
)

// Phase names reported through Progress.
const (
	PhaseCrawl = "crawl"
	PhaseChunk = "chunk"
	PhaseEmbed = "embed"
	PhaseStore = "store"
)

// Progress is called as the pipeline moves through phases.
type Progress func(phase string, current, total int)

// Options configures one run of the pipeline.
type Options struct {
	Incremental bool
	MaxFiles    int
	ChunkOpts   chunker.Options
	Progress    Progress
}

// Result is the per-language outcome of IndexLanguage.
type Result struct {
	Language string
	Version  string
	Files    int
	Chunks   int
	Skipped  bool
}

// Pipeline wires together the registry, crawler, chunker, embedder, and
// vector store to implement IndexLanguage / IndexAll.
type Pipeline struct {
	Registry *registry.Registry
	Crawler  *crawler.Crawler
	Model    model.Model
	Embedder *embedder.Embedder
	Store    store.ChunkStore
	State    *IndexState
}

// New builds a Pipeline from its collaborators.
func New(reg *registry.Registry, cr *crawler.Crawler, m model.Model, emb *embedder.Embedder, st store.ChunkStore, state *IndexState) *Pipeline {
	return &Pipeline{Registry: reg, Crawler: cr, Model: m, Embedder: emb, Store: st, State: state}
}

type filePair struct {
	file  crawler.SourceFile
	chunk models.CodeChunk
	mtime time.Time
}

// IndexLanguage runs the pipeline for a single language entry (spec §4.6).
func (p *Pipeline) IndexLanguage(ctx context.Context, language string, opts Options) (Result, error) {
	entry, found := p.Registry.Get(language)
	if !found || !entry.HasRepo() {
		return Result{Language: language, Skipped: true}, nil
	}

	version := entry.ResolveVersion(ctx)
	entry.Version = version

	if !opts.Incremental {
		if _, err := p.Store.DeleteByLanguage(ctx, entry.Name); err != nil {
			return Result{}, codeerrors.Wrap(codeerrors.ErrRuntime, "delete_by_language", err)
		}
	}

	files, err := p.Crawler.CrawlEntry(entry)
	if err != nil {
		return Result{}, codeerrors.Wrap(codeerrors.ErrIO, "crawl repo", err)
	}
	if opts.Progress != nil {
		opts.Progress(PhaseCrawl, len(files), len(files))
	}

	if opts.Incremental {
		var kept []crawler.SourceFile
		for _, f := range files {
			fi, statErr := os.Stat(f.Path)
			if statErr != nil {
				continue
			}
			recorded, hasPrior := p.State.FileMtime(f.RelativePath)
			if hasPrior && !fi.ModTime().After(recorded) {
				continue
			}
			if hasPrior {
				// mtime advanced: drop prior rows before re-chunking so a
				// changed file does not accumulate duplicates.
				if _, err := p.Store.DeleteByFile(ctx, f.RelativePath); err != nil {
					return Result{}, codeerrors.Wrap(codeerrors.ErrRuntime, "delete_by_file", err)
				}
			}
			kept = append(kept, f)
		}
		files = kept
	}

	if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
	}

	var pairs []filePair
	fileChunkCounts := map[string]int{}
	for i, f := range files {
		b, readErr := os.ReadFile(f.Path)
		if readErr != nil {
			log.Warn().Err(readErr).Str("path", f.Path).Msg("failed to read file")
			continue
		}
		if !utf8.Valid(b) {
			b = bytes.ToValidUTF8(b, []byte("�"))
		}
		fi, statErr := os.Stat(f.Path)
		mtime := time.Now()
		if statErr == nil {
			mtime = fi.ModTime()
		}

		chunks := chunker.Chunk(string(b), entry.Name, opts.ChunkOpts)
		for _, ch := range chunks {
			pairs = append(pairs, filePair{file: f, chunk: ch, mtime: mtime})
		}
		fileChunkCounts[f.RelativePath] = len(chunks)

		if opts.Progress != nil {
			opts.Progress(PhaseChunk, i+1, len(files))
		}
	}

	if err := p.Model.SetMode(model.ModeDocument); err != nil {
		return Result{}, codeerrors.Wrap(codeerrors.ErrContract, "set document mode", err)
	}

	totalChunks := len(pairs)
	batchSize := p.Embedder.BatchSize()
	inserted := 0
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]

		texts := make([]string, len(batch))
		for i, pr := range batch {
			texts[i] = pr.chunk.Text
		}
		vecs, embedErr := p.Embedder.EmbedBatch(ctx, texts)
		if embedErr != nil {
			return Result{}, codeerrors.Wrap(codeerrors.ErrRuntime, "embed batch", embedErr)
		}

		rows := make([]models.ChunkRecord, len(batch))
		for i, pr := range batch {
			rows[i] = models.ChunkRecord{
				ChunkID:   uuid.NewString(),
				Language:  entry.Name,
				Version:   version,
				FilePath:  pr.file.RelativePath,
				Repo:      pr.file.Repo,
				StartLine: pr.chunk.StartLine,
				EndLine:   pr.chunk.EndLine,
				ASTType:   pr.chunk.ASTType,
				Name:      pr.chunk.Name,
				Text:      pr.chunk.Text,
				Vector:    vecs[i],
			}
		}
		n, insertErr := p.Store.Insert(ctx, rows)
		if insertErr != nil {
			return Result{}, codeerrors.Wrap(codeerrors.ErrRuntime, "insert chunks", insertErr)
		}
		inserted += n

		if opts.Progress != nil {
			opts.Progress(PhaseStore, end, totalChunks)
		}
	}

	now := time.Now()
	for _, f := range files {
		p.State.RecordFile(f.RelativePath, fileMtimeOrNow(f), now, fileChunkCounts[f.RelativePath])
	}
	p.State.RecordLanguage(LanguageSummary{
		Language:  entry.Name,
		Version:   version,
		Files:     len(files),
		Chunks:    totalChunks,
		IndexedAt: now,
	})
	if err := p.State.Save(); err != nil {
		return Result{}, err
	}

	return Result{Language: entry.Name, Version: version, Files: len(files), Chunks: totalChunks}, nil
}

func fileMtimeOrNow(f crawler.SourceFile) time.Time {
	fi, err := os.Stat(f.Path)
	if err != nil {
		return time.Now()
	}
	return fi.ModTime()
}

// IndexAll runs IndexLanguage over every catalog entry with a cloned repo
// (or the requested subset).
func (p *Pipeline) IndexAll(ctx context.Context, opts Options, languages ...string) ([]Result, error) {
	var entries []*registry.LanguageEntry
	if len(languages) == 0 {
		entries = p.Registry.WithRepos()
	} else {
		for _, name := range languages {
			if e, ok := p.Registry.Get(name); ok {
				entries = append(entries, e)
			}
		}
	}

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		r, err := p.IndexLanguage(ctx, e.Name, opts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}
