// Package chunker splits source files into semantically meaningful chunks.
// It prefers a tree-sitter AST walk and falls back to a deterministic
// blank-line split when a grammar for the language is unavailable.
package chunker

import (
	"strings"

	"github.com/seanblong/codesage/pkg/models"
)

// Options configures chunk-size bounds. Zero values fall back to the
// package defaults (min 5, max 100 lines).
type Options struct {
	MinLines int
	MaxLines int
}

const (
	defaultMinLines = 5
	defaultMaxLines = 100
)

func (o Options) resolved() Options {
	if o.MinLines <= 0 {
		o.MinLines = defaultMinLines
	}
	if o.MaxLines <= 0 {
		o.MaxLines = defaultMaxLines
	}
	return o
}

// Chunk splits source into CodeChunks for the given language. The AST
// strategy is tried first; if no tree-sitter grammar is registered for the
// language, the line strategy is used instead. If the AST strategy yields
// no chunks but source is non-empty, the whole file is emitted as a single
// ast_type="file" chunk.
func Chunk(source, language string, opts Options) []models.CodeChunk {
	opts = opts.resolved()

	if HasGrammar(language) {
		chunks, err := chunkAST(source, language, opts)
		if err == nil {
			if len(chunks) > 0 {
				return chunks
			}
			if strings.TrimSpace(source) != "" {
				return []models.CodeChunk{wholeFileChunk(source)}
			}
			return nil
		}
		// Parse failure: fall through to the line strategy.
	}

	return chunkLines(source, opts.MinLines, opts.MaxLines)
}

func wholeFileChunk(source string) models.CodeChunk {
	lines := strings.Count(source, "\n") + 1
	return models.CodeChunk{
		Text:      source,
		StartLine: 1,
		EndLine:   lines,
		ASTType:   "file",
		Name:      "",
	}
}
