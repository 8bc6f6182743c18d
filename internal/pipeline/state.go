package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seanblong/codesage/internal/codeerrors"
)

// FileState records what was last indexed for one file.
type FileState struct {
	Mtime     time.Time `json:"mtime"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// LanguageSummary is the per-language summary persisted alongside the
// per-file state.
type LanguageSummary struct {
	Language  string    `json:"language"`
	Version   string    `json:"version"`
	Files     int       `json:"files"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// IndexState is the persisted incremental-index document, stored as
// pretty-printed JSON at <root>/index/state/index_state.json.
type IndexState struct {
	mu sync.Mutex

	Files     map[string]FileState       `json:"files"`
	Languages map[string]LanguageSummary `json:"languages"`

	path string
}

// LoadState reads the state document at path, or returns a fresh empty
// state if the file does not exist.
func LoadState(path string) (*IndexState, error) {
	st := &IndexState{
		Files:     map[string]FileState{},
		Languages: map[string]LanguageSummary{},
		path:      path,
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, codeerrors.Wrap(codeerrors.ErrIO, "read index state", err)
	}
	if err := json.Unmarshal(b, st); err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrIO, "parse index state", err)
	}
	if st.Files == nil {
		st.Files = map[string]FileState{}
	}
	if st.Languages == nil {
		st.Languages = map[string]LanguageSummary{}
	}
	return st, nil
}

// FileMtime returns the recorded mtime for relPath and whether it exists.
func (s *IndexState) FileMtime(relPath string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.Files[relPath]
	return fs.Mtime, ok
}

// RecordFile sets the per-file state for relPath.
func (s *IndexState) RecordFile(relPath string, mtime, indexedAt time.Time, chunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Files[relPath] = FileState{Mtime: mtime, Chunks: chunks, IndexedAt: indexedAt}
}

// RecordLanguage sets the per-language summary.
func (s *IndexState) RecordLanguage(summary LanguageSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Languages[summary.Language] = summary
}

// Save persists the state as pretty-printed JSON, creating parent
// directories as needed.
func (s *IndexState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return codeerrors.Wrap(codeerrors.ErrIO, "create index state dir", err)
	}
	b, err := json.MarshalIndent(struct {
		Files     map[string]FileState       `json:"files"`
		Languages map[string]LanguageSummary `json:"languages"`
	}{s.Files, s.Languages}, "", "  ")
	if err != nil {
		return codeerrors.Wrap(codeerrors.ErrIO, "marshal index state", err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return codeerrors.Wrap(codeerrors.ErrIO, "write index state", err)
	}
	return nil
}
