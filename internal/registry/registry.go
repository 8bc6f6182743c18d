// Package registry parses the language catalog (index.tsv) into
// LanguageEntry values and resolves lookups by name, alias, or directory
// name.
package registry

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/codesage/internal/codeerrors"
)

// LanguageEntry is one row of the catalog, plus a lazily-resolved version.
type LanguageEntry struct {
	Name       string
	Aliases    []string
	Category   string
	Extensions []string
	URLs       []string
	GithubURL  string
	DirName    string
	Version    string

	externalDir string
}

// RepoPath returns the expected checkout path for this entry under
// <root>/external/<host>/<owner>/<repo>, or "" if the entry has no GitHub URL.
func (e *LanguageEntry) RepoPath() string {
	if e.GithubURL == "" {
		return ""
	}
	url := strings.TrimRight(e.GithubURL, "/")
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	return filepath.Join(e.externalDir, filepath.FromSlash(url))
}

// HasRepo reports whether the entry's repo has been cloned on disk.
func (e *LanguageEntry) HasRepo() bool {
	p := e.RepoPath()
	if p == "" {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// ResolveVersion returns a manual override if set, else the repo's latest
// tag, else its short HEAD hash, else "unknown". All VCS failures are
// silent: a missing git binary, a timeout, or a directory that isn't a
// repo all fall through to the next strategy.
func (e *LanguageEntry) ResolveVersion(ctx context.Context) string {
	if e.Version != "" {
		return e.Version
	}
	repo := e.RepoPath()
	if repo == "" || !e.HasRepo() {
		return "unknown"
	}
	if tag, ok := runGit(ctx, repo, "describe", "--tags", "--abbrev=0"); ok {
		return tag
	}
	if sha, ok := runGit(ctx, repo, "rev-parse", "--short", "HEAD"); ok {
		return sha
	}
	return "unknown"
}

func runGit(ctx context.Context, dir string, args ...string) (string, bool) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(out))
	if s == "" {
		return "", false
	}
	return s, true
}

// Registry indexes LanguageEntry values by lowercase name, alias, and
// dir_name, all in one map, plus an extension -> language-names map.
type Registry struct {
	entries []*LanguageEntry
	byName  map[string]*LanguageEntry
	extMap  map[string][]string
}

// Load parses tsvPath into a Registry. externalDir is prepended to each
// entry's RepoPath resolution.
func Load(tsvPath, externalDir string) (*Registry, error) {
	f, err := os.Open(tsvPath)
	if err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrConfiguration, fmt.Sprintf("catalog not found: %s", tsvPath), err)
	}
	defer f.Close()

	r := &Registry{
		byName: make(map[string]*LanguageEntry),
		extMap: make(map[string][]string),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		for len(parts) < 7 {
			parts = append(parts, "")
		}

		entry := &LanguageEntry{
			Name:        parts[0],
			Aliases:     splitCSV(parts[1]),
			Category:    parts[2],
			Extensions:  splitCSV(parts[3]),
			URLs:        splitCSV(parts[4]),
			GithubURL:   strings.TrimSpace(parts[5]),
			DirName:     strings.TrimSpace(parts[6]),
			externalDir: externalDir,
		}
		r.entries = append(r.entries, entry)

		r.byName[strings.ToLower(entry.Name)] = entry
		if entry.DirName != "" {
			r.byName[strings.ToLower(entry.DirName)] = entry
		}
		for _, alias := range entry.Aliases {
			r.byName[strings.ToLower(alias)] = entry
		}
		for _, ext := range entry.Extensions {
			r.extMap[ext] = append(r.extMap[ext], entry.Name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrIO, "read catalog", err)
	}

	log.Debug().Int("entries", len(r.entries)).Str("path", tsvPath).Msg("loaded language registry")
	return r, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get looks up an entry by name, alias, or dir_name (case-insensitive).
func (r *Registry) Get(name string) (*LanguageEntry, bool) {
	e, ok := r.byName[strings.ToLower(name)]
	return e, ok
}

// Entries returns every parsed entry, in catalog order.
func (r *Registry) Entries() []*LanguageEntry {
	return r.entries
}

// Languages returns only entries whose category is "Language".
func (r *Registry) Languages() []*LanguageEntry {
	var out []*LanguageEntry
	for _, e := range r.entries {
		if e.Category == "Language" {
			out = append(out, e)
		}
	}
	return out
}

// WithRepos returns entries that have a cloned repo on disk.
func (r *Registry) WithRepos() []*LanguageEntry {
	var out []*LanguageEntry
	for _, e := range r.entries {
		if e.HasRepo() {
			out = append(out, e)
		}
	}
	return out
}

// ExtensionMap returns the extension -> language-names map. One extension
// may map to multiple languages; order of appearance in the catalog is
// preserved.
func (r *Registry) ExtensionMap() map[string][]string {
	return r.extMap
}
