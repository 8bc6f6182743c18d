// Package crawler walks cloned repository directories and emits the source
// files eligible for chunking, per a language's extension map.
package crawler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/codesage/internal/registry"
)

// skipDirs are pruned during the walk: VCS metadata, dependency
// directories, build outputs, caches, and packaging artifacts.
var skipDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, "node_modules": true,
	"__pycache__": true, ".tox": true, ".eggs": true,
	"vendor": true, "third_party": true, "dist": true, "build": true,
	".cache": true, ".mypy_cache": true, ".pytest_cache": true, ".ruff_cache": true,
}

// MaxFileSize is the per-file size cap (1MB) above which files are skipped.
const MaxFileSize = 1_000_000

// SourceFile is a discovered file ready for chunking.
type SourceFile struct {
	Path         string
	Language     string
	Repo         string
	RelativePath string
}

// Crawler discovers source files under cloned repo roots using an
// extension -> language-names map built by the registry.
type Crawler struct {
	extMap map[string][]string
}

// New builds a Crawler from the registry's extension map.
func New(extMap map[string][]string) *Crawler {
	return &Crawler{extMap: extMap}
}

// CrawlEntry walks one language entry's repo root and returns every
// eligible source file.
func (c *Crawler) CrawlEntry(entry *registry.LanguageEntry) ([]SourceFile, error) {
	repoPath := entry.RepoPath()
	if repoPath == "" || !entry.HasRepo() {
		return nil, nil
	}

	repoID := strings.TrimRight(entry.GithubURL, "/")
	repoID = strings.TrimPrefix(repoID, "https://")
	repoID = strings.TrimPrefix(repoID, "http://")

	var out []SourceFile
	err := godirwalk.Walk(repoPath, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				name := de.Name()
				if path != repoPath && (skipDirs[name] || strings.HasSuffix(name, ".egg-info")) {
					return filepath.SkipDir
				}
				return nil
			}

			ext := primaryExtension(de.Name())
			if ext == "" {
				return nil
			}
			langs, ok := c.extMap[ext]
			if !ok || !contains(langs, entry.Name) {
				return nil
			}

			fi, err := os.Stat(path)
			if err != nil {
				return nil
			}
			if fi.Size() > MaxFileSize {
				return nil
			}

			rel, err := filepath.Rel(repoPath, path)
			if err != nil {
				return nil
			}
			out = append(out, SourceFile{
				Path:         path,
				Language:     entry.Name,
				Repo:         repoID,
				RelativePath: rel,
			})
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Debug().Err(err).Str("path", path).Msg("crawler: skipping file")
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CrawlEntries crawls every given entry's repo and concatenates the results.
func (c *Crawler) CrawlEntries(entries []*registry.LanguageEntry) ([]SourceFile, error) {
	var all []SourceFile
	for _, e := range entries {
		files, err := c.CrawlEntry(e)
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
	}
	return all, nil
}

// primaryExtension returns the rightmost extension of a filename, handling
// compound extensions such as "archive.tar.gz" -> ".gz".
func primaryExtension(name string) string {
	ext := filepath.Ext(name)
	return ext
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
