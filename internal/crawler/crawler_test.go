package crawler

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/seanblong/codesage/internal/registry"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func TestCrawlEntrySkipsDirsAndSizeAndExtension(t *testing.T) {
	root := t.TempDir()
	repoDir := filepath.Join(root, "github.com", "rust-lang", "rust")
	mustMkdirAll(t, filepath.Join(repoDir, "src"))
	mustMkdirAll(t, filepath.Join(repoDir, "vendor"))
	mustMkdirAll(t, filepath.Join(repoDir, ".git"))

	mustWriteFile(t, filepath.Join(repoDir, "src", "main.rs"), "fn main() {}\n")
	mustWriteFile(t, filepath.Join(repoDir, "src", "notes.txt"), "irrelevant\n")
	mustWriteFile(t, filepath.Join(repoDir, "vendor", "dep.rs"), "fn dep() {}\n")
	mustWriteFile(t, filepath.Join(repoDir, ".git", "ignored.rs"), "fn x() {}\n")

	entry := &registry.LanguageEntry{
		Name:      "Rust",
		GithubURL: "https://github.com/rust-lang/rust",
	}
	setExternalDir(entry, root)

	c := New(map[string][]string{".rs": {"Rust"}})
	files, err := c.CrawlEntry(entry)
	if err != nil {
		t.Fatalf("CrawlEntry: %v", err)
	}

	var rels []string
	for _, f := range files {
		rels = append(rels, f.RelativePath)
	}
	sort.Strings(rels)

	want := []string{filepath.Join("src", "main.rs")}
	if len(rels) != len(want) || rels[0] != want[0] {
		t.Fatalf("crawled files = %v, want %v", rels, want)
	}
}

func TestCrawlEntryNoRepoReturnsEmpty(t *testing.T) {
	entry := &registry.LanguageEntry{Name: "Rust", GithubURL: "https://github.com/rust-lang/rust"}
	setExternalDir(entry, t.TempDir())

	c := New(map[string][]string{".rs": {"Rust"}})
	files, err := c.CrawlEntry(entry)
	if err != nil {
		t.Fatalf("CrawlEntry: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %d", len(files))
	}
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// setExternalDir uses the registry catalog-loading path to attach an
// external directory to a hand-built entry, since the field is unexported.
func setExternalDir(e *registry.LanguageEntry, dir string) {
	path := filepath.Join(dir, "index.tsv")
	_ = os.WriteFile(path, []byte(e.Name+"\t\tLanguage\t\t\t"+e.GithubURL+"\t\n"), 0o644)
	r, err := registry.Load(path, dir)
	if err != nil {
		return
	}
	got, ok := r.Get(e.Name)
	if ok {
		*e = *got
	}
}
