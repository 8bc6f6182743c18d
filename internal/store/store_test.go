package store

import "testing"

func TestBuildWhereClauseNoFilters(t *testing.T) {
	got := buildWhereClause(QueryFilters{})
	if got != "TRUE" {
		t.Fatalf("buildWhereClause() = %q, want %q", got, "TRUE")
	}
}

func TestBuildWhereClauseEqualityPredicates(t *testing.T) {
	got := buildWhereClause(QueryFilters{Language: "go", ASTType: "function_declaration"})
	want := "language = 'go' AND ast_type = 'function_declaration'"
	if got != want {
		t.Fatalf("buildWhereClause() = %q, want %q", got, want)
	}
}

func TestBuildWhereClauseExcludeLanguages(t *testing.T) {
	got := buildWhereClause(QueryFilters{ExcludeLanguages: []string{"python", "rust"}})
	want := "language != 'python' AND language != 'rust'"
	if got != want {
		t.Fatalf("buildWhereClause() = %q, want %q", got, want)
	}
}

func TestBuildWhereClauseEscapesSingleQuotes(t *testing.T) {
	got := buildWhereClause(QueryFilters{Repo: "o'brien/repo"})
	want := "repo = 'o''brien/repo'"
	if got != want {
		t.Fatalf("buildWhereClause() = %q, want %q", got, want)
	}
}

func TestEscapeDoublesSingleQuotes(t *testing.T) {
	if got := escape("it's a 'test'"); got != "it''s a ''test''" {
		t.Fatalf("escape() = %q", got)
	}
}
