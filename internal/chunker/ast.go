package chunker

import (
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/seanblong/codesage/pkg/models"
)

// chunkNodeTypes is the fixed set of AST node kinds considered "chunkable",
// spanning the grammars wired into this package.
var chunkNodeTypes = map[string]bool{
	"function_definition":           true,
	"function_declaration":          true,
	"method_definition":             true,
	"method_declaration":            true,
	"class_definition":              true,
	"class_declaration":             true,
	"struct_definition":             true,
	"struct_declaration":            true,
	"enum_definition":               true,
	"enum_declaration":              true,
	"interface_declaration":         true,
	"trait_item":                    true,
	"impl_item":                     true,
	"module_declaration":            true,
	"function_item":                 true,
	"const_item":                    true,
	"static_item":                   true,
	"type_alias":                    true,
	"type_declaration":              true,
	"struct_item":                   true,
	"enum_item":                     true,
	"function":                      true,
	"signature":                     true,
	"method":                        true,
	"class":                         true,
	"module":                        true,
	"arrow_function":                true,
	"generator_function":            true,
	"generator_function_declaration": true,
	"export_statement":              true,
	"lexical_declaration":           true,
	"mod_item":                      true,
	"type_alias_declaration":        true,
	"const_declaration":             true,
}

// nameFieldKinds are the identifier-like child node kinds; a chunk's name is
// the text of its first child whose kind is in this set.
var nameFieldKinds = map[string]bool{
	"identifier":          true,
	"name":                true,
	"property_identifier": true,
	"type_identifier":     true,
	"field_identifier":    true,
}

func grammarFor(language string) *tree_sitter.Language {
	switch language {
	case "Go":
		return tree_sitter.NewLanguage(tree_sitter_go.Language())
	case "Python":
		return tree_sitter.NewLanguage(tree_sitter_python.Language())
	case "JavaScript":
		return tree_sitter.NewLanguage(tree_sitter_javascript.Language())
	case "TypeScript":
		return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	case "Rust":
		return tree_sitter.NewLanguage(tree_sitter_rust.Language())
	case "Java":
		return tree_sitter.NewLanguage(tree_sitter_java.Language())
	default:
		return nil
	}
}

// HasGrammar reports whether a tree-sitter grammar is wired in for language.
func HasGrammar(language string) bool {
	return grammarFor(language) != nil
}

// Grammar exposes the tree-sitter grammar for language, or nil if none is
// wired in. Shared with internal/structural so both packages parse with the
// same grammar table.
func Grammar(language string) *tree_sitter.Language {
	return grammarFor(language)
}

// chunkAST parses source with language's tree-sitter grammar and performs a
// recursive pre-order extraction of chunkable nodes. Once a node is
// emitted, its descendants are not independently re-examined. A node whose
// span exceeds MaxLines is split by recursing into its children first; if
// no child chunk results, the oversized node is emitted whole.
func chunkAST(source, language string, opts Options) ([]models.CodeChunk, error) {
	lang := grammarFor(language)
	if lang == nil {
		return nil, fmt.Errorf("no grammar for language %q", language)
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return nil, err
	}

	src := []byte(source)
	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, fmt.Errorf("parse failed for language %q", language)
	}
	defer tree.Close()

	var chunks []models.CodeChunk
	extractChunks(tree.RootNode(), src, &chunks, opts.MinLines, opts.MaxLines, true)
	return chunks, nil
}

func extractChunks(node *tree_sitter.Node, src []byte, chunks *[]models.CodeChunk, minLines, maxLines int, isRoot bool) {
	if !isRoot && chunkNodeTypes[node.Kind()] {
		startLine := int(node.StartPosition().Row) + 1
		endLine := int(node.EndPosition().Row) + 1
		numLines := endLine - startLine + 1

		if numLines >= minLines {
			if numLines <= maxLines {
				*chunks = append(*chunks, nodeToChunk(node, src, startLine, endLine))
			} else {
				var childChunks []models.CodeChunk
				count := int(node.ChildCount())
				for i := 0; i < count; i++ {
					extractChunks(node.Child(uint(i)), src, &childChunks, minLines, maxLines, false)
				}
				if len(childChunks) > 0 {
					*chunks = append(*chunks, childChunks...)
				} else {
					*chunks = append(*chunks, nodeToChunk(node, src, startLine, endLine))
				}
			}
			return
		}
	}

	count := int(node.ChildCount())
	for i := 0; i < count; i++ {
		extractChunks(node.Child(uint(i)), src, chunks, minLines, maxLines, false)
	}
}

func nodeToChunk(node *tree_sitter.Node, src []byte, startLine, endLine int) models.CodeChunk {
	startByte := node.StartByte()
	endByte := node.EndByte()
	if int(endByte) > len(src) {
		endByte = uint(len(src))
	}
	text := string(src[startByte:endByte])
	return models.CodeChunk{
		Text:      text,
		StartLine: startLine,
		EndLine:   endLine,
		ASTType:   node.Kind(),
		Name:      extractName(node, src),
	}
}

func extractName(node *tree_sitter.Node, src []byte) string {
	count := int(node.ChildCount())
	for i := 0; i < count; i++ {
		child := node.Child(uint(i))
		if child == nil {
			continue
		}
		if nameFieldKinds[child.Kind()] {
			return string(src[child.StartByte():child.EndByte()])
		}
	}
	return ""
}
