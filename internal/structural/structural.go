// Package structural compares two code fragments' structure: tree-sitter
// feature extraction when a grammar is wired in, a keyword-scan heuristic
// otherwise, and a six-component similarity score.
package structural

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/seanblong/codesage/internal/chunker"
	"github.com/seanblong/codesage/pkg/models"
)

var blockKinds = map[string]bool{
	"block": true, "statement_block": true, "compound_statement": true,
	"body": true, "function_body": true, "class_body": true, "do_block": true,
}

var paramListKinds = map[string]bool{
	"parameters": true, "formal_parameters": true, "parameter_list": true,
}

var skipParamChildKinds = map[string]bool{
	"(": true, ")": true, ",": true, "comment": true,
}

// Compare parses both fragments (tree-sitter preferred, heuristic
// fallback) and returns their similarity, per spec.md §4.9.
func Compare(codeA, langA, codeB, langB string) models.ComparisonResult {
	featuresA := ExtractFeatures(codeA, langA)
	featuresB := ExtractFeatures(codeB, langB)

	similarity := computeSimilarity(featuresA, featuresB)

	return models.ComparisonResult{
		Similarity: similarity,
		FeaturesA:  featuresA,
		FeaturesB:  featuresB,
		Details: map[string]any{
			"param_match":          featuresA.ParamCount == featuresB.ParamCount,
			"depth_diff":           absInt(featuresA.NestingDepth - featuresB.NestingDepth),
			"complexity_diff":      absInt(featuresA.CyclomaticComplexity - featuresB.CyclomaticComplexity),
			"control_flow_overlap": len(intersect(featuresA.ControlFlow, featuresB.ControlFlow)),
		},
	}
}

// ExtractFeatures parses code with language's tree-sitter grammar when
// available, else falls back to a line-based keyword scan.
func ExtractFeatures(code, language string) models.StructuralFeatures {
	features := models.StructuralFeatures{
		LineCount:            countNonBlankLines(code),
		CyclomaticComplexity: 1,
	}

	lang := chunker.Grammar(language)
	if lang == nil {
		return extractFeaturesHeuristic(code, features)
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang); err != nil {
		return extractFeaturesHeuristic(code, features)
	}

	src := []byte(code)
	tree := parser.Parse(src, nil)
	if tree == nil {
		return extractFeaturesHeuristic(code, features)
	}
	defer tree.Close()

	analyzeNode(tree.RootNode(), &features, 0)
	return features
}

func analyzeNode(node *tree_sitter.Node, f *models.StructuralFeatures, depth int) {
	if node == nil {
		return
	}
	if depth > f.NestingDepth {
		f.NestingDepth = depth
	}

	kind := node.Kind()

	if paramListKinds[kind] {
		count := 0
		childCount := int(node.ChildCount())
		for i := 0; i < childCount; i++ {
			c := node.Child(uint(i))
			if c == nil || skipParamChildKinds[c.Kind()] {
				continue
			}
			count++
		}
		if count > f.ParamCount {
			f.ParamCount = count
		}
	}

	switch kind {
	case "if_statement", "if_expression", "conditional_expression":
		f.HasConditional = true
		f.CyclomaticComplexity++
		f.ControlFlow = appendUnique(f.ControlFlow, "if")
	case "for_statement", "for_expression", "for_in_statement":
		f.HasLoop = true
		f.CyclomaticComplexity++
		f.ControlFlow = appendUnique(f.ControlFlow, "for")
	case "while_statement", "while_expression":
		f.HasLoop = true
		f.CyclomaticComplexity++
		f.ControlFlow = appendUnique(f.ControlFlow, "while")
	case "match_statement", "match_expression", "switch_statement":
		f.CyclomaticComplexity++
		f.ControlFlow = appendUnique(f.ControlFlow, "match")
	case "try_statement", "try_expression":
		f.ControlFlow = appendUnique(f.ControlFlow, "try")
	case "return_statement":
		f.ControlFlow = appendUnique(f.ControlFlow, "return")
	case "yield_expression", "yield_statement":
		f.ControlFlow = appendUnique(f.ControlFlow, "yield")
	}

	isBlock := blockKinds[kind]
	childDepth := depth
	if isBlock {
		childDepth++
	}

	childCount := int(node.ChildCount())
	for i := 0; i < childCount; i++ {
		analyzeNode(node.Child(uint(i)), f, childDepth)
	}
}

func extractFeaturesHeuristic(code string, features models.StructuralFeatures) models.StructuralFeatures {
	for _, line := range strings.Split(code, "\n") {
		stripped := strings.TrimSpace(line)
		if containsAny(stripped, "if ", "if(", "elif ", "else if") {
			features.HasConditional = true
			features.CyclomaticComplexity++
		}
		if containsAny(stripped, "for ", "for(", "while ", "while(", "loop ") {
			features.HasLoop = true
			features.CyclomaticComplexity++
		}
	}
	return features
}

func computeSimilarity(a, b models.StructuralFeatures) float64 {
	var scores []float64

	if a.ParamCount == b.ParamCount {
		scores = append(scores, 1.0)
	} else {
		diff := absInt(a.ParamCount - b.ParamCount)
		scores = append(scores, maxFloat(0, 1.0-float64(diff)*0.2))
	}

	depthDiff := absInt(a.NestingDepth - b.NestingDepth)
	scores = append(scores, maxFloat(0, 1.0-float64(depthDiff)*0.15))

	maxCC := maxInt(maxInt(a.CyclomaticComplexity, b.CyclomaticComplexity), 1)
	minCC := minInt(a.CyclomaticComplexity, b.CyclomaticComplexity)
	scores = append(scores, float64(minCC)/float64(maxCC))

	if len(a.ControlFlow) == 0 && len(b.ControlFlow) == 0 {
		scores = append(scores, 1.0)
	} else {
		union := unionSize(a.ControlFlow, b.ControlFlow)
		scores = append(scores, float64(len(intersect(a.ControlFlow, b.ControlFlow)))/float64(union))
	}

	maxLines := maxInt(maxInt(a.LineCount, b.LineCount), 1)
	minLines := minInt(a.LineCount, b.LineCount)
	scores = append(scores, float64(minLines)/float64(maxLines))

	matches := 0
	if a.HasLoop == b.HasLoop {
		matches++
	}
	if a.HasConditional == b.HasConditional {
		matches++
	}
	if a.HasRecursion == b.HasRecursion {
		matches++
	}
	scores = append(scores, float64(matches)/3.0)

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func countNonBlankLines(code string) int {
	n := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func appendUnique(ss []string, s string) []string {
	for _, existing := range ss {
		if existing == s {
			return ss
		}
	}
	return append(ss, s)
}

func intersect(a, b []string) []string {
	bSet := map[string]bool{}
	for _, s := range b {
		bSet[s] = true
	}
	var out []string
	for _, s := range a {
		if bSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func unionSize(a, b []string) int {
	set := map[string]bool{}
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	return len(set)
}

func absInt(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
