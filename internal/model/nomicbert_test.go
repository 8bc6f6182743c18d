package model

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testVocabPath(t *testing.T) string {
	t.Helper()
	return writeVocab(t, baseVocab()...)
}

// genMatrix builds a deterministic, non-zero rows x cols matrix so a test
// forward pass exercises real arithmetic instead of the zero-init fallback.
func genMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		row := make([]float64, cols)
		for j := range row {
			row[j] = 0.01 * math.Sin(float64(i*cols+j+1))
		}
		m[i] = row
	}
	return m
}

func genVec(n int, base float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = base
	}
	return v
}

// writeWeights writes a minimal but non-zero weightsFile JSON document
// sized to match the given model dimensions, so a loaded NomicBert produces
// a real (non-zero) CLS hidden state instead of exercising the zero-init
// fallback.
func writeWeights(t *testing.T, vocabSize, hidden, layers, intermediate int) string {
	t.Helper()

	type layerJSON struct {
		Wqkv   [][]float64 `json:"wqkv"`
		WOut   [][]float64 `json:"w_out"`
		FC11   [][]float64 `json:"fc11"`
		FC12   [][]float64 `json:"fc12"`
		FC2    [][]float64 `json:"fc2"`
		Norm1W []float64   `json:"norm1_weight"`
		Norm1B []float64   `json:"norm1_bias"`
		Norm2W []float64   `json:"norm2_weight"`
		Norm2B []float64   `json:"norm2_bias"`
	}
	doc := struct {
		TokenEmbedding [][]float64 `json:"token_embedding"`
		TypeEmbedding  [][]float64 `json:"type_embedding"`
		Layers         []layerJSON `json:"layers"`
	}{
		TokenEmbedding: genMatrix(vocabSize, hidden),
		TypeEmbedding:  genMatrix(2, hidden),
	}
	for i := 0; i < layers; i++ {
		doc.Layers = append(doc.Layers, layerJSON{
			Wqkv:   genMatrix(3*hidden, hidden),
			WOut:   genMatrix(hidden, hidden),
			FC11:   genMatrix(intermediate, hidden),
			FC12:   genMatrix(intermediate, hidden),
			FC2:    genMatrix(hidden, intermediate),
			Norm1W: genVec(hidden, 1),
			Norm1B: genVec(hidden, 0),
			Norm2W: genVec(hidden, 1),
			Norm2B: genVec(hidden, 0),
		})
	}

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal weights: %v", err)
	}
	path := filepath.Join(t.TempDir(), "weights.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	return path
}

func TestNomicBertEmbedUnitNormAndDim(t *testing.T) {
	const hidden, layers, heads, intermediate = 16, 2, 4, 32

	vocab := testVocabPath(t)
	m, err := newNomicBert(TypeConfig{
		HiddenSize:       hidden,
		NumLayers:        layers,
		NumHeads:         heads,
		IntermediateSize: intermediate,
		MaxContext:       32,
		VocabPath:        vocab,
		QueryPrefix:      "search_query: ",
		DocumentPrefix:   "search_document: ",
	})
	if err != nil {
		t.Fatalf("newNomicBert: %v", err)
	}
	if err := m.LoadWeights(writeWeights(t, len(baseVocab()), hidden, layers, intermediate)); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	if err := m.SetMode(ModeDocument); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	vecs, err := m.Embed(context.Background(), []string{"hello world", "hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != m.Dim() {
			t.Fatalf("row %d length = %d, want %d", i, len(v), m.Dim())
		}
		var sumSq float64
		for _, x := range v {
			sumSq += float64(x) * float64(x)
		}
		norm := math.Sqrt(sumSq)
		if math.Abs(norm-1.0) > 1e-4 {
			t.Fatalf("row %d L2 norm = %f, want ~1.0", i, norm)
		}
	}
}

func TestNomicBertEmbedEmptyInput(t *testing.T) {
	vocab := testVocabPath(t)
	m, err := newNomicBert(TypeConfig{HiddenSize: 8, NumLayers: 1, NumHeads: 2, IntermediateSize: 16, MaxContext: 16, VocabPath: vocab})
	if err != nil {
		t.Fatalf("newNomicBert: %v", err)
	}
	vecs, err := m.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("expected empty result, got %d rows", len(vecs))
	}
}

func TestApplyRotaryPreservesMagnitudeOfPairs(t *testing.T) {
	x := []float64{1, 0, 0, 1}
	cos := []float64{math.Cos(0.5), math.Cos(1.0)}
	sin := []float64{math.Sin(0.5), math.Sin(1.0)}
	out := applyRotary(x, cos, sin)

	beforeMag := math.Hypot(x[0], x[2])
	afterMag := math.Hypot(out[0], out[2])
	if math.Abs(beforeMag-afterMag) > 1e-9 {
		t.Fatalf("rotation changed pair magnitude: before=%f after=%f", beforeMag, afterMag)
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatalf("expected error for invalid mode")
	}
	if m, err := ParseMode("query"); err != nil || m != ModeQuery {
		t.Fatalf("ParseMode(query) = %v, %v", m, err)
	}
}
