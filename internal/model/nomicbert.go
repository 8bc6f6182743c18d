package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/seanblong/codesage/internal/codeerrors"
)

func init() {
	Register("nomic-bert", newNomicBert)
}

// ropeTheta is the RoPE base frequency, per the original NomicBERT weights.
const ropeTheta = 1000.0

// layerWeights holds one transformer layer's parameters. Every matrix is
// row-major with shape [out, in], noted in the field comment.
type layerWeights struct {
	wqkv   *mat.Dense // [3*hidden, hidden], no bias
	wOut   *mat.Dense // [hidden, hidden], no bias
	fc11   *mat.Dense // [intermediate, hidden]
	fc12   *mat.Dense // [intermediate, hidden]
	fc2    *mat.Dense // [hidden, intermediate]
	norm1W []float64  // [hidden]
	norm1B []float64  // [hidden]
	norm2W []float64  // [hidden]
	norm2B []float64  // [hidden]
}

// NomicBert is an encoder-only transformer with token+token-type
// embeddings (no absolute position embeddings), rotary position
// embeddings, no-bias QKV self-attention, SwiGLU feed-forward, post-norm
// residual layers, and CLS-token pooling followed by L2 normalization.
//
// It is the default concrete Embedding Model variant.
type NomicBert struct {
	guardedMode

	hiddenSize       int
	numLayers        int
	numHeads         int
	intermediateSize int
	maxSeqLen        int
	queryPrefix      string
	documentPrefix   string

	tokenizer *Tokenizer

	tokenEmbed [][]float64 // [vocab, hidden]
	typeEmbed  [][]float64 // [2, hidden], token_type 0 used throughout
	layers     []layerWeights

	cosCache [][]float64 // [maxSeqLen][rotaryDim/2]
	sinCache [][]float64
	rotaryDim int
}

func newNomicBert(cfg TypeConfig) (Model, error) {
	hidden := cfg.HiddenSize
	if hidden == 0 {
		hidden = 768
	}
	layers := cfg.NumLayers
	if layers == 0 {
		layers = 12
	}
	heads := cfg.NumHeads
	if heads == 0 {
		heads = 12
	}
	inter := cfg.IntermediateSize
	if inter == 0 {
		inter = hidden * 4
	}
	maxCtx := cfg.MaxContext
	if maxCtx == 0 {
		maxCtx = 512
	}

	nb := &NomicBert{
		hiddenSize:       hidden,
		numLayers:        layers,
		numHeads:         heads,
		intermediateSize: inter,
		maxSeqLen:        maxCtx,
		queryPrefix:      cfg.QueryPrefix,
		documentPrefix:   cfg.DocumentPrefix,
		rotaryDim:        hidden / heads,
	}
	nb.precomputeRotary()

	if cfg.VocabPath != "" {
		tok, err := LoadTokenizer(cfg.VocabPath, maxCtx)
		if err != nil {
			return nil, err
		}
		nb.tokenizer = tok
	}

	return nb, nil
}

func (nb *NomicBert) Dim() int       { return nb.hiddenSize }
func (nb *NomicBert) MaxSeqLen() int { return nb.maxSeqLen }

func (nb *NomicBert) precomputeRotary() {
	half := nb.rotaryDim / 2
	nb.cosCache = make([][]float64, nb.maxSeqLen)
	nb.sinCache = make([][]float64, nb.maxSeqLen)
	for pos := 0; pos < nb.maxSeqLen; pos++ {
		cos := make([]float64, half)
		sin := make([]float64, half)
		for i := 0; i < half; i++ {
			freq := 1.0 / math.Pow(ropeTheta, float64(2*i)/float64(nb.rotaryDim))
			angle := float64(pos) * freq
			cos[i] = math.Cos(angle)
			sin[i] = math.Sin(angle)
		}
		nb.cosCache[pos] = cos
		nb.sinCache[pos] = sin
	}
}

// LoadWeights reads a JSON document of flat tensors: the model weight file
// format is out of scope for this system (spec.md §1), so a simple
// self-describing JSON schema is used rather than any particular
// framework's serialization. Missing tensors fall back to zero-initialized
// weights, which keeps the forward pass runnable (deterministic, not
// meaningful) when no real weights are supplied.
type weightsFile struct {
	TokenEmbedding [][]float64 `json:"token_embedding"`
	TypeEmbedding  [][]float64 `json:"type_embedding"`
	Layers         []struct {
		Wqkv   [][]float64 `json:"wqkv"`
		WOut   [][]float64 `json:"w_out"`
		FC11   [][]float64 `json:"fc11"`
		FC12   [][]float64 `json:"fc12"`
		FC2    [][]float64 `json:"fc2"`
		Norm1W []float64   `json:"norm1_weight"`
		Norm1B []float64   `json:"norm1_bias"`
		Norm2W []float64   `json:"norm2_weight"`
		Norm2B []float64   `json:"norm2_bias"`
	} `json:"layers"`
}

func (nb *NomicBert) LoadWeights(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return codeerrors.Wrap(codeerrors.ErrResource, fmt.Sprintf("weights not found: %s", path), err)
	}
	var wf weightsFile
	if err := json.Unmarshal(b, &wf); err != nil {
		return codeerrors.Wrap(codeerrors.ErrResource, "parse weights", err)
	}

	nb.tokenEmbed = wf.TokenEmbedding
	nb.typeEmbed = wf.TypeEmbedding
	nb.layers = make([]layerWeights, 0, len(wf.Layers))
	for _, l := range wf.Layers {
		nb.layers = append(nb.layers, layerWeights{
			wqkv:   denseFrom(l.Wqkv),
			wOut:   denseFrom(l.WOut),
			fc11:   denseFrom(l.FC11),
			fc12:   denseFrom(l.FC12),
			fc2:    denseFrom(l.FC2),
			norm1W: l.Norm1W,
			norm1B: l.Norm1B,
			norm2W: l.Norm2W,
			norm2B: l.Norm2B,
		})
	}
	return nil
}

func denseFrom(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	r := len(rows)
	c := len(rows[0])
	d := mat.NewDense(r, c, nil)
	for i, row := range rows {
		for j, v := range row {
			d.Set(i, j, v)
		}
	}
	return d
}

func (nb *NomicBert) ensureInitialized() {
	if nb.tokenEmbed == nil {
		// Deterministic zero-init fallback so the forward pass is always
		// runnable even before LoadWeights is called.
		nb.tokenEmbed = make([][]float64, 1)
		nb.tokenEmbed[0] = make([]float64, nb.hiddenSize)
	}
	if nb.layers == nil {
		nb.layers = make([]layerWeights, nb.numLayers)
		for i := range nb.layers {
			nb.layers[i] = layerWeights{
				norm1W: onesVec(nb.hiddenSize),
				norm1B: make([]float64, nb.hiddenSize),
				norm2W: onesVec(nb.hiddenSize),
				norm2B: make([]float64, nb.hiddenSize),
			}
		}
	}
}

func onesVec(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// Embed runs the full forward pass: prefix prepension per current mode,
// WordPiece tokenization, embedding lookup, N transformer layers, CLS
// pooling, and L2 normalization.
func (nb *NomicBert) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if nb.tokenizer == nil {
		return nil, codeerrors.Wrap(codeerrors.ErrResource, "no vocabulary loaded", nil)
	}
	nb.ensureInitialized()

	prefix := nb.documentPrefix
	if nb.currentMode() == ModeQuery {
		prefix = nb.queryPrefix
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	ids, masks := nb.tokenizer.BatchEncode(prefixed)

	out := make([][]float32, len(texts))
	for i := range ids {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		hidden := nb.forwardOne(ids[i], masks[i])
		out[i] = l2Normalize(hidden)
	}
	return out, nil
}

// forwardOne runs the encoder over one already-padded token-id sequence
// and returns the pooled (CLS) hidden state.
func (nb *NomicBert) forwardOne(ids, mask []int) []float64 {
	seqLen := len(ids)
	hidden := make([][]float64, seqLen)
	for i, id := range ids {
		hidden[i] = addVec(embeddingRow(nb.tokenEmbed, id, nb.hiddenSize), embeddingRow(nb.typeEmbed, 0, nb.hiddenSize))
	}

	for _, layer := range nb.layers {
		hidden = nb.attentionSublayer(hidden, mask, layer)
		hidden = nb.ffnSublayer(hidden, layer)
	}

	return hidden[0] // CLS pooling: first position.
}

func embeddingRow(table [][]float64, id, hidden int) []float64 {
	if table == nil || id < 0 || id >= len(table) {
		return make([]float64, hidden)
	}
	row := table[id]
	if len(row) == 0 {
		return make([]float64, hidden)
	}
	out := make([]float64, hidden)
	copy(out, row)
	return out
}

func addVec(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		v := a[i]
		if i < len(b) {
			v += b[i]
		}
		out[i] = v
	}
	return out
}

// attentionSublayer applies no-bias QKV self-attention with rotary
// position embeddings on Q/K, then a post-norm residual:
// norm(residual + attention(x)).
func (nb *NomicBert) attentionSublayer(hidden [][]float64, mask []int, layer layerWeights) [][]float64 {
	seqLen := len(hidden)
	headDim := nb.hiddenSize / nb.numHeads

	q := make([][][]float64, nb.numHeads)
	k := make([][][]float64, nb.numHeads)
	v := make([][][]float64, nb.numHeads)
	for h := 0; h < nb.numHeads; h++ {
		q[h] = make([][]float64, seqLen)
		k[h] = make([][]float64, seqLen)
		v[h] = make([][]float64, seqLen)
	}

	for pos := 0; pos < seqLen; pos++ {
		qkv := matVec(layer.wqkv, hidden[pos], 3*nb.hiddenSize)
		for h := 0; h < nb.numHeads; h++ {
			qh := qkv[h*headDim : (h+1)*headDim]
			kh := qkv[nb.hiddenSize+h*headDim : nb.hiddenSize+(h+1)*headDim]
			vh := qkv[2*nb.hiddenSize+h*headDim : 2*nb.hiddenSize+(h+1)*headDim]
			q[h][pos] = applyRotary(qh, nb.cosCache[pos%len(nb.cosCache)], nb.sinCache[pos%len(nb.sinCache)])
			k[h][pos] = applyRotary(kh, nb.cosCache[pos%len(nb.cosCache)], nb.sinCache[pos%len(nb.sinCache)])
			v[h][pos] = append([]float64(nil), vh...)
		}
	}

	scale := 1.0 / math.Sqrt(float64(headDim))
	attnOut := make([][]float64, seqLen)
	for i := range attnOut {
		attnOut[i] = make([]float64, nb.hiddenSize)
	}

	for h := 0; h < nb.numHeads; h++ {
		for i := 0; i < seqLen; i++ {
			scores := make([]float64, seqLen)
			maxScore := math.Inf(-1)
			for j := 0; j < seqLen; j++ {
				s := dot(q[h][i], k[h][j]) * scale
				if j < len(mask) && mask[j] == 0 {
					s = math.Inf(-1)
				}
				scores[j] = s
				if s > maxScore {
					maxScore = s
				}
			}
			sum := 0.0
			for j := range scores {
				scores[j] = math.Exp(scores[j] - maxScore)
				sum += scores[j]
			}
			if sum == 0 {
				sum = 1
			}
			for d := 0; d < headDim; d++ {
				acc := 0.0
				for j := 0; j < seqLen; j++ {
					acc += (scores[j] / sum) * v[h][j][d]
				}
				attnOut[i][h*headDim+d] = acc
			}
		}
	}

	result := make([][]float64, seqLen)
	for pos := 0; pos < seqLen; pos++ {
		projected := matVec(layer.wOut, attnOut[pos], nb.hiddenSize)
		result[pos] = layerNorm(addVec(hidden[pos], projected), layer.norm1W, layer.norm1B)
	}
	return result
}

// applyRotary rotates the first rotaryDim dimensions of a head vector
// using the GPT-NeoX first-half/second-half pairing: for pair (x1, x2),
// output is (x1*cos - x2*sin, x2*cos + x1*sin). Dimensions beyond rotaryDim
// pass through unchanged.
func applyRotary(x []float64, cos, sin []float64) []float64 {
	out := make([]float64, len(x))
	half := len(cos)
	rotaryDim := 2 * half
	for i := 0; i < half && 2*i+1 < rotaryDim && 2*i+1 < len(x); i++ {
		x1 := x[i]
		x2 := x[half+i]
		out[i] = x1*cos[i] - x2*sin[i]
		out[half+i] = x2*cos[i] + x1*sin[i]
	}
	for i := rotaryDim; i < len(x); i++ {
		out[i] = x[i]
	}
	return out
}

// ffnSublayer applies the SwiGLU feed-forward fc2(fc11(x) * silu(fc12(x)))
// (no biases), then a post-norm residual.
func (nb *NomicBert) ffnSublayer(hidden [][]float64, layer layerWeights) [][]float64 {
	out := make([][]float64, len(hidden))
	for pos, x := range hidden {
		a := matVec(layer.fc11, x, nb.intermediateSize)
		b := matVec(layer.fc12, x, nb.intermediateSize)
		gated := make([]float64, len(a))
		for i := range a {
			gated[i] = a[i] * silu(b[i])
		}
		proj := matVec(layer.fc2, gated, nb.hiddenSize)
		out[pos] = layerNorm(addVec(x, proj), layer.norm2W, layer.norm2B)
	}
	return out
}

func silu(x float64) float64 {
	return x / (1 + math.Exp(-x))
}

func matVec(m *mat.Dense, x []float64, outDim int) []float64 {
	if m == nil {
		return make([]float64, outDim)
	}
	r, c := m.Dims()
	if c != len(x) {
		return make([]float64, outDim)
	}
	xv := mat.NewVecDense(len(x), x)
	yv := mat.NewVecDense(r, nil)
	yv.MulVec(m, xv)
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = yv.AtVec(i)
	}
	return out
}

func dot(a, b []float64) float64 {
	sum := 0.0
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func layerNorm(x []float64, weight, bias []float64) []float64 {
	n := float64(len(x))
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= n

	variance := 0.0
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= n

	const eps = 1e-5
	denom := math.Sqrt(variance + eps)

	out := make([]float64, len(x))
	for i, v := range x {
		norm := (v - mean) / denom
		w := 1.0
		if i < len(weight) {
			w = weight[i]
		}
		b := 0.0
		if i < len(bias) {
			b = bias[i]
		}
		out[i] = norm*w + b
	}
	return out
}

func l2Normalize(x []float64) []float32 {
	sumSq := 0.0
	for _, v := range x {
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(x))
	if norm == 0 {
		return out
	}
	for i, v := range x {
		out[i] = float32(v / norm)
	}
	return out
}
