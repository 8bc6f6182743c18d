package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/seanblong/codesage/internal/codeerrors"
)

func init() {
	Register("remote-api", newRemoteModel)
}

// RemoteModel is a thin HTTP embeddings client adapted to the Model
// contract: useful as an optional, larger reranking model without
// requiring its weights to run in-process (spec.md §4.4/§4.8 "reranking
// with a larger model").
type RemoteModel struct {
	guardedMode

	endpoint       string
	apiKey         string
	dim            int
	maxSeqLen      int
	queryPrefix    string
	documentPrefix string
	http           *http.Client
}

func newRemoteModel(cfg TypeConfig) (Model, error) {
	dim := cfg.HiddenSize
	if dim == 0 {
		dim = EmbeddingDim
	}
	maxCtx := cfg.MaxContext
	if maxCtx == 0 {
		maxCtx = 512
	}
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &RemoteModel{
		endpoint:       cfg.Endpoint,
		apiKey:         apiKey,
		dim:            dim,
		maxSeqLen:      maxCtx,
		queryPrefix:    cfg.QueryPrefix,
		documentPrefix: cfg.DocumentPrefix,
		http:           &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (r *RemoteModel) Dim() int       { return r.dim }
func (r *RemoteModel) MaxSeqLen() int { return r.maxSeqLen }

// LoadWeights is a no-op: a remote model's weights live on the server side
// of the endpoint, not on local disk.
func (r *RemoteModel) LoadWeights(path string) error { return nil }

type remoteEmbedRequest struct {
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (r *RemoteModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if r.apiKey == "" {
		return nil, codeerrors.Wrap(codeerrors.ErrResource, "remote model API key unset", nil)
	}

	prefix := r.documentPrefix
	if r.currentMode() == ModeQuery {
		prefix = r.queryPrefix
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	body, err := json.Marshal(remoteEmbedRequest{Input: prefixed})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrRuntime, "remote embed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, codeerrors.Wrap(codeerrors.ErrRuntime, fmt.Sprintf("remote embed status %d", resp.StatusCode), nil)
	}

	var out remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrRuntime, "decode remote embed response", err)
	}
	if len(out.Data) != len(texts) {
		return nil, codeerrors.Wrap(codeerrors.ErrRuntime, "remote embed returned wrong row count", nil)
	}

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
