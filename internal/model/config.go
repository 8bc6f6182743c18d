package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/seanblong/codesage/internal/codeerrors"
)

// TypeConfig is one model's typed configuration, as persisted in
// models.json: a type tag plus the parameters that type needs to
// construct and load itself.
type TypeConfig struct {
	Type             string `json:"type"`
	WeightsPath      string `json:"weights_path"`
	VocabPath        string `json:"vocab_path"`
	HiddenSize       int    `json:"hidden_size"`
	NumLayers        int    `json:"num_layers"`
	NumHeads         int    `json:"num_heads"`
	IntermediateSize int    `json:"intermediate_size"`
	MaxContext       int    `json:"max_context"`
	QueryPrefix      string `json:"query_prefix"`
	DocumentPrefix   string `json:"document_prefix"`
	Pooling          string `json:"pooling"` // "cls", "last_token", "mean"
	Endpoint         string `json:"endpoint,omitempty"`
	APIKeyEnv        string `json:"api_key_env,omitempty"`
}

// Config is the persisted models.json document: which model indexes, which
// one reranks, and every named model's configuration.
type Config struct {
	ActiveModel string                `json:"active_model"`
	RerankModel string                `json:"rerank_model"`
	Models      map[string]TypeConfig `json:"models"`
}

// LoadConfig reads a Config from path. A missing file is a Configuration
// error, per spec.md §7.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrConfiguration, fmt.Sprintf("model config not found: %s", path), err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrConfiguration, "parse model config", err)
	}
	return &cfg, nil
}

// Save pretty-prints the Config to path.
func (c *Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Constructor builds a Model from a TypeConfig. Concrete model packages
// register themselves under a type tag via Register, so the config layer
// never needs a type switch of its own (spec.md §9: "a registry mapping
// type tags to concrete model constructors").
type Constructor func(cfg TypeConfig) (Model, error)

var constructors = map[string]Constructor{}

// Register adds a constructor for a model type tag. Intended to be called
// from package init() in the files defining each concrete variant.
func Register(typeTag string, ctor Constructor) {
	constructors[typeTag] = ctor
}

// Build constructs a Model for a named entry in cfg.Models.
func Build(cfg *Config, name string) (Model, error) {
	tc, ok := cfg.Models[name]
	if !ok {
		return nil, codeerrors.Wrap(codeerrors.ErrConfiguration, fmt.Sprintf("unknown model name %q", name), nil)
	}
	ctor, ok := constructors[tc.Type]
	if !ok {
		return nil, codeerrors.Wrap(codeerrors.ErrConfiguration, fmt.Sprintf("unknown model type %q", tc.Type), nil)
	}
	m, err := ctor(tc)
	if err != nil {
		return nil, err
	}
	if tc.WeightsPath != "" {
		if err := m.LoadWeights(tc.WeightsPath); err != nil {
			return nil, err
		}
	}
	return m, nil
}
