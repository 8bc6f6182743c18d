// Command codesage-api is a thin, unauthenticated HTTP wrapper over
// internal/search, internal/query, and internal/structural.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/seanblong/codesage/internal/codeerrors"
	"github.com/seanblong/codesage/internal/config"
	"github.com/seanblong/codesage/internal/model"
	"github.com/seanblong/codesage/internal/query"
	"github.com/seanblong/codesage/internal/search"
	"github.com/seanblong/codesage/internal/store"
	"github.com/seanblong/codesage/internal/structural"
	"github.com/seanblong/codesage/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("codesage-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("log_level", cfg.LogLevel).Msg("starting codesage api")

	mc, err := model.LoadConfig(cfg.IndexStateDir + "/models.json")
	if err != nil {
		log.Fatalf("Failed to load model config: %v", err)
	}
	m, err := model.Build(mc, cfg.ModelName)
	if err != nil {
		log.Fatalf("Failed to build embedding model: %v", err)
	}

	var rerankModel model.Model
	if cfg.RerankModel != "" {
		rerankModel, err = model.Build(mc, cfg.RerankModel)
		if err != nil {
			log.Fatalf("Failed to build rerank model: %v", err)
		}
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, m.Dim()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	svc := search.NewService(m, st)
	finder := query.New(m, st, rerankModel)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeError(w, codeerrors.Wrap(codeerrors.ErrResource, "store unreachable", err))
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := r.URL.Query().Get("q")
		if q == "" {
			writeError(w, codeerrors.Wrap(codeerrors.ErrContract, "missing query parameter q", nil))
			return
		}
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		filters := store.QueryFilters{
			Language: r.URL.Query().Get("language"),
			Version:  r.URL.Query().Get("version"),
			ASTType:  r.URL.Query().Get("ast_type"),
			Repo:     r.URL.Query().Get("repo"),
		}
		res, err := svc.Query(ctx, q, limit, filters)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sanitizeScores(res))
		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Int("limit", limit).Dur("dur", time.Since(start)).Msg("served")
	})

	mux.HandleFunc("/equivalents", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req struct {
			Code            string   `json:"code"`
			SourceLanguage  string   `json:"source_language"`
			TargetLanguages []string `json:"target_languages"`
			Limit           int      `json:"limit"`
			Rerank          bool     `json:"rerank"`
			Structural      bool     `json:"structural"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, codeerrors.Wrap(codeerrors.ErrContract, "invalid request body", err))
			return
		}
		if req.Code == "" || req.SourceLanguage == "" {
			writeError(w, codeerrors.Wrap(codeerrors.ErrContract, "code and source_language are required", nil))
			return
		}
		if req.Limit <= 0 {
			req.Limit = 10
		}

		ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
		defer cancel()
		result, err := finder.FindEquivalents(ctx, req.Code, req.SourceLanguage, query.Options{
			Limit:           req.Limit,
			Rerank:          req.Rerank,
			Structural:      req.Structural,
			TargetLanguages: req.TargetLanguages,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		result.Equivalents = sanitizeScores(result.Equivalents)
		writeJSON(w, result)
		hlog.FromRequest(r).Info().Str("path", "/equivalents").Str("source_language", req.SourceLanguage).Dur("dur", time.Since(start)).Msg("served")
	})

	mux.HandleFunc("/compare", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req struct {
			CodeA     string `json:"code_a"`
			LanguageA string `json:"language_a"`
			CodeB     string `json:"code_b"`
			LanguageB string `json:"language_b"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, codeerrors.Wrap(codeerrors.ErrContract, "invalid request body", err))
			return
		}
		if req.CodeA == "" || req.LanguageA == "" || req.CodeB == "" || req.LanguageB == "" {
			writeError(w, codeerrors.Wrap(codeerrors.ErrContract, "code_a, language_a, code_b, and language_b are required", nil))
			return
		}
		result := structural.Compare(req.CodeA, req.LanguageA, req.CodeB, req.LanguageB)
		writeJSON(w, result)
		hlog.FromRequest(r).Info().Str("path", "/compare").Dur("dur", time.Since(start)).Msg("served")
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	return json.NewDecoder(r.Body).Decode(dst)
}

func sanitizeScores(res []models.SearchResult) []models.SearchResult {
	for i := range res {
		if math.IsNaN(res[i].Score) || math.IsInf(res[i].Score, 0) {
			res[i].Score = 0
		}
	}
	return res
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// writeError maps an error's codeerrors kind to an HTTP status, per the
// taxonomy: Resource -> 503, Contract -> 400, everything else -> 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, codeerrors.ErrResource):
		status = http.StatusServiceUnavailable
		msg = "models not loaded"
	case errors.Is(err, codeerrors.ErrContract):
		status = http.StatusBadRequest
		msg = "bad request"
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), status)
}
