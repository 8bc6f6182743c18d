// Command codesage-indexer is the CLI entrypoint: it wires configuration,
// the language registry, the embedding model, the vector store, and the
// indexing pipeline together behind three subcommands: index, search, and
// compare.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/seanblong/codesage/internal/chunker"
	"github.com/seanblong/codesage/internal/codeerrors"
	"github.com/seanblong/codesage/internal/config"
	"github.com/seanblong/codesage/internal/crawler"
	"github.com/seanblong/codesage/internal/embedder"
	"github.com/seanblong/codesage/internal/model"
	"github.com/seanblong/codesage/internal/pipeline"
	"github.com/seanblong/codesage/internal/query"
	"github.com/seanblong/codesage/internal/registry"
	"github.com/seanblong/codesage/internal/search"
	"github.com/seanblong/codesage/internal/store"
	"github.com/seanblong/codesage/internal/structural"
)

func main() {
	root := &cobra.Command{
		Use:   "codesage-indexer",
		Short: "Index repositories and query the vector store from the command line",
	}
	root.AddCommand(indexCmd(), searchCmd(), compareCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newFlagSet builds a FlagSet carrying both config.Specification's flags
// and a subcommand's own flags, so a single config.Load call can parse both
// from os.Args without a second, conflicting parse pass. Subcommands disable
// cobra's own flag parsing to make this the sole parser.
func newFlagSet(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ExitOnError)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func buildModel(cfg config.Specification, modelName string) (model.Model, error) {
	mc, err := model.LoadConfig(cfg.IndexStateDir + "/models.json")
	if err != nil {
		return nil, codeerrors.Wrap(codeerrors.ErrConfiguration, "load models.json", err)
	}
	name := modelName
	if name == "" {
		name = mc.ActiveModel
	}
	return model.Build(mc, name)
}

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "index [language|all]",
		Short:              "Crawl, chunk, embed, and store chunks for one language or all cataloged languages",
		Args:               cobra.MaximumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			fs := newFlagSet("index")
			incremental := fs.Bool("incremental", false, "Only re-index files whose mtime has advanced")
			maxFiles := fs.Int("max-files", 0, "Cap the number of files processed (0 = unlimited)")

			cfg, err := config.Load("", fs)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			language := "all"
			if positional := fs.Args(); len(positional) > 1 {
				language = positional[1]
			}

			ctx := context.Background()
			reg, err := registry.Load(cfg.CatalogPath, cfg.ReposRoot)
			if err != nil {
				return err
			}
			m, err := buildModel(cfg, cfg.ModelName)
			if err != nil {
				return err
			}
			st, err := store.New(ctx, cfg.Database)
			if err != nil {
				return codeerrors.Wrap(codeerrors.ErrResource, "connect to store", err)
			}
			defer st.Close()
			if err := st.Migrate(ctx, m.Dim()); err != nil {
				return err
			}

			state, err := pipeline.LoadState(cfg.IndexStateDir + "/state/index_state.json")
			if err != nil {
				return err
			}

			emb := embedder.New(m, cfg.EmbedBatchSize)
			cr := crawler.New(reg.ExtensionMap())
			pl := pipeline.New(reg, cr, m, emb, st, state)

			opts := pipeline.Options{
				Incremental: *incremental,
				MaxFiles:    *maxFiles,
				ChunkOpts:   chunker.Options{MinLines: cfg.ChunkMinLines, MaxLines: cfg.ChunkMaxLines},
				Progress: func(phase string, current, total int) {
					log.Info().Str("phase", phase).Int("current", current).Int("total", total).Msg("indexing progress")
				},
			}

			var results []pipeline.Result
			if language == "all" {
				results, err = pl.IndexAll(ctx, opts)
			} else {
				var r pipeline.Result
				r, err = pl.IndexLanguage(ctx, language, opts)
				results = []pipeline.Result{r}
			}
			if err != nil {
				return err
			}
			for _, r := range results {
				log.Info().Str("language", r.Language).Str("version", r.Version).
					Int("files", r.Files).Int("chunks", r.Chunks).Bool("skipped", r.Skipped).
					Msg("index result")
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "search <query text>",
		Short:              "Run a semantic search against the vector store",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			fs := newFlagSet("search")
			limit := fs.Int("limit", 10, "Maximum number of results")
			language := fs.String("language", "", "Restrict to one language")

			cfg, err := config.Load("", fs)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			positional := fs.Args()
			var q string
			if len(positional) > 1 {
				q = strings.Join(positional[1:], " ")
			}
			if q == "" {
				return codeerrors.Wrap(codeerrors.ErrContract, "search requires a query", nil)
			}

			ctx := context.Background()
			m, err := buildModel(cfg, cfg.ModelName)
			if err != nil {
				return err
			}
			st, err := store.New(ctx, cfg.Database)
			if err != nil {
				return codeerrors.Wrap(codeerrors.ErrResource, "connect to store", err)
			}
			defer st.Close()

			svc := search.NewService(m, st)
			results, err := svc.Query(ctx, q, *limit, store.QueryFilters{Language: *language})
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%.4f\t%s\t%s:%d-%d\n", r.Score, r.Language, r.FilePath, r.StartLine, r.EndLine)
			}
			return nil
		},
	}
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "compare",
		Short:              "Find cross-language equivalents for a code fragment, or structurally compare two fragments",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, rawArgs []string) error {
			fs := newFlagSet("compare")
			codeFile := fs.String("code-file", "", "Path to the source fragment")
			compareFile := fs.String("compare-file", "", "Path to a second fragment for a direct structural comparison (skips the finder)")
			sourceLanguage := fs.String("source-language", "", "Language of the source fragment")
			compareLanguage := fs.String("compare-language", "", "Language of the second fragment, for --compare-file")
			targetLanguages := fs.StringSlice("target-languages", nil, "Restrict equivalents to these languages")
			limit := fs.Int("limit", 10, "Maximum number of equivalents")
			rerank := fs.Bool("rerank", true, "Rerank candidates with the configured rerank model")
			withStructural := fs.Bool("structural", true, "Fuse in structural similarity")

			cfg, err := config.Load("", fs)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			if *codeFile == "" || *sourceLanguage == "" {
				return codeerrors.Wrap(codeerrors.ErrContract, "compare requires --code-file and --source-language", nil)
			}
			code, err := os.ReadFile(*codeFile)
			if err != nil {
				return codeerrors.Wrap(codeerrors.ErrIO, "read code file", err)
			}

			if *compareFile != "" {
				other, err := os.ReadFile(*compareFile)
				if err != nil {
					return codeerrors.Wrap(codeerrors.ErrIO, "read compare file", err)
				}
				lang := *compareLanguage
				if lang == "" {
					lang = *sourceLanguage
				}
				res := structural.Compare(string(code), *sourceLanguage, string(other), lang)
				fmt.Printf("similarity: %.4f\n", res.Similarity)
				return nil
			}

			ctx := context.Background()
			m, err := buildModel(cfg, cfg.ModelName)
			if err != nil {
				return err
			}
			var rerankModel model.Model
			if *rerank && cfg.RerankModel != "" {
				rerankModel, err = buildModel(cfg, cfg.RerankModel)
				if err != nil {
					return err
				}
			}
			st, err := store.New(ctx, cfg.Database)
			if err != nil {
				return codeerrors.Wrap(codeerrors.ErrResource, "connect to store", err)
			}
			defer st.Close()

			finder := query.New(m, st, rerankModel)
			result, err := finder.FindEquivalents(ctx, string(code), *sourceLanguage, query.Options{
				Limit:           *limit,
				Rerank:          *rerank,
				Structural:      *withStructural,
				TargetLanguages: *targetLanguages,
			})
			if err != nil {
				return err
			}
			for _, eq := range result.Equivalents {
				fmt.Printf("%.4f\t%s\t%s:%d-%d\n", eq.Score, eq.Language, eq.FilePath, eq.StartLine, eq.EndLine)
			}
			return nil
		},
	}
}
