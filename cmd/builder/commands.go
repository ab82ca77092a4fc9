package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/buildrun"
	"github.com/scripture-rag/backend/internal/cache/redis"
	"github.com/scripture-rag/backend/internal/evaluation"
	"github.com/scripture-rag/backend/internal/ingestion"
	"github.com/scripture-rag/backend/internal/kg/builder"
	"github.com/scripture-rag/backend/internal/kg/neo4j"
	"github.com/scripture-rag/backend/internal/llm"
	"github.com/scripture-rag/backend/internal/query"
	"github.com/scripture-rag/backend/internal/similarity"
	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/internal/storage/sqlite"
	"github.com/scripture-rag/backend/internal/vector/zilliz"
	"github.com/scripture-rag/backend/pkg/config"
	appLogger "github.com/scripture-rag/backend/pkg/logger"
)

// env holds what every command needs once flags and config are loaded.
type env struct {
	cfg *config.Config
	db  *sqlite.Client
}

func (e *env) close() {
	if e.db != nil {
		e.db.Close()
	}
	appLogger.Sync()
}

// recorder returns the sqlite client as a build recorder, or nil.
func (e *env) recorder() buildrun.Recorder {
	if e.db == nil {
		return nil
	}
	return e.db
}

// setup parses args with the common flags added, binds flags to config keys
// and opens the optional sqlite store.
func setup(fs *pflag.FlagSet, args []string, bind map[string]string) (*env, error) {
	configPath := fs.String("config", "", "Config file (default: search ./config.yaml)")
	fs.String("output-dir", "", "Directory artifacts are read from and written to")
	fs.Bool("store", true, "Persist builds to SQLite")
	fs.String("log-level", "", "Log level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	bind["output-dir"] = "builder.outputDir"
	bind["store"] = "sqlite.enabled"
	bind["log-level"] = "logging.level"
	for flag, key := range bind {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if err := appLogger.Init(cfg.Logging.Level, "console", cfg.Logging.OutputPath); err != nil {
		return nil, err
	}

	e := &env{cfg: cfg}
	if cfg.SQLite.Enabled {
		db, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if err := db.InitSchema(); err != nil {
			db.Close()
			return nil, err
		}
		e.db = db
	}
	return e, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runBuildXrefs(args []string) error {
	fs := pflag.NewFlagSet("build-xrefs", pflag.ExitOnError)
	fs.String("references", "", "Reference table JSON (default: built-in seed table)")
	fs.String("clusters", "", "Thematic clusters JSON (default: built-in seed clusters)")

	e, err := setup(fs, args, map[string]string{
		"references": "builder.referenceTable",
		"clusters":   "builder.thematicTable",
	})
	if err != nil {
		return err
	}
	defer e.close()

	table := builder.SeedReferences
	if path := e.cfg.Builder.ReferenceTable; path != "" {
		if table, err = builder.LoadReferenceTable(path); err != nil {
			return err
		}
	}
	clusters := builder.SeedClusters
	if path := e.cfg.Builder.ThematicTable; path != "" {
		if clusters, err = builder.LoadThematicClusters(path); err != nil {
			return err
		}
	}

	var store builder.Store
	if e.db != nil {
		store = e.db
	}

	ctx, cancel := signalContext()
	defer cancel()

	doc, err := builder.NewBuilder(store, e.cfg.Builder.OutputDir).Build(ctx, table, clusters)
	if err != nil {
		return err
	}

	appLogger.Info("Cross references built",
		zap.String("build_id", doc.Metadata.BuildID),
		zap.Int("verses", doc.Metadata.TotalVersesWithRefs),
	)
	return nil
}

func runBuildSimilarity(args []string) error {
	fs := pflag.NewFlagSet("build-similarity", pflag.ExitOnError)
	fs.Float64("threshold", 0, "Minimum cosine similarity (exclusive)")
	fs.Int("top-k", 0, "Neighbours kept per verse")
	fs.Int("progress-every", 0, "Log progress every N verses")
	fs.Bool("merge-references", true, "Blend direct references into the table")

	e, err := setup(fs, args, map[string]string{
		"threshold":        "builder.similarityThreshold",
		"top-k":            "builder.topK",
		"progress-every":   "builder.progressEvery",
		"merge-references": "builder.mergeReferences",
	})
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signalContext()
	defer cancel()

	files := artifacts.NewFileLoader(e.cfg.Builder.OutputDir)
	store, err := files.LoadEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	var refs artifacts.ReferenceGraph
	if e.cfg.Builder.MergeReferences {
		doc, err := files.LoadCrossReferences(ctx)
		switch {
		case err == nil:
			refs = doc.DirectReferences
		case errors.Is(err, artifacts.ErrNotFound):
			appLogger.Warn("Cross references not found, building semantic table only")
		default:
			return fmt.Errorf("failed to load cross references: %w", err)
		}
	}

	var dbStore similarity.Store
	if e.db != nil {
		dbStore = e.db
	}

	opts := similarity.Options{
		Threshold:     e.cfg.Builder.SimilarityThreshold,
		TopK:          e.cfg.Builder.TopK,
		ProgressEvery: e.cfg.Builder.ProgressEvery,
	}
	doc, err := similarity.NewBuilder(dbStore, e.cfg.Builder.OutputDir, opts).Build(ctx, store, refs)
	if err != nil {
		return err
	}

	appLogger.Info("Similarity table built",
		zap.String("build_id", doc.Metadata.BuildID),
		zap.Int("connections", doc.Metadata.TotalConnections),
	)
	return nil
}

func runEmbed(args []string) error {
	fs := pflag.NewFlagSet("embed", pflag.ExitOnError)
	fs.String("verses", "", "Verse table JSON")
	fs.String("model", "", "Embedding model")
	fs.Int("batch-size", 0, "Verses per embedding request")
	fs.Bool("cache", false, "Cache embeddings in Redis")

	e, err := setup(fs, args, map[string]string{
		"verses":     "builder.verseTable",
		"model":      "llm.embeddingModel",
		"batch-size": "llm.batchSize",
		"cache":      "redis.enabled",
	})
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.apiKey is required (SCRIPTURE_RAG_LLM_APIKEY)")
	}

	table, err := ingestion.LoadVerseTable(e.cfg.Builder.VerseTable)
	if err != nil {
		return err
	}
	appLogger.Info("Verse table loaded",
		zap.String("version", table.Metadata.Version),
		zap.Int("verses", table.Len()),
	)

	client := llm.NewClient(
		e.cfg.LLM.APIKey,
		e.cfg.LLM.BaseURL,
		e.cfg.LLM.EmbeddingModel,
		time.Duration(e.cfg.LLM.TimeoutSec)*time.Second,
	)

	opts := []ingestion.Option{
		ingestion.WithBatchSize(e.cfg.LLM.BatchSize),
		ingestion.WithRecorder(e.recorder()),
	}
	if e.cfg.Redis.Enabled {
		rc, err := redis.NewClient(e.cfg.Redis.Host, e.cfg.Redis.Port, e.cfg.Redis.Password, e.cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			defer rc.Close()
			opts = append(opts, ingestion.WithCache(rc, 30*24*time.Hour))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := ingestion.NewProcessor(client, e.cfg.Builder.OutputDir, opts...).Process(ctx, table)
	if err != nil {
		return err
	}

	appLogger.Info("Embeddings generated",
		zap.Int("verses", store.Len()),
		zap.Int("dimension", store.Metadata.Dimension),
	)
	return nil
}

func openZilliz(ctx context.Context, cfg *config.Config, dim int) (*zilliz.Client, error) {
	if dim == 0 {
		dim = cfg.Zilliz.VectorDim
	}
	return zilliz.NewClient(ctx, cfg.Zilliz.Endpoint, cfg.Zilliz.APIKey, cfg.Zilliz.CollectionName, dim)
}

func runIndexVectors(args []string) error {
	fs := pflag.NewFlagSet("index-vectors", pflag.ExitOnError)
	recreate := fs.Bool("recreate", false, "Drop and recreate the collection")
	fs.String("collection", "", "Collection name")

	e, err := setup(fs, args, map[string]string{"collection": "zilliz.collectionName"})
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signalContext()
	defer cancel()

	store, err := artifacts.NewFileLoader(e.cfg.Builder.OutputDir).LoadEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	client, err := openZilliz(ctx, e.cfg, store.Metadata.Dimension)
	if err != nil {
		return err
	}
	defer client.Close()

	run := buildrun.Start(ctx, e.recorder(), models.BuildKindVectorIndex)
	n, err := indexVectors(ctx, client, store, *recreate)
	run.Finish(ctx, n, err)
	return err
}

func indexVectors(ctx context.Context, client *zilliz.Client, store *artifacts.EmbeddingStore, recreate bool) (int, error) {
	if err := client.EnsureCollection(ctx, recreate); err != nil {
		return 0, err
	}
	return client.IndexStore(ctx, store)
}

func runSearchVectors(args []string) error {
	fs := pflag.NewFlagSet("search-vectors", pflag.ExitOnError)
	verseID := fs.String("verse", "", "Verse id to search around")
	k := fs.Int("k", 5, "Neighbours to return")

	e, err := setup(fs, args, map[string]string{})
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signalContext()
	defer cancel()

	store, err := artifacts.NewFileLoader(e.cfg.Builder.OutputDir).LoadEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	vec, ok := store.Vectors[*verseID]
	if !ok {
		return fmt.Errorf("no embedding for verse %q", *verseID)
	}

	client, err := openZilliz(ctx, e.cfg, store.Metadata.Dimension)
	if err != nil {
		return err
	}
	defer client.Close()

	neighbors, err := client.SearchSimilar(ctx, vec, *k)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"verse_id": *verseID, "neighbors": neighbors})
}

func openNeo4j(ctx context.Context, cfg *config.Config) (*neo4j.Client, error) {
	return neo4j.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
}

func runExportGraph(args []string) error {
	fs := pflag.NewFlagSet("export-graph", pflag.ExitOnError)

	e, err := setup(fs, args, map[string]string{})
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signalContext()
	defer cancel()

	doc, err := artifacts.NewFileLoader(e.cfg.Builder.OutputDir).LoadCrossReferences(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cross references: %w", err)
	}

	client, err := openNeo4j(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	run := buildrun.Start(ctx, e.recorder(), models.BuildKindGraphExport)
	stats, err := client.ExportGraph(ctx, doc)
	run.Finish(ctx, stats.References+stats.Members, err)
	return err
}

func runGraphNeighbors(args []string) error {
	fs := pflag.NewFlagSet("graph-neighbors", pflag.ExitOnError)
	verseID := fs.String("verse", "", "Verse id")

	e, err := setup(fs, args, map[string]string{})
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := signalContext()
	defer cancel()

	client, err := openNeo4j(ctx, e.cfg)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	edges, err := client.Neighbors(ctx, *verseID)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"verse_id": *verseID, "references": edges})
}

func runEvaluate(args []string) error {
	fs := pflag.NewFlagSet("evaluate", pflag.ExitOnError)
	dataset := fs.String("dataset", "", "Evaluation dataset JSON (required)")
	k := fs.Int("k", query.DefaultMaxResults, "Results retrieved per query")
	asJSON := fs.Bool("json", false, "Print the full report as JSON")

	e, err := setup(fs, args, map[string]string{})
	if err != nil {
		return err
	}
	defer e.close()

	if *dataset == "" {
		return fmt.Errorf("--dataset is required")
	}
	data, err := evaluation.LoadDataset(*dataset)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine := query.NewEngine(artifacts.NewFileLoader(e.cfg.Builder.OutputDir), query.Options{
		CacheSize:         e.cfg.Engine.CacheSize,
		DefaultMaxResults: e.cfg.Engine.DefaultMaxResults,
		SemanticThreshold: e.cfg.Builder.SimilarityThreshold,
	})
	if err := engine.Initialize(ctx); err != nil {
		return err
	}

	report, err := evaluation.NewEvaluator(engine, *k).RunDatasetEvaluation(ctx, data)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(report)
	}
	fmt.Print(evaluation.GenerateReport(report))
	return nil
}
