// Command reportctl runs the report pipeline and the retrieval evaluation
// from the command line, without the HTTP server or any shared stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/diet"
	"github.com/healthsphere/grounded-reports/internal/evaluation"
	"github.com/healthsphere/grounded-reports/internal/extraction"
	"github.com/healthsphere/grounded-reports/internal/generator"
	"github.com/healthsphere/grounded-reports/internal/ingestion"
	"github.com/healthsphere/grounded-reports/internal/llm"
	"github.com/healthsphere/grounded-reports/internal/report"
	"github.com/healthsphere/grounded-reports/internal/retrieval"
	"github.com/healthsphere/grounded-reports/pkg/config"
	appLogger "github.com/healthsphere/grounded-reports/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Process medical reports and evaluate retrieval offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			var paths []string
			if opts.configPath != "" {
				paths = append(paths, opts.configPath)
			}
			loaded, err := config.Load(paths...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded

			level := cfg.Logging.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			// Logs go to stderr so stdout stays parseable.
			return appLogger.Init(level, "console", "stderr")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			appLogger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "directory containing config.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newProcessCommand(func() *config.Config { return cfg }),
		newEvalCommand(func() *config.Config { return cfg }),
	)
	return root
}

func newProcessCommand(cfg func() *config.Config) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run the grounded report pipeline on a PDF, HTML or text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			// The operator names the file directly, so its own directory is
			// the upload directory.
			processor, err := buildProcessor(cfg(), filepath.Dir(path))
			if err != nil {
				return err
			}

			start := time.Now()
			result, err := processor.ProcessFile(cmd.Context(), report.Request{
				UserID:       userID,
				FilePath:     path,
				OriginalName: filepath.Base(path),
			})
			if err != nil {
				return err
			}
			appLogger.Info("Report processed",
				zap.String("file", args[0]),
				zap.Float64("confidence", result.Confidence),
				zap.Duration("elapsed", time.Since(start)),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id recorded on the result")
	return cmd
}

func newEvalCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <dataset.yaml>",
		Short: "Score fact extraction and retrieval against a labelled dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			dataset, err := evaluation.LoadDataset(args[0])
			if err != nil {
				return err
			}

			evaluator := evaluation.NewEvaluator(
				extraction.NewExtractor(appLogger.Named("extraction")),
				retrieval.NewRetriever(
					retrieval.NewHashEmbedder(c.LLM.EmbeddingDim),
					c.Pipeline.TopK,
					appLogger.Named("retrieval"),
				),
				c.Pipeline.ChunkSize,
				c.Pipeline.ChunkOverlap,
			)

			result, err := evaluator.RunDatasetEvaluation(cmd.Context(), dataset)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), evaluation.GenerateReport(result))
			return err
		},
	}
}

// buildProcessor wires the pipeline without persistence. Generation uses the
// configured endpoint and falls back to the OpenAI-compatible provider.
func buildProcessor(cfg *config.Config, uploadDir string) (*report.Processor, error) {
	catalog, err := diet.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("load diet catalog: %w", err)
	}

	var secondary generator.Completer
	if cfg.LLM.APIKey != "" {
		secondary = llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			Temperature:    cfg.LLM.Temperature,
			MaxTokens:      cfg.LLM.MaxTokens,
			Timeout:        time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		}, appLogger.Named("llm"))
	}

	gen := generator.NewAdapter(generator.Config{
		Endpoint:         cfg.Generator.Endpoint,
		APIKey:           cfg.Generator.APIKey,
		Model:            cfg.Generator.Model,
		Timeout:          time.Duration(cfg.Generator.TimeoutSec) * time.Second,
		MaxAttempts:      cfg.Generator.MaxAttempts,
		InitialBackoff:   time.Duration(cfg.Generator.InitialBackoffMs) * time.Millisecond,
		FailureThreshold: cfg.Generator.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Generator.OpenTimeoutSec) * time.Second,
	}, secondary, appLogger.Named("generator"))

	return report.NewProcessor(report.Config{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		ChunkOverlap: cfg.Pipeline.ChunkOverlap,
		UploadDir:    uploadDir,
		Debug:        true,
	}, report.Dependencies{
		Text:      ingestion.NewTextExtractor(appLogger.Named("ingestion")),
		Extractor: extraction.NewExtractor(appLogger.Named("extraction")),
		Retriever: retrieval.NewRetriever(
			retrieval.NewHashEmbedder(cfg.LLM.EmbeddingDim),
			cfg.Pipeline.TopK,
			appLogger.Named("retrieval"),
		),
		Generator: gen,
		Diet:      diet.NewEngine(catalog, appLogger.Named("diet")),
	}, appLogger.Named("report")), nil
}
