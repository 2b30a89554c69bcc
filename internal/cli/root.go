package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elliot-woods/pgvector-search/config"
	"github.com/elliot-woods/pgvector-search/internal/logging"
	"github.com/elliot-woods/pgvector-search/internal/observability"
)

var (
	cfgFile string
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
	tracer  *observability.TracerProvider
)

var rootCmd = &cobra.Command{
	Use:   "pgsearch",
	Short: "Image similarity search over a vector store",
	Long: `pgsearch embeds images with a multimodal encoder, stages the embeddings in a
ledger, reconciles them into a vector store and answers nearest-neighbour
queries by text or by image.

Example usage:
  pgsearch generate                    # Embed new images into the ledger
  pgsearch reconcile --mode skip       # Load the ledger into the store
  pgsearch search -q "a red bicycle"   # Find the closest images
  pgsearch serve                       # Start the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var envFiles []string
		if envFile != "" {
			envFiles = append(envFiles, envFile)
		}

		var err error
		cfg, err = config.Load(cfgFile, envFiles...)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger = logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

		tc := observability.DefaultTracingConfig()
		tc.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
		tc.SampleRate = cfg.Tracing.SampleRate
		tracer, err = observability.InitTracing(cmd.Context(), tc)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if tracer != nil {
			return tracer.Shutdown(context.Background())
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pgsearch.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default is ./.env)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *slog.Logger {
	return logger
}
