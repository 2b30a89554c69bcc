package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elliot-woods/pgvector-search/internal/server"
	"github.com/elliot-woods/pgvector-search/internal/usecase"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP search API",
	Long: `Serve text search, image search and uploads over HTTP.
The OpenAPI document is available at /openapi.json.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	log := GetLogger()

	d := &deps{}
	defer d.Close()
	if err := d.withEmbedder(cfg, true); err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	if err := d.withStore(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	listen := cfg.Server.Listen
	if serveListen != "" {
		listen = serveListen
	}

	srv, err := server.New(server.Config{
		ListenAddr:     listen,
		CORSOrigins:    []string{cfg.Server.AllowedOrigin},
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	},
		usecase.NewSearchUseCase(d.embedder, d.store, log),
		usecase.NewIngestUseCase(d.embedder, d.store, log),
		log,
	)
	if err != nil {
		return err
	}

	return srv.Start(cmd.Context())
}
