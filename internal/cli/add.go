package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elliot-woods/pgvector-search/internal/usecase"
)

var addIdentifiers []string

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Embed images and write them straight into the store",
	Long: `Embed each file and upsert it into the vector store, bypassing the ledger.
Each file is stored under its path unless --as gives an identifier at the
same position.

Examples:
  pgsearch add cat.jpg dog.jpg
  pgsearch add /tmp/upload-1.png --as images/cat.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringSliceVar(&addIdentifiers, "as", nil, "identifiers to store the files under, by position")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	d := &deps{}
	defer d.Close()
	if err := d.withEmbedder(cfg, false); err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	if err := d.withStore(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	ingestUC := usecase.NewIngestUseCase(d.embedder, d.store, GetLogger())
	summary := ingestUC.BatchAddSummary(cmd.Context(), args, addIdentifiers)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Add complete:\n")
	printSummary(out, summary, "Stored")

	if summary.FailedCount() > 0 && summary.Succeeded == 0 {
		return fmt.Errorf("no images were stored")
	}
	return nil
}
