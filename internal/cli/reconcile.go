package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/errs"
	"github.com/elliot-woods/pgvector-search/internal/usecase"
)

var reconcileMode string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Load the ledger into the vector store",
	Long: `Merge every ledger row into the vector store in a single transaction.

Modes:
  skip    insert only paths the store does not hold yet (default)
  upsert  insert every row and overwrite stored vectors`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileMode, "mode", "skip", "conflict policy: skip or upsert")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	mode, ok := domain.ParseReconcileMode(reconcileMode)
	if !ok {
		return fmt.Errorf("invalid mode %q (want skip or upsert)", reconcileMode)
	}

	cfg := GetConfig()
	out := cmd.OutOrStdout()

	d := &deps{}
	defer d.Close()
	if err := d.withEmbedder(cfg, false); err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	if err := d.withLedger(cfg); err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	if !d.stage.Exists() {
		fmt.Fprintln(out, "No embeddings to reconcile. Run 'pgsearch generate' first.")
		return nil
	}
	if err := d.withStore(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	reconcileUC := usecase.NewReconcileUseCase(d.stage, d.store, GetLogger())
	summary, err := reconcileUC.Reconcile(cmd.Context(), mode)
	if errs.HasCode(err, errs.CodeNothingToReconcile) {
		fmt.Fprintln(out, "No embeddings to reconcile. Run 'pgsearch generate' first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	fmt.Fprintf(out, "Reconcile complete (mode=%s):\n", mode)
	printSummary(out, summary, "Written")
	return nil
}
