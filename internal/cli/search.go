package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/usecase"
)

var (
	searchQuery string
	searchImage string
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the images closest to a text or image probe",
	Long: `Rank stored images by cosine distance to a probe.

Examples:
  pgsearch search -q "a dog on a beach"
  pgsearch search --image ./probe.jpg -k 10
  pgsearch search -q "sunset" --json`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "text probe")
	searchCmd.Flags().StringVar(&searchImage, "image", "", "image file to use as probe")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", usecase.DefaultLimit, "number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.MarkFlagsMutuallyExclusive("query", "image")
	searchCmd.MarkFlagsOneRequired("query", "image")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	d := &deps{}
	defer d.Close()
	if err := d.withEmbedder(cfg, true); err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	if err := d.withStore(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	searchUC := usecase.NewSearchUseCase(d.embedder, d.store, GetLogger())

	var (
		results []domain.SearchResult
		err     error
	)
	if searchImage != "" {
		results, err = searchUC.SearchByImageFile(cmd.Context(), searchImage, searchLimit)
	} else {
		results, err = searchUC.SearchByText(cmd.Context(), searchQuery, searchLimit)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%2d. %.4f  %s\n", i+1, r.Distance, r.Identifier)
	}
	return nil
}
