package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/elliot-woods/pgvector-search/internal/adapter/fs"
	"github.com/elliot-woods/pgvector-search/internal/domain"
	"github.com/elliot-woods/pgvector-search/internal/usecase"
)

var generateNoProgress bool

var generateCmd = &cobra.Command{
	Use:   "generate [dir]",
	Short: "Embed new images into the ledger",
	Long: `Embed every image in the source directory that the ledger does not hold yet.
The source directory defaults to IMAGES_DIR, or TEST_IMAGES_DIR when
TESTING is set. Running the command twice appends nothing the second time.

Examples:
  pgsearch generate                  # Use the configured images directory
  pgsearch generate ./photos         # Embed a specific directory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generateNoProgress, "no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	sourceDir, err := cfg.SourceImagesDir()
	if len(args) > 0 {
		sourceDir, err = args[0], nil
	}
	if err != nil {
		return err
	}

	d := &deps{}
	defer d.Close()
	if err := d.withEmbedder(cfg, false); err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	if err := d.withLedger(cfg); err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}

	walker := fs.NewWalker(fs.DefaultImageIncludes, nil)
	generateUC := usecase.NewGenerateUseCase(walker, d.embedder, d.stage, GetLogger())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanning %s...\n", sourceDir)

	var progress usecase.ProgressFunc
	if !generateNoProgress {
		progress = newProgress(cmd.ErrOrStderr(), "Embedding")
	}

	summary, err := generateUC.Generate(cmd.Context(), sourceDir, progress)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	fmt.Fprintf(out, "\nGeneration complete:\n")
	printSummary(out, summary, "Embedded")
	return nil
}

// newProgress returns a callback that lazily creates a progress bar once
// the total is known and keeps an ETA in its description.
func newProgress(w io.Writer, label string) usecase.ProgressFunc {
	var (
		bar       *progressbar.ProgressBar
		mu        sync.Mutex
		startTime time.Time
	)

	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]"+label+"[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(w)
				}),
			)
		}

		_ = bar.Set(done)

		if done > 0 {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done) / rate * float64(time.Second))
				bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", label, formatDuration(eta)))
			}
		}
	}
}

func printSummary(w io.Writer, s domain.PassSummary, verb string) {
	fmt.Fprintf(w, "  %-10s %d\n", verb+":", s.Succeeded)
	fmt.Fprintf(w, "  %-10s %d\n", "Skipped:", s.Skipped)
	fmt.Fprintf(w, "  %-10s %d\n", "Failed:", s.FailedCount())

	if len(s.Failed) > 0 {
		fmt.Fprintf(w, "\nFailures:\n")
		for _, f := range s.Failed {
			fmt.Fprintf(w, "  - %s: %s\n", f.Identifier, f.Reason)
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
