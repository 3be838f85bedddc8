package cli

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"crossmap/internal/adapter/fs"
	"crossmap/internal/usecase"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build datasets from the configured collections",
	Long: `Read the data files of every configured collection, build the feature map,
encode all items and compute co-occurrence counts. Datasets that are already
populated are left as they are.

The database is stored in <name>/crossmap.db next to the config file.

Examples:
  crossmap build
  crossmap build --config project/crossmap.yaml`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := cfg.ValidateBuild(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	st, err := openStore(cfg, false)
	if err != nil {
		return err
	}
	defer st.Close()

	// Check for schema migration or rebuild
	migrationResult, err := st.CheckMigration(cfg)
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	if migrationResult.NeedsRebuild {
		slog.Info("rebuild required", slog.String("reason", migrationResult.Reason))
		if err := st.Clear(); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	} else if migrationResult.NeedsMigration {
		slog.Info("running schema migration", slog.String("reason", migrationResult.Reason))
	}

	tokenizer, err := newTokenizer(cfg)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var current string
	var startTime time.Time

	progress := func(done, total int, dataset string) {
		barMu.Lock()
		defer barMu.Unlock()

		if dataset != current {
			if bar != nil {
				bar.Finish()
			}
			current = dataset
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", dataset)),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(cmd.ErrOrStderr())
				}),
			)
		}

		bar.Set(done)

		if done > 0 && done < total {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", dataset, formatDuration(eta)))
			}
		}
	}

	buildUC, err := usecase.NewBuildUseCase(cfg, st, fs.NewWalker(nil), fs.NewItemReader(), tokenizer,
		usecase.WithPoolSize(cfg.Workers()),
		usecase.WithProgress(progress),
		usecase.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer buildUC.Close()

	result, err := buildUC.Build(cmd.Context())
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	// Update schema info after a successful build
	if err := st.Migrate(cfg); err != nil {
		return fmt.Errorf("failed to update schema info: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Build complete:\n")
	fmt.Fprintf(out, "  Features:   %d\n", result.Features)
	for _, ds := range result.Datasets {
		fmt.Fprintf(out, "  %-10s  %d items\n", ds.Label+":", ds.Size)
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "  Skipped:    %v (already built)\n", result.Skipped)
	}
	if result.Duplicates > 0 {
		fmt.Fprintf(out, "  Duplicates: %d (ignored)\n", result.Duplicates)
	}
	if result.Empty > 0 {
		fmt.Fprintf(out, "  Empty:      %d (no known features)\n", result.Empty)
	}
	fmt.Fprintf(out, "\nData stored at: %s\n", cfg.DBPath())
	return nil
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
