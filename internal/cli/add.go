package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"crossmap/internal/usecase"
)

var (
	addItem    itemFlags
	addDataset string
	addID      string
)

var addCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add an item to a manual dataset",
	Long: `Encode a document and store it in a dataset that is not backed by data
files. The dataset is created when it does not exist yet.

Examples:
  crossmap add --dataset notes --id N1 --title "first note" "kidney stones"`,
	RunE: runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <dataset>",
	Short: "Remove a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete all data of the project",
	Args:  cobra.NoArgs,
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(addCmd, removeCmd, deleteCmd)
	addCmd.Flags().StringVar(&addDataset, "dataset", "", "manual dataset label (required)")
	addCmd.Flags().StringVar(&addID, "id", "", "item id (required)")
	addCmd.Flags().StringVar(&addItem.title, "title", "", "item title")
	addCmd.Flags().StringVar(&addItem.data, "data", "", "item text")
	addCmd.Flags().StringVar(&addItem.dataPos, "data-pos", "", "text with positive weight")
	addCmd.Flags().StringVar(&addItem.dataNeg, "data-neg", "", "text with negative weight")
	addCmd.MarkFlagRequired("dataset")
	addCmd.MarkFlagRequired("id")
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	item := addItem.item(args)
	if item.IsEmpty() {
		return fmt.Errorf("no item data given")
	}

	st, query, err := openQuery(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	addUC, err := usecase.NewAddUseCase(cfg, st, query, usecase.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	idx, err := addUC.Add(addDataset, addID, item)
	if err != nil {
		return fmt.Errorf("add failed: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{"dataset": addDataset, "id": addID, "idx": idx})
}

func runRemove(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	st, query, err := openQuery(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	addUC, err := usecase.NewAddUseCase(cfg, st, query, usecase.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	if err := addUC.Remove(args[0]); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed dataset %s\n", args[0])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := usecase.DeleteData(cfg); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", cfg.DataDir())
	return nil
}
