package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"crossmap/internal/domain"
	"crossmap/internal/usecase"
)

var (
	infoItem    itemFlags
	infoDataset string
	infoIDs     []string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "List datasets and their sizes",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

var featuresCmd = &cobra.Command{
	Use:   "features [text]",
	Short: "Show the encoded features of a document",
	RunE:  runFeatures,
}

var countsCmd = &cobra.Command{
	Use:   "counts <feature>...",
	Short: "Show co-occurrence counts of features in a dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCounts,
}

var distancesCmd = &cobra.Command{
	Use:   "distances [text]",
	Short: "Show distances from a document to named items",
	Long: `Compute Euclidean distances between a (diffused) document and items of a dataset.

Examples:
  crossmap distances "kidney failure" --ids A,B --dataset targets`,
	RunE: runDistances,
}

func init() {
	rootCmd.AddCommand(summaryCmd, featuresCmd, countsCmd, distancesCmd)
	featuresCmd.Flags().StringVar(&infoItem.data, "data", "", "document text")
	featuresCmd.Flags().StringVar(&infoItem.dataPos, "data-pos", "", "text with positive weight")
	featuresCmd.Flags().StringVar(&infoItem.dataNeg, "data-neg", "", "text with negative weight")
	countsCmd.Flags().StringVar(&infoDataset, "dataset", "", "dataset (default from config)")
	distancesCmd.Flags().StringVar(&infoItem.data, "data", "", "document text")
	distancesCmd.Flags().StringVar(&infoDataset, "dataset", "", "dataset (default from config)")
	distancesCmd.Flags().StringSliceVar(&infoIDs, "ids", nil, "item ids (required)")
	distancesCmd.Flags().StringToStringVar(&queryDiffusion, "diffusion", nil, "diffusion strengths, e.g. targets=1")
	distancesCmd.MarkFlagRequired("ids")
}

func openInfo() (func() error, *usecase.InfoUseCase, error) {
	cfg := GetConfig()
	st, query, err := openQuery(cfg)
	if err != nil {
		return nil, nil, err
	}
	return st.Close, usecase.NewInfoUseCase(cfg.Name, st, query), nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	closeStore, info, err := openInfo()
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := info.Summary()
	if err != nil {
		return err
	}
	if !outputTSV {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	w := cmd.OutOrStdout()
	if err := writeRow(w, "dataset", "size", "file"); err != nil {
		return err
	}
	for _, ds := range summary.Datasets {
		if err := writeRow(w, ds.Label, strconv.Itoa(ds.Size), strconv.FormatBool(ds.File)); err != nil {
			return err
		}
	}
	return nil
}

func runFeatures(cmd *cobra.Command, args []string) error {
	item := infoItem.item(args)
	if item.IsEmpty() {
		return fmt.Errorf("no document given")
	}
	closeStore, info, err := openInfo()
	if err != nil {
		return err
	}
	defer closeStore()
	return writeFeatures(cmd.OutOrStdout(), info.Features(item))
}

func runCounts(cmd *cobra.Command, args []string) error {
	closeStore, info, err := openInfo()
	if err != nil {
		return err
	}
	defer closeStore()

	label := infoDataset
	if label == "" {
		label = GetConfig().DefaultDataset()
	}
	counts, err := info.Counts(label, args)
	if err != nil {
		return err
	}
	if !outputTSV {
		return writeJSON(cmd.OutOrStdout(), counts)
	}
	w := cmd.OutOrStdout()
	if err := writeRow(w, "feature", "co-feature", "count"); err != nil {
		return err
	}
	for _, f := range args {
		for _, fv := range counts[f] {
			if err := writeRow(w, f, fv.Feature, formatFloat(fv.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func runDistances(cmd *cobra.Command, args []string) error {
	strengths, err := parseStrengths(queryDiffusion)
	if err != nil {
		return err
	}
	item := infoItem.item(args)
	if item.IsEmpty() {
		return fmt.Errorf("no document given")
	}
	closeStore, info, err := openInfo()
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := info.Distances(usecase.Query{
		Name:      "query",
		Item:      item,
		Dataset:   infoDataset,
		Diffusion: strengths,
	}, infoIDs)
	if err != nil {
		return err
	}
	return writeSearchResults(cmd.OutOrStdout(), []domain.SearchResult{res})
}
