package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crossmap/internal/domain"
	"crossmap/internal/usecase"
)

var (
	queryItem      itemFlags
	queryFile      string
	queryDataset   string
	queryN         int
	queryDiffusion map[string]string
	queryFactors   []string
)

var searchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Find the targets nearest to a document",
	Long: `Encode a document and rank the items of a dataset by composite distance.

Examples:
  crossmap search "chronic kidney failure" -n 5
  crossmap search --data-pos "heart" --data-neg "liver" --dataset targets
  crossmap search --file queries.yaml --diffusion documents=1 --tsv`,
	RunE: runSearch,
}

var decomposeCmd = &cobra.Command{
	Use:   "decompose [text]",
	Short: "Explain a document as a weighted list of targets",
	Long: `Greedily pick targets that explain a document and fit their coefficients.

Examples:
  crossmap decompose "kidney failure with arrhythmia" -n 3
  crossmap decompose --file queries.yaml --factors T:0001`,
	RunE: runDecompose,
}

var diffuseCmd = &cobra.Command{
	Use:   "diffuse [text]",
	Short: "Show the features of a diffused document",
	Long: `Encode a document, diffuse it using co-occurrence counts and list its
features by decreasing magnitude.

Examples:
  crossmap diffuse "kidney" --diffusion targets=1,documents=0.5`,
	RunE: runDiffuse,
}

func addQueryFlags(cmd *cobra.Command, withFile bool) {
	cmd.Flags().StringVar(&queryItem.data, "data", "", "document text")
	cmd.Flags().StringVar(&queryItem.dataPos, "data-pos", "", "text with positive weight")
	cmd.Flags().StringVar(&queryItem.dataNeg, "data-neg", "", "text with negative weight")
	cmd.Flags().StringVar(&queryDataset, "dataset", "", "target dataset (default from config)")
	cmd.Flags().IntVarP(&queryN, "num", "n", 3, "number of targets")
	cmd.Flags().StringToStringVar(&queryDiffusion, "diffusion", nil, "diffusion strengths, e.g. targets=1,documents=0.5")
	if withFile {
		cmd.Flags().StringVarP(&queryFile, "file", "f", "", "YAML file with query documents")
	}
}

func init() {
	rootCmd.AddCommand(searchCmd, decomposeCmd, diffuseCmd)
	addQueryFlags(searchCmd, true)
	addQueryFlags(decomposeCmd, true)
	addQueryFlags(diffuseCmd, false)
	decomposeCmd.Flags().StringSliceVar(&queryFactors, "factors", nil, "target ids to use first, in order")
}

func buildQuery(args []string) (usecase.Query, error) {
	strengths, err := parseStrengths(queryDiffusion)
	if err != nil {
		return usecase.Query{}, err
	}
	return usecase.Query{
		Name:      "query",
		Item:      queryItem.item(args),
		Dataset:   queryDataset,
		N:         queryN,
		Diffusion: strengths,
		Factors:   queryFactors,
	}, nil
}

func requireInput(q usecase.Query) error {
	if queryFile == "" && q.Item.IsEmpty() {
		return fmt.Errorf("no document given: pass text, --data or --file")
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args)
	if err != nil {
		return err
	}
	if err := requireInput(q); err != nil {
		return err
	}
	st, query, err := openQuery(GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	var results []domain.SearchResult
	if queryFile != "" {
		results, err = query.SearchFile(cmd.Context(), queryFile, q)
	} else {
		var r domain.SearchResult
		r, err = query.Search(q)
		results = []domain.SearchResult{r}
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return writeSearchResults(cmd.OutOrStdout(), results)
}

func runDecompose(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args)
	if err != nil {
		return err
	}
	if err := requireInput(q); err != nil {
		return err
	}
	st, query, err := openQuery(GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	var results []domain.Decomposition
	if queryFile != "" {
		results, err = query.DecomposeFile(cmd.Context(), queryFile, q)
	} else {
		var r domain.Decomposition
		r, err = query.Decompose(q)
		results = []domain.Decomposition{r}
	}
	if err != nil {
		return fmt.Errorf("decomposition failed: %w", err)
	}
	return writeDecompositions(cmd.OutOrStdout(), results)
}

func runDiffuse(cmd *cobra.Command, args []string) error {
	q, err := buildQuery(args)
	if err != nil {
		return err
	}
	if q.Item.IsEmpty() {
		return fmt.Errorf("no document given: pass text or --data")
	}
	st, query, err := openQuery(GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	d, err := query.Diffuse(q)
	if err != nil {
		return fmt.Errorf("diffusion failed: %w", err)
	}
	if outputTSV {
		return writeFeatures(cmd.OutOrStdout(), d.Features)
	}
	return writeJSON(cmd.OutOrStdout(), d)
}
