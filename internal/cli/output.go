package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"crossmap/internal/domain"
)

var (
	outputPretty bool
	outputTSV    bool
)

func writeJSON(w io.Writer, v any) error {
	var data []byte
	var err error
	if outputPretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', 6, 64)
}

func writeRow(w io.Writer, fields ...string) error {
	_, err := fmt.Fprintln(w, strings.Join(fields, "\t"))
	return err
}

func writeSearchResults(w io.Writer, results []domain.SearchResult) error {
	if !outputTSV {
		if len(results) == 1 {
			return writeJSON(w, results[0])
		}
		return writeJSON(w, results)
	}
	if err := writeRow(w, "query", "rank", "target", "distance", "title"); err != nil {
		return err
	}
	for _, r := range results {
		for k, id := range r.Targets {
			title := ""
			if k < len(r.Titles) {
				title = r.Titles[k]
			}
			if err := writeRow(w, r.Query, strconv.Itoa(k+1), id, formatFloat(r.Distances[k]), title); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeDecompositions(w io.Writer, results []domain.Decomposition) error {
	if !outputTSV {
		if len(results) == 1 {
			return writeJSON(w, results[0])
		}
		return writeJSON(w, results)
	}
	if err := writeRow(w, "query", "rank", "target", "coefficient", "title"); err != nil {
		return err
	}
	for _, r := range results {
		for k, id := range r.Targets {
			title := ""
			if k < len(r.Titles) {
				title = r.Titles[k]
			}
			if err := writeRow(w, r.Query, strconv.Itoa(k+1), id, formatFloat(r.Coefficients[k]), title); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFeatures(w io.Writer, features []domain.FeatureValue) error {
	if !outputTSV {
		return writeJSON(w, features)
	}
	if err := writeRow(w, "feature", "value"); err != nil {
		return err
	}
	for _, f := range features {
		if err := writeRow(w, f.Feature, formatFloat(f.Value)); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputPretty, "pretty", false, "indent JSON output")
	rootCmd.PersistentFlags().BoolVar(&outputTSV, "tsv", false, "write tab-separated output instead of JSON")
}
