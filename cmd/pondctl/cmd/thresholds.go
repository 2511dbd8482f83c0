package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/pondwatch/internal/alerting"
)

var thresholdsFile string

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Inspect threshold rules",
}

var thresholdsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective threshold table",
	Long: `Print the threshold table pondwatch would use: the built-in defaults,
with any rules from --file replacing the default for the same parameter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := alerting.DefaultCatalog()
		if thresholdsFile != "" {
			var err error
			catalog, err = alerting.LoadCatalogFromFile(thresholdsFile)
			if err != nil {
				return err
			}
		}
		return printCatalog(cmd.OutOrStdout(), catalog)
	},
}

var thresholdsValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a thresholds file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := alerting.LoadCatalogFromFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d rules)\n", args[0], catalog.Len())
		return nil
	},
}

func printCatalog(w io.Writer, catalog *alerting.Catalog) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog.Rules())
	case "yaml":
		return yaml.NewEncoder(w).Encode(alerting.CatalogConfig{Thresholds: catalog.Rules()})
	}

	fmt.Fprintf(w, "\n%-18s  %-12s  %-12s  %-12s  %-12s\n",
		"PARAMETER", "CRITICAL MIN", "NORMAL MIN", "NORMAL MAX", "CRITICAL MAX")
	fmt.Fprintln(w, strings.Repeat("-", 74))
	for _, r := range catalog.Rules() {
		fmt.Fprintf(w, "%-18s  %-12s  %-12s  %-12s  %-12s\n",
			r.Parameter, bound(r.CriticalMin), bound(r.NormalMin), bound(r.NormalMax), bound(r.CriticalMax))
	}
	return nil
}

func bound(v *float64) string {
	if v == nil {
		return "-"
	}
	return alerting.FormatValue(*v)
}

func init() {
	thresholdsShowCmd.Flags().StringVarP(&thresholdsFile, "file", "f", "", "thresholds YAML to merge over the defaults")
	thresholdsCmd.AddCommand(thresholdsShowCmd, thresholdsValidateCmd)
	rootCmd.AddCommand(thresholdsCmd)
}
