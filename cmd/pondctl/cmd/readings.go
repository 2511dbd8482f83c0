package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/pondwatch/internal/alerting"
	"github.com/good-yellow-bee/pondwatch/internal/models"
)

var (
	readingsSince string
	readingsLimit int
)

var readingsCmd = &cobra.Command{
	Use:   "readings",
	Short: "Query stored readings",
}

var readingsLatestCmd = &cobra.Command{
	Use:   "latest <pond-id>",
	Short: "Show the most recent reading for a pond",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var r models.Reading
		path := "/api/v1/ponds/" + url.PathEscape(args[0]) + "/readings/latest"
		if err := newAPIClient(serverURL).get(ctx, path, nil, &r); err != nil {
			return err
		}
		return printReadings(cmd.OutOrStdout(), []*models.Reading{&r})
	},
}

var readingsHistoryCmd = &cobra.Command{
	Use:   "history <pond-id>",
	Short: "Show recent readings for a pond, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		q := url.Values{}
		if readingsSince != "" {
			q.Set("since", readingsSince)
		}
		if readingsLimit > 0 {
			q.Set("limit", strconv.Itoa(readingsLimit))
		}
		var list struct {
			Items []*models.Reading `json:"items"`
		}
		path := "/api/v1/ponds/" + url.PathEscape(args[0]) + "/readings"
		if err := newAPIClient(serverURL).get(ctx, path, q, &list); err != nil {
			return err
		}
		return printReadings(cmd.OutOrStdout(), list.Items)
	},
}

func printReadings(w io.Writer, readings []*models.Reading) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(readings)
	}
	if len(readings) == 0 {
		fmt.Fprintln(w, "No readings found.")
		return nil
	}

	fmt.Fprintf(w, "\n%-20s  %-12s", "TIMESTAMP", "POND")
	for _, p := range models.Parameters {
		fmt.Fprintf(w, "  %-10s", truncate(string(p), 10))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 36+12*len(models.Parameters)))

	for _, r := range readings {
		fmt.Fprintf(w, "%-20s  %-12s", r.Timestamp.Local().Format("2006-01-02 15:04:05"), truncate(r.PondID, 12))
		for _, p := range models.Parameters {
			cell := "-"
			if v, ok := r.Value(p); ok {
				cell = alerting.FormatValue(v)
			}
			fmt.Fprintf(w, "  %-10s", cell)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func init() {
	readingsHistoryCmd.Flags().StringVar(&readingsSince, "since", "", "window start: RFC3339, duration like 6h, or unix seconds")
	readingsHistoryCmd.Flags().IntVar(&readingsLimit, "limit", 0, "maximum readings to return")

	readingsCmd.AddCommand(readingsLatestCmd, readingsHistoryCmd)
	rootCmd.AddCommand(readingsCmd)
}
