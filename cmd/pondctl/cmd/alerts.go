package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

var (
	alertsPond   string
	alertsActive bool
	alertsSince  string
	alertsBy     string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and manage alerts",
	Long: `Commands for listing, acknowledging and resolving alerts.

Examples:
  # Active alerts for every pond
  pondctl alerts list

  # Everything raised for pond1 in the last two days
  pondctl alerts list --pond pond1 --since 48h

  # Resolve an alert
  pondctl alerts resolve 3f2a... --by alice`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var list struct {
			Items []*models.Alert `json:"items"`
			Count int             `json:"count"`
		}
		client := newAPIClient(serverURL)

		if alertsPond == "" {
			if err := client.get(ctx, "/api/v1/alerts", nil, &list); err != nil {
				return err
			}
		} else {
			q := url.Values{}
			if alertsActive {
				q.Set("active", "true")
			}
			if alertsSince != "" {
				q.Set("since", alertsSince)
			}
			path := "/api/v1/ponds/" + url.PathEscape(alertsPond) + "/alerts"
			if err := client.get(ctx, path, q, &list); err != nil {
				return err
			}
		}

		return printAlerts(cmd.OutOrStdout(), list.Items)
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateAlert(cmd, args[0], "acknowledge")
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateAlert(cmd, args[0], "resolve")
	},
}

func updateAlert(cmd *cobra.Command, id, action string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var body any
	if alertsBy != "" {
		body = map[string]string{"by": alertsBy}
	}
	var alert models.Alert
	path := "/api/v1/alerts/" + url.PathEscape(id) + "/" + action
	if err := newAPIClient(serverURL).post(ctx, path, body, &alert); err != nil {
		return err
	}
	return printAlerts(cmd.OutOrStdout(), []*models.Alert{&alert})
}

func printAlerts(w io.Writer, alerts []*models.Alert) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(alerts)
	}

	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts found.")
		return nil
	}

	fmt.Fprintf(w, "\n%-36s  %-12s  %-16s  %-8s  %-6s  %-16s  %s\n",
		"ID", "POND", "PARAMETER", "SEVERITY", "STATE", "CREATED", "MESSAGE")
	fmt.Fprintln(w, strings.Repeat("-", 130))
	for _, a := range alerts {
		fmt.Fprintf(w, "%-36s  %-12s  %-16s  %-8s  %-6s  %-16s  %s\n",
			a.ID,
			truncate(a.PondID, 12),
			a.Parameter,
			a.Severity,
			alertState(a),
			a.CreatedAt.Local().Format("2006-01-02 15:04"),
			a.Message,
		)
	}
	fmt.Fprintf(w, "\nTotal: %d alert(s)\n", len(alerts))
	return nil
}

func alertState(a *models.Alert) string {
	switch {
	case a.Resolved:
		return "res"
	case a.Acknowledged:
		return "ack"
	default:
		return "open"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-2] + ".."
}

func init() {
	alertsListCmd.Flags().StringVarP(&alertsPond, "pond", "p", "", "pond ID (default: active alerts for all ponds)")
	alertsListCmd.Flags().BoolVar(&alertsActive, "active", false, "only unresolved alerts (with --pond)")
	alertsListCmd.Flags().StringVar(&alertsSince, "since", "", "window start: RFC3339, duration like 48h, or unix seconds (with --pond)")

	for _, c := range []*cobra.Command{alertsAckCmd, alertsResolveCmd} {
		c.Flags().StringVar(&alertsBy, "by", "", "operator name recorded on the alert")
	}

	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd)
}
