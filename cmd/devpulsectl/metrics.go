package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type leadTimeResponse struct {
	PRCount               int     `json:"prCount"`
	FirstCommitToOpenSecs float64 `json:"firstCommitToOpenSecs"`
	FirstResponseSecs     float64 `json:"firstResponseSecs"`
	ReworkSecs            float64 `json:"reworkSecs"`
	MergeSecs             float64 `json:"mergeSecs"`
	MergeToDeploySecs     float64 `json:"mergeToDeploySecs"`
	TotalSecs             float64 `json:"totalSecs"`
}

type deploymentsResponse struct {
	Total    int     `json:"total"`
	Failures int     `json:"failures"`
	CFR      float64 `json:"cfr"`
	Series   []struct {
		Start time.Time `json:"start"`
		Count int       `json:"count"`
	} `json:"series"`
}

type recoveryResponse struct {
	Incidents  int     `json:"incidents"`
	Resolved   int     `json:"resolved"`
	Unresolved int     `json:"unresolved"`
	MTTRSecs   float64 `json:"mttrSecs"`
}

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Read delivery metrics",
	}

	cmd.AddCommand(newMetricsLeadTimeCmd())
	cmd.AddCommand(newMetricsDeploymentsCmd())
	cmd.AddCommand(newMetricsRecoveryCmd())

	return cmd
}

func metricsQuery(from, to string) string {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func newMetricsLeadTimeCmd() *cobra.Command {
	var orgID, from, to string

	cmd := &cobra.Command{
		Use:   "lead-time",
		Short: "Show averaged pull request lead time segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/organizations/%s/metrics/lead-time%s", orgID, metricsQuery(from, to))
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp leadTimeResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			headers := []string{"Segment", "Average"}
			rows := [][]string{
				{"first commit to open", formatSecs(resp.FirstCommitToOpenSecs)},
				{"first response", formatSecs(resp.FirstResponseSecs)},
				{"rework", formatSecs(resp.ReworkSecs)},
				{"merge", formatSecs(resp.MergeSecs)},
				{"merge to deploy", formatSecs(resp.MergeToDeploySecs)},
				{"total", formatSecs(resp.TotalSecs)},
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}

	addMetricsFlags(cmd, &orgID, &from, &to)
	return cmd
}

func newMetricsDeploymentsCmd() *cobra.Command {
	var orgID, from, to, bucket string

	cmd := &cobra.Command{
		Use:   "deployments",
		Short: "Show deployment frequency and change failure rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := metricsQuery(from, to)
			if bucket != "" {
				if query == "" {
					query = "?bucket=" + bucket
				} else {
					query += "&bucket=" + bucket
				}
			}
			path := fmt.Sprintf("/api/v1/organizations/%s/metrics/deployments%s", orgID, query)
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp deploymentsResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			fmt.Printf("Deployments: %d   Failures: %d   CFR: %.1f%%\n", resp.Total, resp.Failures, resp.CFR)
			headers := []string{"Bucket", "Deployments"}
			var rows [][]string
			for _, point := range resp.Series {
				rows = append(rows, []string{
					point.Start.Format("2006-01-02"),
					fmt.Sprintf("%d", point.Count),
				})
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}

	addMetricsFlags(cmd, &orgID, &from, &to)
	cmd.Flags().StringVar(&bucket, "bucket", "weekly", "Series bucket: daily, weekly, monthly")
	return cmd
}

func newMetricsRecoveryCmd() *cobra.Command {
	var orgID, from, to string

	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Show incident counts and mean time to recovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/organizations/%s/metrics/recovery%s", orgID, metricsQuery(from, to))
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp recoveryResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			headers := []string{"Incidents", "Resolved", "Unresolved", "MTTR"}
			rows := [][]string{{
				fmt.Sprintf("%d", resp.Incidents),
				fmt.Sprintf("%d", resp.Resolved),
				fmt.Sprintf("%d", resp.Unresolved),
				formatSecs(resp.MTTRSecs),
			}}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}

	addMetricsFlags(cmd, &orgID, &from, &to)
	return cmd
}

func addMetricsFlags(cmd *cobra.Command, orgID, from, to *string) {
	cmd.Flags().StringVar(orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(from, "from", "", "Interval start (RFC 3339, default 30 days ago)")
	cmd.Flags().StringVar(to, "to", "", "Interval end (RFC 3339, default now)")
	_ = cmd.MarkFlagRequired("org")
}

func formatSecs(secs float64) string {
	return (time.Duration(secs) * time.Second).Round(time.Minute).String()
}
