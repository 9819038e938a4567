package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// jobInfo mirrors the JSON structure of the server's sync job resource.
type jobInfo struct {
	ID           string     `json:"ID"`
	OrgID        string     `json:"OrgID"`
	Provider     string     `json:"Provider"`
	RequestedBy  string     `json:"RequestedBy"`
	RequestedAt  time.Time  `json:"RequestedAt"`
	State        string     `json:"State"`
	StartedAt    *time.Time `json:"StartedAt"`
	FinishedAt   *time.Time `json:"FinishedAt"`
	AttemptCount int        `json:"AttemptCount"`
	LastError    string     `json:"LastError"`
	ReposSynced  int        `json:"ReposSynced"`
	StagesFailed int        `json:"StagesFailed"`
	DurationMs   int64      `json:"DurationMs"`
}

type jobListResponse struct {
	Items         []jobInfo `json:"items"`
	Size          int       `json:"size"`
	TotalSize     int       `json:"totalSize"`
	NextPageToken string    `json:"nextPageToken"`
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel sync jobs",
	}

	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsCancelCmd())

	return cmd
}

func newJobsListCmd() *cobra.Command {
	var orgID, state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync jobs for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/organizations/%s/jobs", orgID)
			if state != "" {
				path += "?state=" + state
			}

			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp jobListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			headers := []string{"ID", "Provider", "State", "Requested", "Repos", "Failed Stages", "Duration"}
			var rows [][]string
			for _, job := range resp.Items {
				rows = append(rows, []string{
					job.ID,
					job.Provider,
					job.State,
					job.RequestedAt.Format(time.RFC3339),
					fmt.Sprintf("%d", job.ReposSynced),
					fmt.Sprintf("%d", job.StagesFailed),
					(time.Duration(job.DurationMs) * time.Millisecond).String(),
				})
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (queued, running, succeeded, failed, canceled)")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("GET", "/api/v1/jobs/"+args[0], nil)
			if err != nil {
				return err
			}

			var job jobInfo
			if err := json.Unmarshal(body, &job); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			return printJSON(os.Stdout, job)
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("POST", "/api/v1/jobs/"+args[0]+"/cancel", nil)
			if err != nil {
				return err
			}

			var job jobInfo
			if err := json.Unmarshal(body, &job); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Job %s is %s\n", job.ID, job.State)
			return nil
		},
	}
}
