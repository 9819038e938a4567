package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type bookmarkInfo struct {
	OrgID     string    `json:"OrgID"`
	RepoID    string    `json:"RepoID"`
	Kind      string    `json:"Kind"`
	Cursor    string    `json:"Cursor"`
	UpdatedAt time.Time `json:"UpdatedAt"`
}

type bookmarkListResponse struct {
	Items []bookmarkInfo `json:"items"`
	Size  int            `json:"size"`
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger and inspect sync passes",
	}

	cmd.AddCommand(newSyncTriggerCmd())
	cmd.AddCommand(newSyncBookmarksCmd())

	return cmd
}

func newSyncTriggerCmd() *cobra.Command {
	var orgID, provider string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Enqueue a sync pass for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{"provider": provider})
			path := fmt.Sprintf("/api/v1/organizations/%s/sync", orgID)
			body, err := globalClient.doRequest("POST", path, bytes.NewReader(payload))
			if err != nil {
				return err
			}

			var job jobInfo
			if err := json.Unmarshal(body, &job); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Sync job %s is %s\n", job.ID, job.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "github", "Provider: github or gitlab")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func newSyncBookmarksCmd() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "Show sync cursors for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/organizations/%s/bookmarks", orgID)
			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp bookmarkListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			headers := []string{"Repo", "Kind", "Cursor", "Updated"}
			var rows [][]string
			for _, b := range resp.Items {
				rows = append(rows, []string{
					b.RepoID,
					b.Kind,
					b.Cursor,
					b.UpdatedAt.Format(time.RFC3339),
				})
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}
