package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// repoInfo mirrors the JSON structure of the server's repository resource.
type repoInfo struct {
	ID               string `json:"ID"`
	OrgID            string `json:"OrgID"`
	Provider         string `json:"Provider"`
	ExternalRepoID   string `json:"ExternalRepoID"`
	Name             string `json:"Name"`
	DefaultBranch    string `json:"DefaultBranch"`
	DeploymentSource string `json:"DeploymentSource"`
	SyncEnabled      bool   `json:"SyncEnabled"`
}

type repoListResponse struct {
	Items []repoInfo `json:"items"`
	Size  int        `json:"size"`
}

func newReposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage tracked repositories",
		Long:  "List, add, enable, and disable the repositories devpulse syncs for an organization.",
	}

	cmd.AddCommand(newReposListCmd())
	cmd.AddCommand(newReposAddCmd())
	cmd.AddCommand(newReposEnableCmd())
	cmd.AddCommand(newReposDisableCmd())

	return cmd
}

func newReposListCmd() *cobra.Command {
	var orgID string
	var provider string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked repositories for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/organizations/%s/repos", orgID)
			if provider != "" {
				path += "?provider=" + provider
			}

			body, err := globalClient.doRequest("GET", path, nil)
			if err != nil {
				return err
			}

			var resp repoListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			headers := []string{"ID", "Name", "Provider", "Deploy Source", "Sync"}
			var rows [][]string
			for _, repo := range resp.Items {
				sync := "enabled"
				if !repo.SyncEnabled {
					sync = "disabled"
				}
				rows = append(rows, []string{
					repo.ID,
					truncate(repo.Name, 50),
					repo.Provider,
					repo.DeploymentSource,
					sync,
				})
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider (github, gitlab)")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func newReposAddCmd() *cobra.Command {
	var orgID, name, provider, externalID, deploySource string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Track a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{
				"name":             name,
				"provider":         provider,
				"externalRepoId":   externalID,
				"deploymentSource": deploySource,
			})
			path := fmt.Sprintf("/api/v1/organizations/%s/repos", orgID)
			body, err := globalClient.doRequest("POST", path, bytes.NewReader(payload))
			if err != nil {
				return err
			}

			var repo repoInfo
			if err := json.Unmarshal(body, &repo); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Tracking %s (%s)\n", repo.Name, repo.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Repository path, e.g. acme/widget (required)")
	cmd.Flags().StringVar(&provider, "provider", "github", "Provider: github or gitlab")
	cmd.Flags().StringVar(&externalID, "external-id", "", "Provider repository/project id (required)")
	cmd.Flags().StringVar(&deploySource, "deploy-source", "WORKFLOW", "Deployment source: WORKFLOW or PR_MERGE")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("external-id")

	return cmd
}

func newReposEnableCmd() *cobra.Command {
	return newSetSyncEnabledCmd("enable", true)
}

func newReposDisableCmd() *cobra.Command {
	return newSetSyncEnabledCmd("disable", false)
}

func newSetSyncEnabledCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <repo-id>",
		Short: verb + " sync for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]bool{"enabled": enabled})
			path := fmt.Sprintf("/api/v1/repos/%s/sync-enabled", args[0])
			if _, err := globalClient.doRequest("PATCH", path, bytes.NewReader(payload)); err != nil {
				return err
			}
			fmt.Printf("Sync %sd for %s\n", verb, args[0])
			return nil
		},
	}
}
