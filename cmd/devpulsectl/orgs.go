package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// orgInfo mirrors the JSON structure of the server's organization resource.
type orgInfo struct {
	ID        string    `json:"ID"`
	Name      string    `json:"Name"`
	CreatedAt time.Time `json:"CreatedAt"`
}

type orgListResponse struct {
	Items []orgInfo `json:"items"`
	Size  int       `json:"size"`
}

func newOrgsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "Manage tracked organizations",
		Long:  "List and create the organizations whose repositories devpulse syncs.",
	}

	cmd.AddCommand(newOrgsListCmd())
	cmd.AddCommand(newOrgsCreateCmd())

	return cmd
}

func newOrgsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := globalClient.doRequest("GET", "/api/v1/organizations", nil)
			if err != nil {
				return err
			}

			var resp orgListResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			format, err := parseOutputFormat(outputFlag)
			if err != nil {
				return err
			}

			headers := []string{"ID", "Name", "Created"}
			var rows [][]string
			for _, org := range resp.Items {
				rows = append(rows, []string{
					org.ID,
					org.Name,
					org.CreatedAt.Format(time.RFC3339),
				})
			}
			return printOutput(os.Stdout, format, resp, headers, rows)
		},
	}
}

func newOrgsCreateCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{"name": name})
			body, err := globalClient.doRequest("POST", "/api/v1/organizations", bytes.NewReader(payload))
			if err != nil {
				return err
			}

			var org orgInfo
			if err := json.Unmarshal(body, &org); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Printf("Created organization %s (%s)\n", org.Name, org.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Organization name (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
