// Package main provides the devpulsectl CLI for operating a devpulse server:
// registering organizations and repositories, triggering syncs, inspecting
// jobs and bookmarks, and reading metrics.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	serverURL    string
	outputFlag   string
	apiKeyFlag   string
	globalClient *devpulseClient
)

// devpulseClient wraps an HTTP client and the server base URL.
type devpulseClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func newDevpulseClient(baseURL string) *devpulseClient {
	return &devpulseClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
}

// doRequest performs an HTTP request and returns the response body bytes.
// It returns an error if the status code indicates a failure.
func (c *devpulseClient) doRequest(method, path string, body io.Reader) ([]byte, error) {
	url := c.baseURL + path

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if apiKeyFlag != "" {
		req.Header.Set("X-API-Key", apiKeyFlag)
	}

	c.logger.Debug("sending request", "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to devpulse server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "devpulsectl",
		Short: "CLI for the devpulse delivery metrics server",
		Long: `devpulsectl is a command-line tool for operating a devpulse server.

It provides commands for registering organizations and repositories,
triggering sync passes, inspecting sync jobs and bookmarks, and reading
delivery metrics.

The CLI communicates with the devpulse-server HTTP API.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			globalClient = newDevpulseClient(serverURL)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Devpulse server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "API key for webhook ingestion endpoints; sets X-API-Key header")

	rootCmd.AddCommand(newOrgsCmd())
	rootCmd.AddCommand(newReposCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newMetricsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
