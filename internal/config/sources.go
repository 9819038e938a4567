package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SourceRepo is one tracked repository in the sources file.
type SourceRepo struct {
	// Name is the full "owner/name" path at the provider.
	Name string `yaml:"name"`
	// ExternalID is the provider's repository/project id.
	ExternalID string `yaml:"externalId"`
	// DeploymentSource selects how deployments are derived: "WORKFLOW" or
	// "PR_MERGE". Empty defaults to WORKFLOW.
	DeploymentSource string `yaml:"deploymentSource"`
}

// SourceOrg is one tracked organization in the sources file.
type SourceOrg struct {
	Name     string       `yaml:"name"`
	Provider string       `yaml:"provider"` // "github" or "gitlab"
	Repos    []SourceRepo `yaml:"repos"`
}

// SourcesFile is the structure of the tracked-sources YAML file.
type SourcesFile struct {
	Organizations []SourceOrg `yaml:"organizations"`
}

// LoadSources parses and validates the tracked-sources file.
func LoadSources(path string) (*SourcesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var sources SourcesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sources); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}

	for i, org := range sources.Organizations {
		if org.Name == "" {
			return nil, fmt.Errorf("organization %d: field 'name' is required", i)
		}
		switch org.Provider {
		case "github", "gitlab":
		default:
			return nil, fmt.Errorf("organization %s: unsupported provider %q", org.Name, org.Provider)
		}
		for j, repo := range org.Repos {
			if repo.Name == "" {
				return nil, fmt.Errorf("organization %s repo %d: field 'name' is required", org.Name, j)
			}
			switch repo.DeploymentSource {
			case "", "WORKFLOW", "PR_MERGE":
			default:
				return nil, fmt.Errorf("repo %s: unsupported deploymentSource %q", repo.Name, repo.DeploymentSource)
			}
		}
	}
	return &sources, nil
}

// SourceWatcher reloads the tracked-sources file when it changes on disk and
// hands the parsed result to a callback. Events are debounced: editors and
// configmap mounts produce bursts of writes for one logical change.
type SourceWatcher struct {
	path     string
	onChange func(*SourcesFile)
	logger   *slog.Logger
}

// NewSourceWatcher creates a watcher for the given sources file.
func NewSourceWatcher(path string, onChange func(*SourcesFile), logger *slog.Logger) *SourceWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceWatcher{path: path, onChange: onChange, logger: logger}
}

// Run watches until the context is cancelled. The watch is on the directory,
// not the file: rename-based atomic replaces would otherwise drop the watch.
func (w *SourceWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			sources, err := LoadSources(w.path)
			if err != nil {
				w.logger.Error("sources file reload failed, keeping previous sources", "error", err)
				continue
			}
			w.logger.Info("sources file reloaded", "organizations", len(sources.Organizations))
			w.onChange(sources)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fs watcher error", "error", err)
		}
	}
}
