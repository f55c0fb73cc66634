// Package cmd provides the mdvdb CLI commands. It is a thin wrapper around
// internal/engine: argument parsing and result formatting only, no retrieval
// or indexing logic of its own.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kestrel-dev/mdvdb/internal/embed"
	"github.com/kestrel-dev/mdvdb/internal/engine"
	"github.com/kestrel-dev/mdvdb/internal/engineconfig"
	"github.com/kestrel-dev/mdvdb/pkg/version"
)

const configFileName = ".mdvdb.yaml"

// NewRootCmd creates the root command for the mdvdb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mdvdb",
		Short:   "Filesystem-native hybrid search over a markdown vault",
		Long:    `mdvdb indexes a tree of markdown files for hybrid semantic + keyword search.`,
		Version: version.Version,
	}
	cmd.SetVersionTemplate("mdvdb version {{.Version}}\n")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// findProjectRoot walks up from startDir looking for a .mdvdb.yaml or a .git
// directory, falling back to startDir itself if neither is found.
func findProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve start directory: %w", err)
	}

	dir := abs
	for {
		if fileExists(filepath.Join(dir, configFileName)) || dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

// loadConfig reads <root>/.mdvdb.yaml if present and merges it over
// engineconfig.Defaults(); a missing file is not an error.
func loadConfig(root string) (engineconfig.Config, error) {
	cfg := engineconfig.Config{}

	data, err := os.ReadFile(filepath.Join(root, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg.WithDefaults(), nil
		}
		return cfg, fmt.Errorf("read %s: %w", configFileName, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", configFileName, err)
	}
	return cfg.WithDefaults(), nil
}

// buildProvider constructs the embedding provider named by cfg. "mock" (the
// default) needs no network access and is what a fresh `mdvdb ingest` gets
// without any further configuration.
func buildProvider(cfg engineconfig.Config) (embed.Provider, error) {
	switch cfg.Embeddings.Provider {
	case "", "mock":
		return embed.NewMockProvider(cfg.Embeddings.Dimensions), nil
	case "openai", "ollama":
		shape := embed.ShapeOpenAI
		if cfg.Embeddings.Provider == "ollama" {
			shape = embed.ShapeOllama
		}
		return embed.NewHTTPProvider(embed.HTTPConfig{
			Shape:      shape,
			BaseURL:    cfg.Embeddings.BaseURL,
			Model:      cfg.Embeddings.Model,
			APIKey:     cfg.Embeddings.APIKey,
			Dimensions: cfg.Embeddings.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embeddings.Provider)
	}
}

// openEngine resolves the project root, loads its config, builds the
// provider it names, and opens the engine against them. Every subcommand
// shares this path so `ingest`, `search`, and `watch` always see the same
// project and configuration.
func openEngine() (*engine.Engine, error) {
	root, err := findProjectRoot(".")
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	return engine.OpenProject(root, cfg, provider)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
