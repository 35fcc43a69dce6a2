// Package main is the kioku CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "~/.kioku/config.yaml"

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	debug      bool
	output     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "kioku",
		Short:         "Local semantic memory over notes and chat transcripts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("kioku version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	cmd.AddCommand(
		newServeCmd(g),
		newSyncCmd(g),
		newSearchCmd(g),
		newReadCmd(g),
		newAppendCmd(g),
		newIndexFSCmd(g),
		newStatusCmd(g),
		newInitCmd(g),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present, and a missing default file falls back to
// built-in defaults. Returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				cfg, err := config.Load(local)
				return cfg, local, err
			}
		}
		resolved := expandHome(path)
		if _, err := os.Stat(resolved); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
		path = resolved
	}
	cfg, err := config.Load(expandHome(path))
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// setup loads config and builds the logger for a command.
func (g *globals) setup() (*config.Config, *zap.Logger, error) {
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if g.debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.Bool("debug", cfg.Debug))
	return cfg, logger, nil
}

func (g *globals) format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(g.output)
}

// withManager opens the index for the duration of fn.
func (g *globals) withManager(ctx context.Context, fn func(ctx context.Context, m *memory.Manager, cfg *config.Config, logger *zap.Logger) error) error {
	cfg, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	m, err := memory.Open(cfg, memory.WithLogger(logger))
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(ctx, m, cfg, logger)
}
