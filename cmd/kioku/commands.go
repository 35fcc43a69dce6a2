package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
)

func newSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Bring the index up to date with the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			return g.withManager(cmd.Context(), func(ctx context.Context, m *memory.Manager, _ *config.Config, _ *zap.Logger) error {
				report, err := m.Sync(ctx)
				if err != nil {
					return err
				}
				return cli.WriteSyncReport(cmd.OutOrStdout(), report, format)
			})
		},
	}
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newSearchCmd(g *globals) *cobra.Command {
	var (
		serverURL string
		query     models.SearchQuery
		minScore  float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over notes and transcripts",
		Example: `  kioku search where did I put the spare key
  kioku search --from 2024-05-01 --to 2024-05-31 dentist appointment
  kioku search --server http://localhost:8080 -o json project deadline`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("min-score") {
				query.MinScore = models.Score(minScore)
			}
			query.Query = buildSearchQuery(args)
			if query.Query == "" {
				return errors.New("query is empty")
			}
			if serverURL != "" {
				resp, err := cli.NewClient(serverURL).Search(cmd.Context(), &query)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			}
			return g.withManager(cmd.Context(), func(ctx context.Context, m *memory.Manager, _ *config.Config, _ *zap.Logger) error {
				resp, err := m.Search(ctx, &query)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server at this URL instead of opening the index")
	cmd.Flags().IntVarP(&query.MaxResults, "max-results", "n", 0, "maximum results (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum score in [0,1] (default from config)")
	cmd.Flags().StringVar(&query.DateFrom, "from", "", "earliest chunk date, YYYY-MM-DD")
	cmd.Flags().StringVar(&query.DateTo, "to", "", "latest chunk date, YYYY-MM-DD")
	return cmd
}

func newReadCmd(g *globals) *cobra.Command {
	var from, lines int
	cmd := &cobra.Command{
		Use:   "read <path>",
		Short: "Print a note or transcript by workspace-relative path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			return g.withManager(cmd.Context(), func(ctx context.Context, m *memory.Manager, _ *config.Config, _ *zap.Logger) error {
				result, err := m.ReadFile(ctx, args[0], from, lines)
				if err != nil {
					return err
				}
				return cli.WriteReadResult(cmd.OutOrStdout(), result, format)
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first line, 1-based")
	cmd.Flags().IntVar(&lines, "lines", 0, "number of lines (0 = to the end)")
	return cmd
}

func newAppendCmd(g *globals) *cobra.Command {
	var (
		ex        models.Exchange
		fromStdin bool
	)
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a user/assistant exchange to a transcript and index it",
		Example: `  kioku append --user "what's my dentist's name" --assistant "Dr. Mori"
  echo '{"user":"hi","assistant":"hello","session_id":"s1"}' | kioku append --stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			if fromStdin {
				if ex, err = readExchange(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return g.withManager(cmd.Context(), func(ctx context.Context, m *memory.Manager, _ *config.Config, _ *zap.Logger) error {
				result, err := m.IndexChatExchange(ctx, &ex)
				if err != nil {
					return err
				}
				return cli.WriteAppendResult(cmd.OutOrStdout(), result, format)
			})
		},
	}
	cmd.Flags().StringVar(&ex.User, "user", "", "user message")
	cmd.Flags().StringVar(&ex.Assistant, "assistant", "", "assistant reply")
	cmd.Flags().StringVar(&ex.SessionID, "session", "", "private session id (default: the daily transcript)")
	cmd.Flags().StringVar(&ex.Timestamp, "ts", "", "exchange time, RFC3339 (default: now)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the exchange as JSON from stdin")
	return cmd
}

func readExchange(r io.Reader) (models.Exchange, error) {
	var ex models.Exchange
	if err := json.NewDecoder(r).Decode(&ex); err != nil {
		return ex, fmt.Errorf("decode exchange: %w", err)
	}
	return ex, nil
}

func newIndexFSCmd(g *globals) *cobra.Command {
	var opts models.FilesystemOptions
	cmd := &cobra.Command{
		Use:   "index-fs <root>",
		Short: "Index the directory tree under root, replacing any earlier filesystem index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			return g.withManager(cmd.Context(), func(ctx context.Context, m *memory.Manager, _ *config.Config, _ *zap.Logger) error {
				report, err := m.IndexFilesystem(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return cli.WriteFilesystemReport(cmd.OutOrStdout(), report, format)
			})
		},
	}
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 0, "directory levels to walk, 1 = root only (default from config)")
	cmd.Flags().IntVar(&opts.MaxChunks, "max-chunks", 0, "stop after this many chunks (0 = no limit)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "chunks per embedding batch (default from config)")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "directory names to skip")
	cmd.Flags().BoolVar(&opts.IncludeHidden, "include-hidden", false, "walk hidden directories")
	return cmd
}

func newStatusCmd(g *globals) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index size and configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := g.format()
			if err != nil {
				return err
			}
			if serverURL != "" {
				status, err := cli.NewClient(serverURL).Status(cmd.Context())
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), status, format)
			}
			return g.withManager(cmd.Context(), func(ctx context.Context, m *memory.Manager, _ *config.Config, _ *zap.Logger) error {
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), status, format)
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "ask a running server at this URL instead of opening the index")
	return cmd
}

func newInitCmd(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the workspace directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := expandHome(g.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists", path)
			}
			cfg := config.Default()
			cfg.Embedding.APIKey = "${KIOKU_API_KEY}"
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.Workspace.NotesDir, cfg.Workspace.TranscriptsDir} {
				if err := os.MkdirAll(filepath.Join(cfg.Workspace.Root, dir), 0755); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nWorkspace: %s\n", path, cfg.Workspace.Root)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "kioku version %s\n", version)
			return err
		},
	}
}
