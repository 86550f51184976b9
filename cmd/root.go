package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agentic-research/dotted/internal/config"
	"github.com/agentic-research/dotted/internal/logging"
	"github.com/agentic-research/dotted/internal/sqlitestore"
	"github.com/agentic-research/dotted/internal/tree"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
}

// NewRootCmd builds the dotted command tree. Each call returns fresh flag
// state.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "dotted",
		Short:         "Maintain materialized (dotted) paths for a tree stored in SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.DefaultFile, "Path to HCL configuration file")
	root.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite database path (overrides store.dsn)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (overrides log.level)")

	root.AddCommand(
		newInitCmd(g),
		newAddCmd(g),
		newMoveCmd(g),
		newShowCmd(g),
		newListCmd(g),
		newRebuildCmd(g),
		newCheckCmd(g),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is an opened store plus the service over it.
type session struct {
	store *sqlitestore.Store
	svc   *tree.Service
}

func (s *session) Close() error {
	return s.store.Close()
}

func openSession(ctx context.Context, g *globalFlags, stderr io.Writer) (*session, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.dbPath != "" {
		cfg.Store.DSN = g.dbPath
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)

	if dir := filepath.Dir(cfg.Store.DSN); dir != "." && cfg.Store.DSN != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	store, err := sqlitestore.Open(ctx, cfg.Store.DSN, cfg.Schema(), logger)
	if err != nil {
		return nil, err
	}
	return &session{store: store, svc: tree.New(store, cfg.TreeOptions(), logger)}, nil
}

func loadConfig(path string) (*config.Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return config.Load(osfs.New(filepath.Dir(abs)), filepath.Base(abs))
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, g, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(ctx, s)
}
