package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgelabs/agentforge/internal/config"
	"github.com/forgelabs/agentforge/internal/db"
	"github.com/forgelabs/agentforge/internal/state"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "agentforge — an agent-generation workflow engine",
	Long: `agentforge turns a standard operating procedure into a working conversational
agent: it parses requirements, drafts an architecture plan, generates agent
code and writes the production system prompt, with bounded review gates
between the drafting stages.

Run state is stored in ~/.agentforge/ (SQLite for the audit trail, JSON
checkpoints for resume).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to forge.yaml (default: built-in defaults)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config named by --config, falling back to defaults
// when the flag is unset.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "config: %s\n", e)
		}
		return nil, fmt.Errorf("config %s has %d validation errors", path, len(errs))
	}
	return cfg, nil
}

// openStore returns the checkpoint store, honoring cfg.Store.Dir.
func openStore(cfg *config.Config) (*state.Store, error) {
	if cfg.Store.Dir != "" {
		if err := os.MkdirAll(cfg.Store.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", cfg.Store.Dir, err)
		}
		return state.NewStore(cfg.Store.Dir), nil
	}
	return state.DefaultStore()
}

// openDB opens the audit database, honoring cfg.DB.Path. The returned
// cleanup is safe to defer immediately.
func openDB(cfg *config.Config) (*db.DB, func(), error) {
	path := cfg.DB.Path
	if path == "" {
		var err error
		path, err = db.DefaultPath()
		if err != nil {
			return nil, nil, fmt.Errorf("db path: %w", err)
		}
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return database, func() { _ = database.Close() }, nil
}

// readFileFlag reads the file named by a flag, empty flag means empty value.
func readFileFlag(cmd *cobra.Command, name string) (string, error) {
	path, _ := cmd.Flags().GetString(name)
	if path == "" {
		return "", nil
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
