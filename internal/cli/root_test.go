package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags clears flag state left behind by a previous Execute call on the
// shared rootCmd (cobra flags are sticky across invocations).
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	resetFlags(rootCmd)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, sub := range []string{"run", "serve", "status", "config", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestConfigSubcommands(t *testing.T) {
	for _, sub := range []string{"validate", "show"} {
		out, err := executeCommand("config", sub, "--help")
		if err != nil {
			t.Errorf("config %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("config %s --help produced no output", sub)
		}
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	bad := "pipeline:\n  name: x\n  gates:\n    draft_plan:\n      max_iterations: 0\n"
	if err := os.WriteFile(path, []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand("config", "validate", "--config", path)
	if err == nil {
		t.Error("invalid config did not error")
	}
	if !strings.Contains(out, "max_iterations") {
		t.Errorf("output %q does not name the bad field", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
