package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgelabs/agentforge/internal/config"
	"github.com/forgelabs/agentforge/internal/creator"
	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/run"
	"github.com/forgelabs/agentforge/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent-creation pipeline once and print the result",
	Long: `Run the full pipeline for one SOP: parse requirements, draft and review an
architecture plan, generate and review agent code, then write the system
prompt. Blocks until the run finishes and prints the final output record
as JSON.

Exits non-zero when the run fails. A run that only passed a gate by forced
acceptance still exits zero; check accepted_with_warnings in the output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		in, err := gatherInputs(cmd)
		if err != nil {
			return err
		}

		mgr, cleanup, err := newManager(cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		runID, err := mgr.Submit(in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "run %s started\n", runID)
		mgr.Wait()

		rec, err := mgr.Status(runID)
		if err != nil {
			return err
		}
		if rec.Status == run.StatusFailed || rec.Status == run.StatusCanceled {
			return fmt.Errorf("run %s %s: %s", runID, rec.Status, rec.Error)
		}

		final, err := mgr.Final(runID)
		if err != nil {
			return err
		}
		data, _ := json.MarshalIndent(final, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	runCmd.Flags().String("sop", "", "Path to the SOP file ('-' for stdin)")
	runCmd.Flags().String("kb", "", "Path to the knowledge base description file")
	runCmd.Flags().String("handoff", "", "Path to the handoff conditions file")
	runCmd.Flags().String("personality", "", "Path to an optional personality description file")
	runCmd.Flags().String("kb-id", "", "Knowledge base id to attach to the agent")
	runCmd.Flags().String("agent-id", "", "Agent id to reuse instead of creating one")
	_ = runCmd.MarkFlagRequired("sop")
	_ = runCmd.MarkFlagRequired("kb")
	_ = runCmd.MarkFlagRequired("handoff")
}

func gatherInputs(cmd *cobra.Command) (state.Inputs, error) {
	var in state.Inputs
	var err error
	if in.SOP, err = readFileFlag(cmd, "sop"); err != nil {
		return in, err
	}
	if in.KBDescription, err = readFileFlag(cmd, "kb"); err != nil {
		return in, err
	}
	if in.HandoffDescription, err = readFileFlag(cmd, "handoff"); err != nil {
		return in, err
	}
	if in.PersonalityText, err = readFileFlag(cmd, "personality"); err != nil {
		return in, err
	}
	in.KnowledgeBaseID, _ = cmd.Flags().GetString("kb-id")
	in.AgentID, _ = cmd.Flags().GetString("agent-id")
	return in, nil
}

// newManager builds a run manager from the config: chat client, pipeline
// graph, checkpoint store and audit database.
func newManager(cmd *cobra.Command, cfg *config.Config) (*run.Manager, func(), error) {
	opts := executor.LLMOptions{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey(),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
	}
	if opts.APIKey == "" {
		return nil, nil, fmt.Errorf("no API key in $%s", cfg.LLM.APIKeyEnv)
	}

	g, err := creator.Build(executor.NewChatClient(opts), opts)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	database, cleanup, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}

	mgr, err := run.NewManager(run.Opts{
		Graph:    g,
		Store:    store,
		DB:       database,
		Pipeline: cfg.Pipeline,
		Progress: cmd.ErrOrStderr(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return mgr, cleanup, nil
}
