package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/forgelabs/agentforge/internal/creator"
	"github.com/forgelabs/agentforge/internal/executor"
	"github.com/forgelabs/agentforge/internal/run"
	"github.com/forgelabs/agentforge/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the run service on localhost. Runs are submitted with POST /api/runs
and execute asynchronously; submissions beyond the configured concurrency
bound are rejected with 429. Prometheus metrics are exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		opts := executor.LLMOptions{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey(),
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		}
		if opts.APIKey == "" {
			return fmt.Errorf("no API key in $%s", cfg.LLM.APIKeyEnv)
		}

		g, err := creator.Build(executor.NewChatClient(opts), opts)
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		database, cleanup, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())

		mgr, err := run.NewManager(run.Opts{
			Graph:    g,
			Store:    store,
			DB:       database,
			Pipeline: cfg.Pipeline,
			Metrics:  web.NewPromMetrics(registry),
			Progress: cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.ErrOrStderr(), "forge listening on :%d\n", port)
		if err := web.NewServer(mgr, database, registry, port).ListenAndServe(ctx); err != nil {
			return err
		}
		mgr.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (default: config server.port)")
}
