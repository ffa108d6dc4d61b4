package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"completiond/internal/pipeline"
	"completiond/internal/service"
)

func newProbeCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that a runtime is installed and reachable",
		Example: "  completiond probe --runtime hfserver --hf-url http://127.0.0.1:8000\n" +
			"  completiond probe --runtime llamaserver",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Probing needs no services; validate only if a file or model was given.
			cfg, err := g.loadConfig(cmd)
			if err != nil && (g.configPath != "" || g.model != "") {
				return err
			}
			if err != nil {
				g.log, _ = newLogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
				cfg.ApplyEnv()
				if g.hfURL != "" {
					cfg.HFServer.URL = g.hfURL
				}
			}
			rt := service.NewRuntime(g.runtime, cfg, g.log, pipeline.NoopPublisher{})
			if rt == nil {
				return fmt.Errorf("unknown runtime %q", g.runtime)
			}
			caps, err := rt.Probe(cmd.Context())
			if err != nil {
				return fmt.Errorf("probe %s: %w", rt.Name(), err)
			}
			return printJSON(cmd.OutOrStdout(), caps)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
