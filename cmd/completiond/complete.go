package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"completiond/internal/pipeline"
	"completiond/internal/service"
	"completiond/pkg/types"
)

type completeOpts struct {
	prompt      string
	temperature float64
	topP        float64
	maxTokens   int
	stream      bool
	jsonOut     bool
}

func newCompleteCmd(g *globalOpts) *cobra.Command {
	o := &completeOpts{}
	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "Run one completion and print it",
		Example: "  completiond complete --model t5-small --hf-url http://127.0.0.1:8000 'Translate to French: Hello'\n" +
			"  echo 'long article' | completiond complete --service bart --prompt -",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := o.prompt
			if len(args) == 1 {
				prompt = args[0]
			}
			if prompt == "-" {
				b, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}
				prompt = string(b)
			}
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("a prompt is required (argument, --prompt, or --prompt - for stdin)")
			}
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg, err = only(cfg, g.service); err != nil {
				return err
			}

			runtimes := service.BuildRuntimes(cfg, g.log, pipeline.NoopPublisher{})
			defer stopProcesses(runtimes)
			mgr, err := service.New(service.Config{
				Services:       cfg.Services,
				DefaultService: cfg.DefaultService,
				Runtimes:       runtimes,
				Logger:         g.log,
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := mgr.Open(ctx); err != nil {
				return err
			}
			defer mgr.Close(context.Background())

			req := types.CompleteRequest{Prompt: prompt, Stream: o.stream}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &o.temperature
			}
			if cmd.Flags().Changed("top-p") {
				req.TopP = &o.topP
			}
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = &o.maxTokens
			}
			return runComplete(ctx, mgr, req, o.jsonOut, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.prompt, "prompt", "", "Prompt text, or - to read stdin")
	f.Float64Var(&o.temperature, "temperature", 0, "Sampling temperature (default from service)")
	f.Float64Var(&o.topP, "top-p", 0, "Nucleus sampling probability (default from service)")
	f.IntVar(&o.maxTokens, "max-tokens", 0, "Maximum new tokens (default from service)")
	f.BoolVar(&o.stream, "stream", false, "Print NDJSON token lines as they arrive")
	f.BoolVar(&o.jsonOut, "json", false, "Print the full JSON response instead of the text")
	return cmd
}

func runComplete(ctx context.Context, mgr *service.Manager, req types.CompleteRequest, jsonOut bool, out io.Writer) error {
	if req.Stream {
		return mgr.Stream(ctx, req, out, nil)
	}
	resp, err := mgr.Complete(ctx, req)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, resp)
	}
	_, err = fmt.Fprintln(out, resp.Content)
	return err
}

