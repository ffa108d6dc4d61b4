package main

import (
	"github.com/spf13/cobra"

	"completiond/internal/completion"
	"completiond/pkg/types"
)

func newServicesCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the configured services without starting them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			resp := types.ServicesResponse{Default: cfg.DefaultService}
			for _, s := range cfg.Services {
				task := s.Task
				if task == "" {
					task = string(completion.DefaultTask)
				}
				resp.Services = append(resp.Services, types.ServiceInfo{
					Name:    s.Name,
					Runtime: s.Runtime,
					Model:   s.Model,
					Task:    task,
					State:   "configured",
				})
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}
