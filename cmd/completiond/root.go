package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"completiond/internal/config"
)

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	// Ad-hoc service from flags; overrides or extends the config file.
	service string
	runtime string
	model   string
	task    string
	device  int
	hfURL   string

	log zerolog.Logger
}

func buildRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:           "completiond",
		Short:         "Text completion over inference pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", os.Getenv("COMPLETIOND_CONFIG"), "Config file (.yaml, .json or .toml); defaults to COMPLETIOND_CONFIG")
	pf.StringVar(&g.envFile, "env-file", ".env", "KEY=VALUE file loaded into the environment when present")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults to config or info)")
	pf.StringVar(&g.logFormat, "log-format", "console", "Log format: console|json")
	pf.StringVar(&g.service, "service", "", "Service name")
	pf.StringVar(&g.runtime, "runtime", config.RuntimeHFServer, "Runtime for a --model service: hfserver|llamacpp|llamaserver")
	pf.StringVar(&g.model, "model", "", "Model id; defines an ad-hoc service when set")
	pf.StringVar(&g.task, "task", "", "Pipeline task: text-generation|text2text-generation|summarization")
	pf.IntVar(&g.device, "device", -1, "Device selector: -1 for CPU, >= 0 for a GPU index")
	pf.StringVar(&g.hfURL, "hf-url", "", "Pipeline server base URL (overrides config)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(g.envFile); err != nil {
			return err
		}
		return nil
	}

	root.AddCommand(
		newServeCmd(g),
		newCompleteCmd(g),
		newProbeCmd(g),
		newServicesCmd(g),
	)
	return root
}

// loadConfig resolves the effective configuration and installs the logger.
// A --model flag defines (or replaces) the service named by --service.
func (g *globalOpts) loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	cfg.ApplyEnv()
	if g.hfURL != "" {
		cfg.HFServer.URL = g.hfURL
	}
	if g.model != "" {
		sc := config.ServiceConfig{Name: g.service, Runtime: g.runtime, Model: g.model, Task: g.task}
		if cmd.Flags().Changed("device") {
			d := g.device
			sc.Device = &d
		}
		if sc.Name == "" {
			sc.Name = g.model
		}
		replaced := false
		for i := range cfg.Services {
			if cfg.Services[i].Name == sc.Name {
				sc.Defaults = cfg.Services[i].Defaults
				cfg.Services[i] = sc
				replaced = true
			}
		}
		if !replaced {
			cfg.Services = append(cfg.Services, sc)
		}
		if g.service == "" || cfg.DefaultService == "" {
			cfg.DefaultService = sc.Name
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	level := g.logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	format := g.logFormat
	if !cmd.Flags().Changed("log-format") && cfg.LogFormat != "" {
		format = cfg.LogFormat
	}
	log, err := newLogger(cmd.ErrOrStderr(), level, format)
	if err != nil {
		return cfg, fmt.Errorf("log level: %w", err)
	}
	g.log = log
	return cfg, nil
}

// only narrows cfg to the named service ("" means the default).
func only(cfg config.Config, name string) (config.Config, error) {
	if name == "" {
		name = cfg.DefaultService
	}
	for _, s := range cfg.Services {
		if s.Name == name {
			cfg.Services = []config.ServiceConfig{s}
			cfg.DefaultService = name
			return cfg, nil
		}
	}
	return cfg, fmt.Errorf("service %q is not configured", name)
}
