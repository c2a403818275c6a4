package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"StepScope/internal/config"
	xerrors "StepScope/internal/errors"
	"StepScope/internal/harness"
	"StepScope/internal/observability/alerting"
	"StepScope/pkg/logger"
)

type rootFlags struct {
	config     string
	format     string
	capability string
	workers    int
	logLevel   string
	lenient    bool
}

func newRootCommand() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "stepscope",
		Short:         "Boot a plugin directory and list the steps it contributes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "configuration file (defaults to $"+config.EnvConfigPath+")")
	pf.StringVar(&flags.capability, "capability", "", "capability to list")
	pf.IntVar(&flags.workers, "workers", 0, "maximum concurrent init tasks")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&flags.lenient, "lenient", false, "skip broken archives instead of failing")

	list := &cobra.Command{
		Use:   "list [plugin-dir]",
		Short: "Print the flattened step listing grouped by plugin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd, &flags, args)
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), flags.format, res.Listing.Document())
		},
	}
	list.Flags().StringVar(&flags.format, "format", "yaml", "output format: yaml or json")

	plugins := &cobra.Command{
		Use:   "plugins [plugin-dir]",
		Short: "Print the loaded plugins and the archives that were excluded",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd, &flags, args)
			if res == nil {
				return err
			}
			if werr := printPlugins(cmd.OutOrStdout(), res); werr != nil {
				return werr
			}
			return err
		},
	}

	milestones := &cobra.Command{
		Use:   "milestones [plugin-dir]",
		Short: "Print the init milestones attained while booting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd, &flags, args)
			if res == nil {
				return err
			}
			for _, m := range res.Milestones {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", int(m), m)
			}
			return err
		},
	}

	root.AddCommand(list, plugins, milestones)
	return root
}

func run(cmd *cobra.Command, flags *rootFlags, args []string) (*harness.Result, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		cfg.Plugins.Dir = args[0]
	}
	if cfg.Plugins.Dir == "" {
		return nil, fmt.Errorf("no plugin directory: pass one or set plugins.dir in the configuration")
	}
	if flags.capability != "" {
		cfg.Discovery.Capability = flags.capability
	}
	if cmd.Flags().Changed("workers") {
		cfg.Reactor.Workers = flags.workers
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.lenient {
		strict := false
		cfg.Plugins.Strict = &strict
	}

	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}
	defer logger.Sync()

	alerts := alerting.NewFanout(&alerting.LogNotifier{Logger: logger.Audit()}).
		WithMinSeverity(xerrors.SeverityWarning)
	h, err := harness.New(cfg, harness.WithDispatcher(alerts))
	if err != nil {
		return nil, err
	}
	return h.Run(cmd.Context())
}

func encode(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func printPlugins(w io.Writer, res *harness.Result) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Version", "State", "Requires"})
	for _, p := range res.Plugins {
		requires := strings.Join(p.Requires(), ",")
		if requires == "" {
			requires = "-"
		}
		t.AppendRow(table.Row{p.Name, p.Version.Original(), p.State(), requires})
	}
	for _, f := range res.Failures {
		name := f.Plugin
		if name == "" {
			name = f.Archive
		}
		t.AppendRow(table.Row{name, "-", "failed", f.Reason})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return nil
}
