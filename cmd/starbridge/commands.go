package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/wippyai/starbridge"
	"github.com/wippyai/starbridge/config"
	"github.com/wippyai/starbridge/runtime"
)

var version = "dev"

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run FILE [ARGS...]",
		Short: "Execute a Starlark file",
		Long:  `Execute a Starlark file as the __main__ module. Remaining arguments are visible to the script as the argv tuple. Use - to read the script from stdin.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			src, err := readSource(cmd, args[0])
			if err != nil {
				return err
			}

			argv := make(starbridge.Tuple, len(args))
			for i, arg := range args {
				argv[i] = arg
			}
			a, err := g.newApp(ctx, cmd.OutOrStdout(), runtime.WithGlobal("argv", argv))
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close(ctx)) }()

			filename := args[0]
			if filename == "-" {
				filename = "<stdin>"
			}
			return a.rt.Exec(ctx, filename, src)
		},
	}
}

func newEvalCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "eval EXPR",
		Short: "Evaluate a Starlark expression and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			a, err := g.newApp(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close(ctx)) }()

			v, err := a.rt.Eval(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
			return nil
		},
	}
}

func newCallCmd(g *globalFlags) *cobra.Command {
	var kw []string
	cmd := &cobra.Command{
		Use:   "call MODULE FUNC [ARGS...]",
		Short: "Call a function of a module",
		Long: `Import MODULE from the search path and call FUNC with ARGS.

Arguments are parsed as: 42L int, 42 or 4.2 float, true/false, null,
JSON arrays and objects, otherwise a string.`,
		Example: `  starbridge call --path ./lib stats mean "[1, 2, 3]"
  starbridge call --path ./lib text pad hello --kw width=10L`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			kwargs, err := parseKwargs(kw)
			if err != nil {
				return err
			}

			a, err := g.newApp(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, a.Close(ctx)) }()

			mod, err := a.rt.Import(ctx, args[0])
			if err != nil {
				return err
			}
			defer mod.Release()

			fn, err := mod.Attr(ctx, args[1])
			if err != nil {
				return err
			}
			defer fn.Release()

			v, err := fn.CallKwargs(ctx, parseArgs(args[2:]), kwargs)
			if err != nil {
				return err
			}
			if p, ok := v.(*runtime.Proxy); ok {
				defer p.Release()
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&kw, "kw", nil, "Keyword argument as name=value (repeatable)")
	return cmd
}

func parseKwargs(pairs []string) (*starbridge.Mapping, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := starbridge.NewMapping()
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid keyword argument %q, want name=value", pair)
		}
		m.Set(name, parseArg(value))
	}
	return m, nil
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				out, err := cfg.YAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON schema of the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out, err := config.Schema()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the default configuration file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			},
		},
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "starbridge", version)
		},
	}
}
