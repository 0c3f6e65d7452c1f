package main

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/config"
	"github.com/wippyai/starbridge/metrics"
	"github.com/wippyai/starbridge/runtime"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	paths      []string
	noConvert  bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "starbridge",
		Short:         "Run and call Starlark modules from Go",
		Long:          `starbridge embeds a Starlark interpreter with a Go interop bridge. Modules are .star sources, host modules and core .wasm binaries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Configuration file (default: user config dir)")
	pf.StringSliceVar(&g.paths, "path", nil, "Module search directory (repeatable)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&g.noConvert, "no-convert", false, "Return guest values as proxies instead of converting them")

	root.AddCommand(
		newRunCmd(g),
		newEvalCmd(g),
		newCallCmd(g),
		newReplCmd(g),
		newBrowseCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads --config, or the default file when it exists, and
// applies flag overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	path := g.configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ModulePaths = append(cfg.ModulePaths, g.paths...)
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.noConvert {
		cfg.AutoConvert = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app is a runtime configured for one command invocation.
type app struct {
	rt      *runtime.Runtime
	cfg     *config.Config
	log     *zap.Logger
	metrics *http.Server
}

func (g *globalFlags) newApp(ctx context.Context, out io.Writer, extra ...runtime.Option) (*app, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := config.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	opts := runtime.FromConfig(cfg)
	opts = append(opts, runtime.WithLogger(log))
	if cfg.Print == "stdout" || cfg.Print == "" {
		opts = append(opts, runtime.WithPrintWriter(out))
	}

	a := &app{cfg: cfg, log: log}
	if cfg.Metrics.Enabled {
		m := metrics.New()
		reg := prometheus.NewRegistry()
		reg.MustRegister(m)
		opts = append(opts, runtime.WithMetrics(m))
		a.metrics = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	opts = append(opts, extra...)
	rt, err := runtime.New(ctx, opts...)
	if err != nil {
		a.shutdownMetrics(ctx)
		return nil, err
	}
	a.rt = rt
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	err := a.rt.Close(ctx)
	a.shutdownMetrics(ctx)
	_ = a.log.Sync()
	return err
}

func (a *app) shutdownMetrics(ctx context.Context) {
	if a.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	_ = a.metrics.Shutdown(ctx)
}

// readSource reads a script from path, or from stdin for "-".
func readSource(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
