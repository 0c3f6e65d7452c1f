package runtime

import (
	"io"
	"os"

	"github.com/wippyai/starbridge/config"
	"github.com/wippyai/starbridge/engine"
)

// FromConfig maps a configuration file to runtime options. The logger and
// metrics collector are not part of the file and are passed separately.
func FromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithModulePaths(cfg.ModulePaths...),
		WithAutoConvert(cfg.AutoConvert),
		WithMaxSteps(cfg.MaxSteps),
		WithWasm(engine.WasmConfig{
			Enabled:          cfg.Wasm.Enabled,
			MemoryLimitPages: cfg.Wasm.MemoryLimitPages,
			WASI:             cfg.Wasm.WASI,
		}),
	}
	switch cfg.Print {
	case "stderr":
		opts = append(opts, WithPrintWriter(os.Stderr))
	case "discard":
		opts = append(opts, WithPrintWriter(io.Discard))
	}
	return opts
}
