// cpjit runs, assembles and inspects IR programs.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/cpjit"
	"github.com/colorfulnotion/cpjit/asm"
	"github.com/colorfulnotion/cpjit/config"
	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/vm"
)

var (
	Version = "dev"
	Commit  = "none"
)

type globals struct {
	configPath string
	logLevel   string
	logModules string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:          "cpjit",
		Short:        "Copy-and-patch JIT and interpreter for the cpjit IR",
		Version:      fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.logModules, "debug", "", "comma-separated log modules to enable, or all")

	rootCmd.AddCommand(
		newRunCmd(g),
		newAsmCmd(),
		newDisasmCmd(g),
		newCompareCmd(g),
		newStencilsCmd(),
		newBenchCmd(g),
		newReplCmd(g),
	)
	return rootCmd
}

// load reads the configuration and applies the logging flags on top of it.
func (g *globals) load() (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, err
		}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logModules != "" {
		cfg.Log.Modules = g.logModules
	}
	if err := cfg.ApplyLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *globals) engine(ctx context.Context) (*cpjit.Engine, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return cpjit.NewEngine(ctx, cfg)
}

// readProgram loads assembly source (.s, .asm) or an encoded program (anything else).
func readProgram(path string) (*ir.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".s", ".asm":
		return asm.Assemble(string(data))
	}
	return ir.Decode(data)
}

// parseRegisters parses r1=5 style assignments. Values accept 0x and 0b prefixes.
func parseRegisters(assignments []string) (*vm.Registers, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	regs := new(vm.Registers)
	for _, a := range assignments {
		name, value, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("register assignment %q: want name=value", a)
		}
		r, ok := ir.ParseRegister(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("register assignment %q: unknown register", a)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(value), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("register assignment %q: %w", a, err)
		}
		regs.Set(r, v)
	}
	return regs, nil
}

func closeEngine(e *cpjit.Engine) {
	if err := e.Close(context.Background()); err != nil {
		log.Warn(log.CliMonitoring, "closing engine", "err", err)
	}
}
