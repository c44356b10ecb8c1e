// Package config loads cpjit.toml. Defaults are applied first, so a file only needs the keys
// it changes.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/colorfulnotion/cpjit/bufferpool"
	"github.com/colorfulnotion/cpjit/compiler"
	"github.com/colorfulnotion/cpjit/ioruntime"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/telemetry"
	"github.com/colorfulnotion/cpjit/vm"
)

const (
	DefaultInterpreterThreshold = 16
	DefaultMemorySize           = 128 * 1024
)

var (
	ErrInvalid     = errors.New("invalid configuration")
	ErrUnknownKeys = errors.New("unknown configuration keys")
)

type Config struct {
	Pool      Pool                  `toml:"pool"`
	Compiler  Compiler              `toml:"compiler"`
	Exec      Exec                  `toml:"exec"`
	IO        ioruntime.Permissions `toml:"io"`
	Log       Log                   `toml:"log"`
	Telemetry telemetry.Config      `toml:"telemetry"`
	AOT       AOT                   `toml:"aot"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-"`
}

type Pool struct {
	Capacity   int `toml:"capacity"`
	BufferSize int `toml:"buffer_size"`
}

type Compiler struct {
	MaxProgramSize         int `toml:"max_program_size"`
	UnknownStencilEstimate int `toml:"unknown_stencil_estimate"`
	EpilogueEstimate       int `toml:"epilogue_estimate"`
}

type Exec struct {
	// InterpreterThreshold routes programs shorter than this to the interpreter.
	InterpreterThreshold int    `toml:"interpreter_threshold"`
	InstructionBudget    uint64 `toml:"instruction_budget"`
	MemorySize           int    `toml:"memory_size"`
	CallStackDepth       int    `toml:"call_stack_depth"`
	Coverage             bool   `toml:"coverage"`
	Workers              int    `toml:"workers"`
}

type Log struct {
	Level   string `toml:"level"`
	Modules string `toml:"modules"`
	JSON    bool   `toml:"json"`
}

type AOT struct {
	// Path of the LevelDB artifact store. Empty keeps artifacts in memory.
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
}

func Default() *Config {
	return &Config{
		Pool: Pool{
			Capacity:   bufferpool.DefaultCapacity,
			BufferSize: bufferpool.DefaultBufferSize,
		},
		Compiler: Compiler{
			MaxProgramSize:         compiler.DefaultMaxProgramSize,
			UnknownStencilEstimate: compiler.DefaultUnknownStencilEstimate,
			EpilogueEstimate:       compiler.DefaultEpilogueEstimate,
		},
		Exec: Exec{
			InterpreterThreshold: DefaultInterpreterThreshold,
			InstructionBudget:    vm.DefaultBudget,
			MemorySize:           DefaultMemorySize,
			CallStackDepth:       vm.DefaultCallStackDepth,
			Workers:              4,
		},
		IO:        ioruntime.DefaultPermissions(),
		Log:       Log{Level: "info"},
		Telemetry: telemetry.Config{ServiceName: telemetry.DefaultServiceName},
	}
}

// Load decodes path over Default and validates the result. Keys that match no field are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeys, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	page := os.Getpagesize()
	check(c.Pool.Capacity > 0, "pool.capacity must be positive, got %d", c.Pool.Capacity)
	check(c.Pool.BufferSize > 0 && c.Pool.BufferSize%page == 0,
		"pool.buffer_size must be a positive multiple of %d, got %d", page, c.Pool.BufferSize)
	check(c.Compiler.MaxProgramSize > 0, "compiler.max_program_size must be positive, got %d", c.Compiler.MaxProgramSize)
	check(c.Compiler.UnknownStencilEstimate > 0, "compiler.unknown_stencil_estimate must be positive")
	check(c.Compiler.EpilogueEstimate > 0, "compiler.epilogue_estimate must be positive")
	check(c.Exec.InterpreterThreshold >= 0, "exec.interpreter_threshold must not be negative")
	check(c.Exec.MemorySize > 0, "exec.memory_size must be positive, got %d", c.Exec.MemorySize)
	check(c.Exec.CallStackDepth > 0, "exec.call_stack_depth must be positive, got %d", c.Exec.CallStackDepth)
	check(c.Exec.Workers > 0, "exec.workers must be positive, got %d", c.Exec.Workers)
	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1,
		"telemetry.sample_ratio must be within [0, 1], got %g", c.Telemetry.SampleRatio)
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: log.level: %w", ErrInvalid, err))
	}
	return errors.Join(errs...)
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func (c *Config) VM() vm.Config {
	return vm.Config{
		MemorySize:     c.Exec.MemorySize,
		Budget:         c.Exec.InstructionBudget,
		CallStackDepth: c.Exec.CallStackDepth,
	}
}

func (c *Config) CompilerOptions() compiler.Options {
	return compiler.Options{
		MaxProgramSize:         c.Compiler.MaxProgramSize,
		UnknownStencilEstimate: c.Compiler.UnknownStencilEstimate,
		EpilogueEstimate:       c.Compiler.EpilogueEstimate,
	}
}

// ApplyLogging configures the root logger from the [log] section.
func (c *Config) ApplyLogging() error {
	if err := log.InitLoggerTo(os.Stderr, c.Log.Level, c.Log.JSON); err != nil {
		return err
	}
	if c.Log.Modules != "" {
		log.EnableModules(c.Log.Modules)
	}
	return nil
}
