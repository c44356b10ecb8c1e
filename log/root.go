package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	gethlog "github.com/ethereum/go-ethereum/log"
)

const (
	CompileMonitoring   = "jit_compile" // stencil compiler
	ExecMonitoring      = "jit_exec"    // handler executor and native calls
	InterpMonitoring    = "interp"      // interpreter
	PoolMonitoring      = "pool"        // executable buffer pool
	IOMonitoring        = "ioruntime"   // sandboxed I/O runtime
	ExtensionMonitoring = "ext"         // extension registry
	AotMonitoring       = "aot"         // persistent artifact store
	CliMonitoring       = "cli"
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "MAX", "MAXVERBOSITY":
		return levelMaxVerbosity, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

func InitLogger(logLevel string) {
	if err := InitLoggerTo(os.Stderr, logLevel, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}

// InitLoggerTo installs a terminal (or JSON) handler writing to w.
func InitLoggerTo(w io.Writer, logLevel string, json bool) error {
	logLvl, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	if json {
		SetDefault(NewLogger(JSONHandlerWithLevel(w, logLvl)))
		return nil
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(w, logLvl, false)))
	return nil
}

func NewTerminalHandlerWithLevel(w io.Writer, lvl slog.Level, useColor bool) slog.Handler {
	return gethlog.NewTerminalHandlerWithLevel(w, lvl, useColor)
}

func JSONHandlerWithLevel(w io.Writer, lvl slog.Level) slog.Handler {
	return gethlog.JSONHandlerWithLevel(w, lvl)
}

func DiscardHandler() slog.Handler {
	return gethlog.DiscardHandler()
}

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger
func Root() Logger {
	return root.Load().(Logger)
}

// --- Module management ---
var (
	modulesMu     sync.RWMutex
	moduleEnabled = map[string]bool{
		CompileMonitoring:   false,
		ExecMonitoring:      false,
		InterpMonitoring:    false,
		PoolMonitoring:      false,
		IOMonitoring:        false,
		ExtensionMonitoring: false,
		AotMonitoring:       false,
		CliMonitoring:       false,
	}
)

// EnableModule enables logging for the specified module.
func EnableModule(module string) {
	modulesMu.Lock()
	moduleEnabled[module] = true
	modulesMu.Unlock()
}

// EnableModules enables a comma separated list of modules; "all" enables every known module.
func EnableModules(modules string) {
	for _, m := range strings.Split(modules, ",") {
		m = strings.TrimSpace(m)
		switch m {
		case "":
		case "all":
			modulesMu.Lock()
			for k := range moduleEnabled {
				moduleEnabled[k] = true
			}
			modulesMu.Unlock()
		default:
			EnableModule(m)
		}
	}
}

// DisableModule disables logging for the specified module.
func DisableModule(module string) {
	modulesMu.Lock()
	moduleEnabled[module] = false
	modulesMu.Unlock()
}

func isModuleEnabled(module string) bool {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	return moduleEnabled[module]
}

// Trace logs a message at the trace level for a specific module.
func Trace(module string, msg string, ctx ...any) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(LevelTrace, module, msg, ctx...)
}

// Debug logs a message at the debug level for a specific module.
func Debug(module string, msg string, ctx ...any) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// Info, Warn, Error and Crit are emitted whether or not module is enabled.
func Info(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelError, module, msg, ctx...)
}

func Crit(module string, msg string, ctx ...any) {
	Root().Write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}

func New(ctx ...any) Logger {
	return Root().With(ctx...)
}
