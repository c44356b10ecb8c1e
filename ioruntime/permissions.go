package ioruntime

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Permissions is the allow-list consulted before every host operation. Empty path, host and
// port lists mean "any", subject to the corresponding boolean switch.
type Permissions struct {
	FileRead   bool     `toml:"file_read"`
	FileWrite  bool     `toml:"file_write"`
	FilePaths  []string `toml:"file_paths"`
	NetConnect bool     `toml:"net_connect"`
	NetListen  bool     `toml:"net_listen"`
	NetHosts   []string `toml:"net_hosts"`
	NetPorts   []uint16 `toml:"net_ports"`
	Print      bool     `toml:"print"`
	Read       bool     `toml:"read"`
	TimeSleep  bool     `toml:"time_sleep"`
	MaxSleepMs uint64   `toml:"max_sleep_ms"`
}

// DefaultPermissions denies everything except printing and sleeping up to a minute.
func DefaultPermissions() Permissions {
	return Permissions{
		Print:      true,
		TimeSleep:  true,
		MaxSleepMs: 60_000,
	}
}

// AllowAll is for trusted programs.
func AllowAll() Permissions {
	return Permissions{
		FileRead:   true,
		FileWrite:  true,
		NetConnect: true,
		NetListen:  true,
		Print:      true,
		Read:       true,
		TimeSleep:  true,
		MaxSleepMs: math.MaxUint64,
	}
}

// PathAllowed reports whether path lies under one of FilePaths once symlinks are resolved on
// both sides.
func (p Permissions) PathAllowed(path string) bool {
	if len(p.FilePaths) == 0 {
		return p.FileRead || p.FileWrite
	}
	resolved, err := resolvePath(path)
	if err != nil {
		return false
	}
	for _, allowed := range p.FilePaths {
		root, err := resolvePath(allowed)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, resolved)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// resolvePath returns the absolute, symlink-free form of path. A path that does not exist yet
// is resolved through its deepest existing ancestor. A dangling symlink on the way is an error,
// since creating through it would land wherever it points.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(abs)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if _, lerr := os.Lstat(abs); lerr == nil {
			return "", err
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", err
		}
		rest = append([]string{filepath.Base(abs)}, rest...)
		abs = parent
	}
}

// HostAllowed matches host exactly or as a subdomain of an allowed host.
func (p Permissions) HostAllowed(host string) bool {
	if len(p.NetHosts) == 0 {
		return p.netAllowed()
	}
	for _, allowed := range p.NetHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// netAllowed gates operations that precede a connect or a bind.
func (p Permissions) netAllowed() bool { return p.NetConnect || p.NetListen }

func (p Permissions) PortAllowed(port uint16) bool {
	return len(p.NetPorts) == 0 || slices.Contains(p.NetPorts, port)
}
