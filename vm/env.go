package vm

import (
	"time"

	"github.com/colorfulnotion/cpjit/ir"
)

// IORuntime is the permission-gated host I/O an execution calls into. Implementations return
// errors rather than panicking; every failure surfaces in rd as ^uint64(0).
type IORuntime interface {
	FileOpen(path string, flags uint32) (uint64, error)
	FileRead(fd uint64, buf []byte) (int, error)
	FileWrite(fd uint64, buf []byte) (int, error)
	FileClose(fd uint64) error
	FileSeek(fd uint64, offset int64, whence uint32) (uint64, error)
	FileStat(path string) (size, mtime uint64, err error)
	FileMkdir(path string) error
	FileDelete(path string) error

	NetSocket(domain, typ uint32) (uint64, error)
	NetConnect(fd uint64, addr string, port uint16) error
	NetBind(fd uint64, addr string, port uint16) error
	NetListen(fd uint64, backlog uint32) error
	NetAccept(fd uint64) (uint64, error)
	NetSend(fd uint64, buf []byte) (int, error)
	NetRecv(fd uint64, buf []byte) (int, error)
	NetClose(fd uint64) error
	NetSetopt(fd uint64, opt ir.NetOption, value uint64) error

	Print(b []byte) (int, error)
	ReadLine(buf []byte) (int, error)

	// Now is wall-clock seconds since the Unix epoch; Monotonic is nanoseconds.
	Now() uint64
	Monotonic() uint64
	Sleep(ms uint64) error
}

// Extensions resolves ExtCall ids to host functions.
type Extensions interface {
	Call(id uint32, args [4]uint64, out *[4]uint64) (int64, error)
}

// Tasks is an external task runtime for Spawn, Join and Chan.
type Tasks interface {
	Spawn(entry, arg uint64) (uint64, error)
	Join(task uint64) (uint64, error)
	Chan(op uint8, a, b uint64) (uint64, error)
}

// Entropy supplies Rand. Executions compared against each other must use equal sources.
type Entropy interface {
	Uint64() uint64
}

// LCG is the default Entropy: a 64-bit linear congruential generator.
type LCG struct {
	state uint64
}

func NewLCG(seed uint64) *LCG {
	return &LCG{state: seed}
}

// NewTimeSeededLCG seeds from the wall clock.
func NewTimeSeededLCG() *LCG {
	return NewLCG(uint64(time.Now().UnixNano()))
}

func (l *LCG) Uint64() uint64 {
	l.state = l.state*6364136223846793005 + 1
	return l.state
}
