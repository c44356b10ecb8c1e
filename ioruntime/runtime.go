// Package ioruntime is the sandboxed host I/O behind the File, Net, NetSetopt, Io and Time
// opcodes. Every call is checked against a Permissions allow-list and fails with a typed
// error instead of panicking.
package ioruntime

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/vm"
)

var _ vm.IORuntime = (*Runtime)(nil)

// Open flags for FileOpen.
const (
	OpenRead   uint32 = 1 << 0
	OpenWrite  uint32 = 1 << 1
	OpenCreate uint32 = 1 << 2
	OpenAppend uint32 = 1 << 3
)

// Whence values for FileSeek.
const (
	SeekStart uint32 = iota
	SeekCurrent
	SeekEnd
)

// firstFd skips the numbers conventionally taken by stdin, stdout and stderr.
const firstFd = 3

type handle struct {
	file     *os.File
	conn     net.Conn
	ln       net.Listener
	timeout  time.Duration
	nonblock bool
}

func (h *handle) close() error {
	switch {
	case h.file != nil:
		return h.file.Close()
	case h.conn != nil:
		return h.conn.Close()
	case h.ln != nil:
		return h.ln.Close()
	}
	return nil
}

func (h *handle) deadline() time.Time {
	switch {
	case h.nonblock:
		return time.Now()
	case h.timeout > 0:
		return time.Now().Add(h.timeout)
	}
	return time.Time{}
}

// Runtime owns the descriptor table of one execution. It is not safe for concurrent use.
type Runtime struct {
	perms   Permissions
	handles map[uint64]*handle
	free    []uint64
	next    uint64
	mocks   *NetworkMocks
	out     io.Writer
	in      *bufio.Reader
	start   time.Time
}

func New(perms Permissions) *Runtime {
	return &Runtime{
		perms:   perms,
		handles: make(map[uint64]*handle),
		next:    firstFd,
		mocks:   NewNetworkMocks(),
		out:     os.Stdout,
		in:      bufio.NewReader(os.Stdin),
		start:   time.Now(),
	}
}

func (r *Runtime) Permissions() Permissions { return r.perms }
func (r *Runtime) Mocks() *NetworkMocks     { return r.mocks }
func (r *Runtime) SetOutput(w io.Writer)    { r.out = w }
func (r *Runtime) SetInput(rd io.Reader)    { r.in = bufio.NewReader(rd) }

// OpenHandles is the number of live descriptors.
func (r *Runtime) OpenHandles() int { return len(r.handles) }

// Close releases every descriptor still open.
func (r *Runtime) Close() error {
	var errs []error
	for fd, h := range r.handles {
		errs = append(errs, h.close())
		delete(r.handles, fd)
	}
	r.free = r.free[:0]
	return errors.Join(errs...)
}

func denied(what string) error {
	log.Debug(log.IOMonitoring, "permission denied", "op", what)
	return fmt.Errorf("%w: %s", jiterrors.ErrIOPermissionDenied, what)
}

func ioError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", jiterrors.ErrFileNotFound, err)
	}
	return fmt.Errorf("%w: %v", jiterrors.ErrIO, err)
}

func (r *Runtime) allocate(h *handle) uint64 {
	var fd uint64
	if n := len(r.free); n > 0 {
		fd = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		fd = r.next
		r.next++
	}
	r.handles[fd] = h
	return fd
}

func (r *Runtime) lookup(fd uint64) (*handle, error) {
	h, ok := r.handles[fd]
	if !ok {
		return nil, fmt.Errorf("%w: %d", jiterrors.ErrInvalidFd, fd)
	}
	return h, nil
}

func (r *Runtime) release(fd uint64) error {
	h, err := r.lookup(fd)
	if err != nil {
		return err
	}
	delete(r.handles, fd)
	r.free = append(r.free, fd)
	if err := h.close(); err != nil {
		return ioError(err)
	}
	return nil
}

func (r *Runtime) FileOpen(path string, flags uint32) (uint64, error) {
	read := flags&OpenRead != 0
	write := flags&OpenWrite != 0
	create := flags&OpenCreate != 0
	appendMode := flags&OpenAppend != 0
	writing := write || create || appendMode

	if read && !r.perms.FileRead {
		return 0, denied("file read")
	}
	if writing && !r.perms.FileWrite {
		return 0, denied("file write")
	}
	if !r.perms.PathAllowed(path) {
		return 0, denied("path " + path)
	}

	var mode int
	switch {
	case writing && (read || !write && !create):
		mode = os.O_RDWR
	case writing:
		mode = os.O_WRONLY
	default:
		mode = os.O_RDONLY
	}
	if create {
		mode |= os.O_CREATE
		if !appendMode {
			mode |= os.O_TRUNC
		}
	}
	if appendMode {
		mode |= os.O_APPEND
	}
	f, err := os.OpenFile(path, mode, 0o644)
	if err != nil {
		return 0, ioError(err)
	}
	return r.allocate(&handle{file: f}), nil
}

func (r *Runtime) FileRead(fd uint64, buf []byte) (int, error) {
	if !r.perms.FileRead {
		return 0, denied("file read")
	}
	h, err := r.lookup(fd)
	if err != nil {
		return 0, err
	}
	var n int
	switch {
	case h.file != nil:
		n, err = h.file.Read(buf)
	case h.conn != nil:
		n, err = h.conn.Read(buf)
	default:
		return 0, fmt.Errorf("%w: fd %d is not readable", jiterrors.ErrIO, fd)
	}
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, ioError(err)
	}
	return n, nil
}

func (r *Runtime) FileWrite(fd uint64, buf []byte) (int, error) {
	if !r.perms.FileWrite {
		return 0, denied("file write")
	}
	h, err := r.lookup(fd)
	if err != nil {
		return 0, err
	}
	var n int
	switch {
	case h.file != nil:
		n, err = h.file.Write(buf)
	case h.conn != nil:
		n, err = h.conn.Write(buf)
	default:
		return 0, fmt.Errorf("%w: fd %d is not writable", jiterrors.ErrIO, fd)
	}
	if err != nil {
		return n, ioError(err)
	}
	return n, nil
}

func (r *Runtime) FileClose(fd uint64) error {
	return r.release(fd)
}

func (r *Runtime) FileSeek(fd uint64, offset int64, whence uint32) (uint64, error) {
	if whence > SeekEnd {
		return 0, fmt.Errorf("%w: whence %d", jiterrors.ErrIO, whence)
	}
	h, err := r.lookup(fd)
	if err != nil {
		return 0, err
	}
	if h.file == nil {
		return 0, fmt.Errorf("%w: fd %d is not seekable", jiterrors.ErrIO, fd)
	}
	pos, err := h.file.Seek(offset, int(whence))
	if err != nil {
		return 0, ioError(err)
	}
	return uint64(pos), nil
}

// FileStat returns the size and the modification time in Unix seconds.
func (r *Runtime) FileStat(path string) (size, mtime uint64, err error) {
	if !r.perms.FileRead {
		return 0, 0, denied("file stat")
	}
	if !r.perms.PathAllowed(path) {
		return 0, 0, denied("path " + path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, ioError(err)
	}
	return uint64(fi.Size()), uint64(fi.ModTime().Unix()), nil
}

func (r *Runtime) FileMkdir(path string) error {
	if !r.perms.FileWrite {
		return denied("mkdir")
	}
	if !r.perms.PathAllowed(path) {
		return denied("path " + path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return ioError(err)
	}
	return nil
}

// FileDelete removes a file or a whole directory tree.
func (r *Runtime) FileDelete(path string) error {
	if !r.perms.FileWrite {
		return denied("delete")
	}
	if !r.perms.PathAllowed(path) {
		return denied("path " + path)
	}
	if _, err := os.Lstat(path); err != nil {
		return ioError(err)
	}
	if err := os.RemoveAll(path); err != nil {
		return ioError(err)
	}
	return nil
}

func mockError(op string) error {
	return fmt.Errorf("%w: mock %s failed", jiterrors.ErrIO, op)
}

// NetSocket reserves a descriptor that a later Connect or Bind turns into a connection or
// listener. Only TCP streams are supported, so domain and type are ignored.
func (r *Runtime) NetSocket(domain, typ uint32) (uint64, error) {
	if m, ok := r.mocks.lookup(MockSocket); ok {
		if v := m.value(); v >= 0 {
			return uint64(v), nil
		}
		return 0, mockError("socket")
	}
	if !r.perms.netAllowed() {
		return 0, denied("net socket")
	}
	return r.allocate(&handle{}), nil
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

func (r *Runtime) NetConnect(fd uint64, host string, port uint16) error {
	if m, ok := r.mocks.lookup(MockConnect); ok {
		if m.value() >= 0 {
			return nil
		}
		return mockError("connect")
	}
	switch {
	case !r.perms.NetConnect:
		return denied("net connect")
	case !r.perms.HostAllowed(host):
		return denied("host " + host)
	case !r.perms.PortAllowed(port):
		return denied("port " + strconv.Itoa(int(port)))
	}
	h, err := r.lookup(fd)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", hostPort(host, port))
	if err != nil {
		return ioError(err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	h.conn = conn
	return nil
}

func (r *Runtime) NetBind(fd uint64, host string, port uint16) error {
	if m, ok := r.mocks.lookup(MockBind); ok {
		if m.value() >= 0 {
			return nil
		}
		return mockError("bind")
	}
	switch {
	case !r.perms.NetListen:
		return denied("net bind")
	case !r.perms.HostAllowed(host):
		return denied("host " + host)
	case !r.perms.PortAllowed(port):
		return denied("port " + strconv.Itoa(int(port)))
	}
	h, err := r.lookup(fd)
	if err != nil {
		return err
	}
	ln, err := listen(hostPort(host, port))
	if err != nil {
		return ioError(err)
	}
	h.ln = ln
	return nil
}

// NetListen only validates fd; Bind already listens.
func (r *Runtime) NetListen(fd uint64, backlog uint32) error {
	if m, ok := r.mocks.lookup(MockListen); ok {
		if m.value() >= 0 {
			return nil
		}
		return mockError("listen")
	}
	if !r.perms.NetListen {
		return denied("net listen")
	}
	h, err := r.lookup(fd)
	if err != nil {
		return err
	}
	if h.ln == nil {
		return fmt.Errorf("%w: fd %d is not bound", jiterrors.ErrIO, fd)
	}
	return nil
}

// NetAccept returns jiterrors.ErrMockDrained once a mocked Accept runs out of clients.
func (r *Runtime) NetAccept(fd uint64) (uint64, error) {
	if m, ok := r.mocks.lookup(MockAccept); ok {
		if v := m.value(); v >= 0 {
			return uint64(v), nil
		}
		return 0, jiterrors.ErrMockDrained
	}
	if !r.perms.NetListen {
		return 0, denied("net accept")
	}
	h, err := r.lookup(fd)
	if err != nil {
		return 0, err
	}
	if h.ln == nil {
		return 0, fmt.Errorf("%w: fd %d is not listening", jiterrors.ErrIO, fd)
	}
	conn, err := h.ln.Accept()
	if err != nil {
		return 0, ioError(err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return r.allocate(&handle{conn: conn}), nil
}

func (r *Runtime) conn(fd uint64) (*handle, error) {
	h, err := r.lookup(fd)
	if err != nil {
		return nil, err
	}
	if h.conn == nil {
		return nil, fmt.Errorf("%w: fd %d is not connected", jiterrors.ErrIO, fd)
	}
	return h, nil
}

func (r *Runtime) NetSend(fd uint64, buf []byte) (int, error) {
	if m, ok := r.mocks.lookup(MockSend); ok {
		if v := m.value(); v >= 0 {
			return int(v), nil
		}
		return 0, mockError("send")
	}
	if !r.perms.NetConnect {
		return 0, denied("net send")
	}
	h, err := r.conn(fd)
	if err != nil {
		return 0, err
	}
	_ = h.conn.SetWriteDeadline(h.deadline())
	n, err := h.conn.Write(buf)
	if err != nil {
		return n, ioError(err)
	}
	return n, nil
}

func (r *Runtime) NetRecv(fd uint64, buf []byte) (int, error) {
	if m, ok := r.mocks.lookup(MockRecv); ok {
		v := m.value()
		if m.data != nil && v == int64(len(m.data)) {
			return copy(buf, m.data), nil
		}
		if v >= 0 {
			return int(v), nil
		}
		return 0, mockError("recv")
	}
	if !r.perms.NetConnect && !r.perms.NetListen {
		return 0, denied("net recv")
	}
	h, err := r.conn(fd)
	if err != nil {
		return 0, err
	}
	_ = h.conn.SetReadDeadline(h.deadline())
	n, err := h.conn.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, ioError(err)
	}
	return n, nil
}

func (r *Runtime) NetClose(fd uint64) error {
	if m, ok := r.mocks.lookup(MockClose); ok {
		if m.value() >= 0 {
			return nil
		}
		return mockError("close")
	}
	return r.release(fd)
}

// NetSetopt applies opt to a connection or listener. Options without an equivalent on the
// descriptor are accepted and ignored.
func (r *Runtime) NetSetopt(fd uint64, opt ir.NetOption, value uint64) error {
	if !r.perms.netAllowed() {
		return denied("net setopt")
	}
	h, err := r.lookup(fd)
	if err != nil {
		return err
	}
	switch opt {
	case ir.OptNonblock:
		h.nonblock = value != 0
		return nil
	case ir.OptTimeoutMs:
		h.timeout = time.Duration(value) * time.Millisecond
		return nil
	}
	tcp, ok := h.conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	switch opt {
	case ir.OptKeepalive:
		err = tcp.SetKeepAlive(value != 0)
	case ir.OptNoDelay:
		err = tcp.SetNoDelay(value != 0)
	case ir.OptRecvBufSize:
		err = tcp.SetReadBuffer(int(value))
	case ir.OptSendBufSize:
		err = tcp.SetWriteBuffer(int(value))
	case ir.OptLinger:
		err = tcp.SetLinger(int(value))
	}
	if err != nil {
		return ioError(err)
	}
	return nil
}

func (r *Runtime) Print(b []byte) (int, error) {
	if !r.perms.Print {
		return 0, denied("print")
	}
	n, err := r.out.Write(b)
	if err != nil {
		return n, ioError(err)
	}
	return n, nil
}

// ReadLine reads one line including its terminator and copies at most len(buf) bytes of it.
func (r *Runtime) ReadLine(buf []byte) (int, error) {
	if !r.perms.Read {
		return 0, denied("read")
	}
	line, err := r.in.ReadString('\n')
	if err != nil && !(err == io.EOF && len(line) > 0) {
		return 0, ioError(err)
	}
	return copy(buf, line), nil
}

func (r *Runtime) Now() uint64 {
	return uint64(time.Now().Unix())
}

func (r *Runtime) Monotonic() uint64 {
	return uint64(time.Since(r.start).Nanoseconds())
}

// Sleep is capped at MaxSleepMs.
func (r *Runtime) Sleep(ms uint64) error {
	if !r.perms.TimeSleep {
		return denied("sleep")
	}
	ms = min(ms, r.perms.MaxSleepMs)
	time.Sleep(time.Duration(min(ms, uint64(math.MaxInt64/int64(time.Millisecond)))) * time.Millisecond)
	return nil
}
