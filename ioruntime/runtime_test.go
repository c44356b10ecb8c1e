package ioruntime

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/colorfulnotion/cpjit/ir"
	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/stretchr/testify/require"
)

func TestDefaultPermissionsDeny(t *testing.T) {
	r := New(DefaultPermissions())
	dir := t.TempDir()
	path := filepath.Join(dir, "x")

	_, err := r.FileOpen(path, OpenRead)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	_, err = r.FileOpen(path, OpenWrite|OpenCreate)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	_, _, err = r.FileStat(path)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	require.ErrorIs(t, r.FileMkdir(path), jiterrors.ErrIOPermissionDenied)
	require.ErrorIs(t, r.FileDelete(path), jiterrors.ErrIOPermissionDenied)

	_, err = r.NetSocket(2, 1)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	require.ErrorIs(t, r.NetConnect(firstFd, "127.0.0.1", 80), jiterrors.ErrIOPermissionDenied)
	require.ErrorIs(t, r.NetBind(firstFd, "127.0.0.1", 0), jiterrors.ErrIOPermissionDenied)
	require.ErrorIs(t, r.NetSetopt(firstFd, ir.OptNoDelay, 1), jiterrors.ErrIOPermissionDenied)
	require.Zero(t, r.OpenHandles())

	_, err = r.ReadLine(make([]byte, 4))
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)

	var out bytes.Buffer
	r.SetOutput(&out)
	n, err := r.Print([]byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", out.String())
}

func TestFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	perms := AllowAll()
	perms.FilePaths = []string{dir}
	r := New(perms)
	defer r.Close()

	path := filepath.Join(dir, "data.txt")
	fd, err := r.FileOpen(path, OpenWrite|OpenCreate)
	require.NoError(t, err)
	require.Equal(t, uint64(firstFd), fd)
	n, err := r.FileWrite(fd, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.NoError(t, r.FileClose(fd))
	require.ErrorIs(t, r.FileClose(fd), jiterrors.ErrInvalidFd)

	size, mtime, err := r.FileStat(path)
	require.NoError(t, err)
	require.Equal(t, uint64(11), size)
	require.NotZero(t, mtime)

	fd2, err := r.FileOpen(path, OpenRead)
	require.NoError(t, err)
	require.Equal(t, fd, fd2, "descriptors are reused")
	pos, err := r.FileSeek(fd2, 6, SeekStart)
	require.NoError(t, err)
	require.Equal(t, uint64(6), pos)
	buf := make([]byte, 16)
	n, err = r.FileRead(fd2, buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
	n, err = r.FileRead(fd2, buf)
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = r.FileSeek(fd2, 0, 9)
	require.ErrorIs(t, err, jiterrors.ErrIO)
	require.Equal(t, 1, r.OpenHandles())

	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, r.FileMkdir(sub))
	require.DirExists(t, sub)
	require.NoError(t, r.FileDelete(filepath.Join(dir, "a")))
	require.NoDirExists(t, sub)

	_, _, err = r.FileStat(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, jiterrors.ErrFileNotFound)
	require.ErrorIs(t, r.FileDelete(filepath.Join(dir, "missing")), jiterrors.ErrFileNotFound)

	_, err = r.FileRead(99, buf)
	require.ErrorIs(t, err, jiterrors.ErrInvalidFd)
}

func TestPathAllowList(t *testing.T) {
	dir := t.TempDir()
	perms := AllowAll()
	perms.FilePaths = []string{filepath.Join(dir, "sandbox")}
	require.True(t, perms.PathAllowed(filepath.Join(dir, "sandbox", "f")))
	require.True(t, perms.PathAllowed(filepath.Join(dir, "sandbox")))
	require.False(t, perms.PathAllowed(filepath.Join(dir, "sandbox2")))
	require.False(t, perms.PathAllowed(filepath.Join(dir, "sandbox", "..", "f")))

	r := New(perms)
	_, err := r.FileOpen(filepath.Join(dir, "outside"), OpenWrite|OpenCreate)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	_, err = os.Stat(filepath.Join(dir, "outside"))
	require.True(t, os.IsNotExist(err))
}

func TestSymlinkCannotEscapeSandbox(t *testing.T) {
	dir := t.TempDir()
	sandbox := filepath.Join(dir, "sandbox")
	outside := filepath.Join(dir, "outside")
	require.NoError(t, os.MkdirAll(filepath.Join(sandbox, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("top secret"), 0o644))
	if err := os.Symlink(filepath.Join("..", "outside"), filepath.Join(sandbox, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join("..", "outside", "missing"), filepath.Join(sandbox, "dangling")))
	require.NoError(t, os.Symlink("sub", filepath.Join(sandbox, "inner")))

	perms := AllowAll()
	perms.FilePaths = []string{sandbox}
	r := New(perms)
	defer r.Close()

	escaped := filepath.Join(sandbox, "link", "secret")
	require.False(t, perms.PathAllowed(escaped))
	require.False(t, perms.PathAllowed(filepath.Join(sandbox, "link")))
	_, err := r.FileOpen(escaped, OpenRead)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	_, _, err = r.FileStat(escaped)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	require.ErrorIs(t, r.FileDelete(escaped), jiterrors.ErrIOPermissionDenied)
	require.ErrorIs(t, r.FileMkdir(filepath.Join(sandbox, "link", "newdir")), jiterrors.ErrIOPermissionDenied)
	_, err = r.FileOpen(filepath.Join(sandbox, "link", "new"), OpenWrite|OpenCreate)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)
	_, err = r.FileOpen(filepath.Join(sandbox, "dangling"), OpenWrite|OpenCreate)
	require.ErrorIs(t, err, jiterrors.ErrIOPermissionDenied)

	for _, name := range []string{"new", "newdir", "missing"} {
		_, err := os.Lstat(filepath.Join(outside, name))
		require.True(t, os.IsNotExist(err), name)
	}
	data, err := os.ReadFile(filepath.Join(outside, "secret"))
	require.NoError(t, err)
	require.Equal(t, "top secret", string(data))

	// Links that stay inside the sandbox, and paths that do not exist yet, are fine.
	require.True(t, perms.PathAllowed(filepath.Join(sandbox, "inner", "f")))
	require.True(t, perms.PathAllowed(filepath.Join(sandbox, "sub", "a", "b")))
	fd, err := r.FileOpen(filepath.Join(sandbox, "inner", "f"), OpenWrite|OpenCreate)
	require.NoError(t, err)
	require.NoError(t, r.FileClose(fd))
	_, err = os.Stat(filepath.Join(sandbox, "sub", "f"))
	require.NoError(t, err)
}

func TestHostAndPortLists(t *testing.T) {
	p := Permissions{NetConnect: true, NetHosts: []string{"example.com"}, NetPorts: []uint16{443}}
	require.True(t, p.HostAllowed("example.com"))
	require.True(t, p.HostAllowed("api.example.com"))
	require.False(t, p.HostAllowed("example.org"))
	require.False(t, p.HostAllowed("evilexample.com"))
	require.False(t, p.HostAllowed("example.com.evil.org"))
	require.True(t, p.PortAllowed(443))
	require.False(t, p.PortAllowed(80))
	require.False(t, Permissions{}.HostAllowed("x"))
	require.True(t, Permissions{}.PortAllowed(1))
}

func TestBindChecksHost(t *testing.T) {
	r := New(Permissions{NetListen: true, NetHosts: []string{"example.com"}})
	fd, err := r.NetSocket(2, 1)
	require.NoError(t, err)
	require.ErrorIs(t, r.NetBind(fd, "127.0.0.1", 0), jiterrors.ErrIOPermissionDenied)
	require.NoError(t, r.NetSetopt(fd, ir.OptTimeoutMs, 100))
	require.NoError(t, r.NetClose(fd))
}

func TestNetworkMocks(t *testing.T) {
	r := New(DefaultPermissions())
	m := r.Mocks()
	require.False(t, m.Enabled())
	m.Set(MockSocket, 7)
	m.Set(MockBind, 0)
	m.Set(MockListen, 0)
	m.Set(MockAccept, 8, 9, -1)
	m.Set(MockSend, 5, -1)
	m.SetRecv([]byte("ping"), 4, 0)
	m.Set(MockClose, 0)
	require.True(t, m.Enabled())

	fd, err := r.NetSocket(2, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(7), fd)
	require.NoError(t, r.NetBind(fd, "0.0.0.0", 8080))
	require.NoError(t, r.NetListen(fd, 16))

	c, err := r.NetAccept(fd)
	require.NoError(t, err)
	require.Equal(t, uint64(8), c)
	c, err = r.NetAccept(fd)
	require.NoError(t, err)
	require.Equal(t, uint64(9), c)
	_, err = r.NetAccept(fd)
	require.ErrorIs(t, err, jiterrors.ErrMockDrained)
	_, err = r.NetAccept(fd)
	require.ErrorIs(t, err, jiterrors.ErrMockDrained, "the last value repeats")

	buf := make([]byte, 8)
	n, err := r.NetRecv(c, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
	n, err = r.NetRecv(c, buf)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = r.NetSend(c, []byte("pong!"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	_, err = r.NetSend(c, []byte("x"))
	require.ErrorIs(t, err, jiterrors.ErrIO)
	require.NoError(t, r.NetClose(c))
}

func TestLoopbackConnection(t *testing.T) {
	r := New(AllowAll())
	defer r.Close()

	lfd, err := r.NetSocket(2, 1)
	require.NoError(t, err)
	if err := r.NetBind(lfd, "127.0.0.1", 0); err != nil {
		t.Skipf("loopback listen unavailable: %v", err)
	}
	require.NoError(t, r.NetListen(lfd, 1))
	port := uint16(r.handles[lfd].ln.Addr().(*net.TCPAddr).Port)

	cfd, err := r.NetSocket(2, 1)
	require.NoError(t, err)
	require.NoError(t, r.NetConnect(cfd, "127.0.0.1", port))
	require.NoError(t, r.NetSetopt(cfd, ir.OptNoDelay, 1))
	require.NoError(t, r.NetSetopt(cfd, ir.OptTimeoutMs, 2000))

	sfd, err := r.NetAccept(lfd)
	require.NoError(t, err)
	require.NoError(t, r.NetSetopt(sfd, ir.OptTimeoutMs, 2000))

	n, err := r.NetSend(cfd, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	buf := make([]byte, 4)
	n, err = r.NetRecv(sfd, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	require.NoError(t, r.NetClose(cfd))
	require.NoError(t, r.NetClose(sfd))
	require.ErrorIs(t, r.NetSetopt(cfd, ir.OptNoDelay, 1), jiterrors.ErrInvalidFd)
}

func TestReadLine(t *testing.T) {
	perms := DefaultPermissions()
	perms.Read = true
	r := New(perms)
	r.SetInput(strings.NewReader("first line\nsecond"))
	buf := make([]byte, 5)
	n, err := r.ReadLine(buf)
	require.NoError(t, err)
	require.Equal(t, "first", string(buf[:n]))

	buf = make([]byte, 32)
	n, err = r.ReadLine(buf)
	require.NoError(t, err)
	require.Equal(t, "second", string(buf[:n]))

	_, err = r.ReadLine(buf)
	require.ErrorIs(t, err, jiterrors.ErrIO)
}

func TestSleepAndClocks(t *testing.T) {
	perms := DefaultPermissions()
	perms.MaxSleepMs = 1
	r := New(perms)
	require.NoError(t, r.Sleep(60_000))
	require.NotZero(t, r.Now())
	a := r.Monotonic()
	b := r.Monotonic()
	require.GreaterOrEqual(t, b, a)

	perms.TimeSleep = false
	require.ErrorIs(t, New(perms).Sleep(1), jiterrors.ErrIOPermissionDenied)
}
