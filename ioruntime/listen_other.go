//go:build !(linux || darwin || freebsd)

package ioruntime

import "net"

func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
