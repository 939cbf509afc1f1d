package tcpinfox

import (
	"errors"
	"net"
	"net/netip"
	"runtime"
	"testing"

	"github.com/m-lab/go/rtx"
	"golang.org/x/sys/unix"
)

func TestGetTCPInfo(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	rtx.Must(err, "could not listen")
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		if conn := <-accepted; conn != nil {
			conn.Close()
		}
	}()

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	rtx.Must(err, "could not create a socket")
	defer unix.Close(fd)
	ap := netip.MustParseAddrPort(ln.Addr().String())
	sa := &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	rtx.Must(unix.Connect(fd, sa), "could not connect to local listener")

	info, err := GetTCPInfo(fd)
	if runtime.GOOS != "linux" {
		if !errors.Is(err, ErrNoSupport) {
			t.Fatalf("GetTCPInfo err = %v, want ErrNoSupport", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("GetTCPInfo: %v", err)
	}
	if info == nil {
		t.Fatal("GetTCPInfo returned a nil struct")
	}
	// An established connection reports state 1 (TCP_ESTABLISHED).
	if info.State != 1 {
		t.Errorf("State = %d, want 1", info.State)
	}
}
