package main

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/m-lab/go/osx"
	"github.com/m-lab/go/prometheusx/promtest"
	"github.com/m-lab/go/rtx"
)

// destListener stands in for the flow destination. It accepts every
// incoming connection and holds it open until the test ends.
func destListener(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	rtx.Must(err, "Could not start the destination listener")
	var mu sync.Mutex
	conns := []net.Conn{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	_, port, err := net.SplitHostPort(ln.Addr().String())
	rtx.Must(err, "Could not split the listener address")
	return port
}

func setupMain(t *testing.T, env [][]string) func() {
	cleanups := []func(){}
	for _, ev := range env {
		cleanups = append(cleanups, osx.MustSetenv(ev[0], ev[1]))
	}
	return func() {
		for _, c := range cleanups {
			c()
		}
	}
}

func Test_MainEstablishesFlowsAndExits(t *testing.T) {
	port := destListener(t)
	cleanup := setupMain(t, [][]string{
		{"DEST_HOST", "127.0.0.1"},
		{"DEST_PORT", port},
		{"FLOWS", "2"},
		{"BLOCK_SIZE", "64"},
		{"BYTE_COUNTING", "true"},
		{"LISTEN_ADDRESS", ":0"},
		{"DURATION", "100ms"},
	})
	defer cleanup()

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("main did not exit after the hold duration")
	}
}

func Test_ContextCancelsMain(t *testing.T) {
	port := destListener(t)
	cleanup := setupMain(t, [][]string{
		{"DEST_HOST", "127.0.0.1"},
		{"DEST_PORT", port},
		{"FLOWS", "1"},
		{"BLOCK_SIZE", "64"},
		{"BYTE_COUNTING", "false"},
		{"LISTEN_ADDRESS", ":0"},
		{"DURATION", "0s"},
	})
	defer cleanup()

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("main did not exit after the context was canceled")
	}
}

func TestMetrics(t *testing.T) {
	promtest.LintMetrics(t)
}
