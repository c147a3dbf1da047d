package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/pvbridge/internal/bridge"
	"github.com/danmuck/pvbridge/internal/protocol/session"
	"github.com/danmuck/pvbridge/internal/testutil/testlog"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestRunSoakAgainstBridge(t *testing.T) {
	testlog.Start(t)
	addr := freeAddr(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// pvpeer listens, the bridge dials with retries until the listener is up.
	cfg := bridge.DefaultServiceConfig()
	cfg.Session.Role = session.RoleClient
	cfg.Session.Address = addr
	cfg.Session.MaxConnectAttempts = 0
	bctx, stopBridge := context.WithCancel(ctx)
	defer stopBridge()
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- bridge.NewService(cfg).RunContext(bctx) }()

	err := runSoak(ctx, soakOptions{
		role:     string(session.RoleServer),
		address:  addr,
		seed:     7,
		attempts: 64,
		timeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("soak: %v", err)
	}

	stopBridge()
	select {
	case <-bridgeDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("bridge did not stop")
	}
}

func TestRootCommandRejectsBadRole(t *testing.T) {
	testlog.Start(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--role", "sideways", "--address", freeAddr(t)})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected invalid role error")
	}
}
