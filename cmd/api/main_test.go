package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/zhouzirui/z-tutor/backend/internal/config"
	"github.com/zhouzirui/z-tutor/backend/internal/transport/bedrock"
	"github.com/zhouzirui/z-tutor/backend/internal/transport/relay"
)

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewDialerFollowsTransport(t *testing.T) {
	if _, ok := newDialer(config.VoiceConfig{Transport: config.TransportBedrock}).(*bedrock.Dialer); !ok {
		t.Fatal("expected bedrock dialer")
	}
	if _, ok := newDialer(config.VoiceConfig{Transport: config.TransportRelay, RelayGzip: true}).(*relay.Dialer); !ok {
		t.Fatal("expected relay dialer")
	}
}
