package ptysession

import (
	"context"
	"testing"
	"time"
)

func TestNonInteractiveSessionCapturesOutput(t *testing.T) {
	ctx := context.Background()
	s, err := Start(ctx, Options{Program: "/bin/echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	sub := s.Subscribe()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	code, err := s.Wait(waitCtx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	select {
	case chunk := <-sub:
		if string(chunk) != "hello\n" {
			t.Fatalf("unexpected output: %q", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output chunk")
	}
}

func TestSessionCloseKillsProcess(t *testing.T) {
	s, err := Start(context.Background(), Options{Program: "/bin/sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
