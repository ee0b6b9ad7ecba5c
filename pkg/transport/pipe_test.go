package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPipeRoundTrip(t *testing.T) {
	client, server := NewPipe()
	defer client.Close()

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg) != "hello" {
		t.Errorf("Receive = %q, want %q", msg, "hello")
	}
}

func TestPipeOrdering(t *testing.T) {
	client, server := NewPipe()
	defer client.Close()

	for _, msg := range []string{"a", "b", "c"} {
		if err := client.Send([]byte(msg)); err != nil {
			t.Fatalf("Send(%q): %v", msg, err)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		msg, err := server.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if string(msg) != want {
			t.Errorf("Receive = %q, want %q", msg, want)
		}
	}
}

func TestPipeSendCopiesBuffer(t *testing.T) {
	client, server := NewPipe()
	defer client.Close()

	buf := []byte("original")
	if err := client.Send(buf); err != nil {
		t.Fatalf("Send: %v", err)
	}
	copy(buf, "mutated!")

	msg, err := server.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg) != "original" {
		t.Errorf("Receive = %q, want %q", msg, "original")
	}
}

func TestPipeClose(t *testing.T) {
	client, server := NewPipe()

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := client.Send([]byte("x")); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Send after close = %v, want ErrStreamClosed", err)
	}
	if _, err := server.Receive(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Receive after close = %v, want ErrStreamClosed", err)
	}
}

func TestPipeDrainsAfterClose(t *testing.T) {
	client, server := NewPipe()

	if err := client.Send([]byte("last words")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	client.Close()

	msg, err := server.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive should drain buffered message: %v", err)
	}
	if string(msg) != "last words" {
		t.Errorf("Receive = %q", msg)
	}
}

func TestPipeReceiveContextCancel(t *testing.T) {
	client, _ := NewPipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Receive = %v, want context.Canceled", err)
	}
}
