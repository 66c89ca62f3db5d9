package tcplan

import (
	"context"
	"testing"
	"time"
)

func TestDialAndAccept(t *testing.T) {
	d := NewDriver()

	ln, err := d.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	addr := ln.(*Listener).Addr().String()

	accepted := make(chan error, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		if err == nil {
			defer c.Close()
			_, err = c.Write([]byte("ping"))
		}
		accepted <- err
	}()

	client, err := d.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := <-accepted; err != nil {
		t.Fatalf("Accept: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("Read = %q, want %q", buf, "ping")
	}
}

func TestAcceptHonorsContextCancellation(t *testing.T) {
	d := NewDriver()

	ln, err := d.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Accept() = nil error after cancel, want context.Canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("Accept did not honor context cancellation")
	}
}

func TestDialUnreachableFails(t *testing.T) {
	d := NewDriver()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := d.Dial(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("Dial() = nil error, want connection refused")
	}
}
