package loopback

import (
	"context"
	"testing"
	"time"
)

func TestDialConnectsToListener(t *testing.T) {
	d := NewDriver()

	ln, err := d.Listen("ep-a")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	var serverSide interface{ Close() error }
	go func() {
		c, err := ln.Accept(context.Background())
		if err == nil {
			serverSide = c
			_, werr := c.Write([]byte("hello"))
			if werr != nil {
				err = werr
			}
		}
		accepted <- err
	}()

	client, err := d.Dial(context.Background(), "ep-a")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := <-accepted; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer serverSide.Close()

	buf := make([]byte, 5)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("Read = %q, want %q", buf, "hello")
	}
}

func TestDialWithoutListenerFails(t *testing.T) {
	d := NewDriver()

	if _, err := d.Dial(context.Background(), "nobody-home"); err == nil {
		t.Fatal("Dial() = nil error, want ErrNoListener")
	}
}

func TestListenTwiceSameAddressFails(t *testing.T) {
	d := NewDriver()

	ln, err := d.Listen("ep-dup")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	if _, err := d.Listen("ep-dup"); err == nil {
		t.Fatal("second Listen() = nil error, want ErrAddressInUse")
	}
}

func TestAcceptUnblocksOnClose(t *testing.T) {
	d := NewDriver()

	ln, err := d.Listen("ep-close")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept(context.Background())
		done <- err
	}()

	ln.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Accept() = nil error after Close, want ErrClosed")
		}
	case <-time.After(time.Second):
		t.Fatal("Accept did not unblock after Close")
	}
}

func TestAcceptHonorsContextCancellation(t *testing.T) {
	d := NewDriver()

	ln, err := d.Listen("ep-ctx")
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
