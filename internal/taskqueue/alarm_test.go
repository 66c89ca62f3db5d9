package taskqueue

import (
	"testing"
	"time"
)

func TestAlarmFiresAfterDuration(t *testing.T) {
	fired := make(chan struct{})
	a := NewAlarm(10*time.Millisecond, func() {
		close(fired)
	})
	defer a.Cancel()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("alarm never fired")
	}

	select {
	case <-a.Fired():
	default:
		t.Fatal("Fired() channel not closed after callback ran")
	}
}

func TestAlarmCancelPreventsFire(t *testing.T) {
	a := NewAlarm(50*time.Millisecond, func() {
		t.Error("alarm fired after Cancel")
	})

	if !a.Cancel() {
		t.Fatal("Cancel() = false, want true for a timer that had not yet fired")
	}

	time.Sleep(100 * time.Millisecond)

	select {
	case <-a.Fired():
		t.Fatal("Fired() channel closed despite Cancel")
	default:
	}
}
