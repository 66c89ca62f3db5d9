package taskqueue

import "time"

// Alarm is a one-shot deadline timer used by the encryption runner's
// 15-second handshake timeout and any other bounded wait.
// Unlike a bare time.Timer, it exposes a Fired channel that is closed
// when the alarm fires, and Cancel is safe after the alarm has fired.
type Alarm struct {
	timer *time.Timer
	fired chan struct{}
}

// NewAlarm schedules fn to run after d unless Cancel is called first.
func NewAlarm(d time.Duration, fn func()) *Alarm {
	a := &Alarm{fired: make(chan struct{})}

	a.timer = time.AfterFunc(d, func() {
		close(a.fired)
		fn()
	})

	return a
}

// Cancel stops the alarm if it has not yet fired. It returns true if the
// cancellation prevented fn from running.
func (a *Alarm) Cancel() bool {
	return a.timer.Stop()
}

// Fired returns a channel that is closed once the alarm has fired.
func (a *Alarm) Fired() <-chan struct{} {
	return a.fired
}
