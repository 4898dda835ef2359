package krypton

import (
	"context"
	"fmt"
	"time"

	"github.com/Pakkapon0000/vpn-libraries/timer"
)

// ForceReconnect tears down and immediately rebuilds the current
// session, bypassing the normal reattempt delay. A no-op unless the
// facade is currently Connected.
func (f *Facade) ForceReconnect() {
	f.loop.Post(func() {
		f.mu.Lock()
		if f.state != Connected {
			f.mu.Unlock()
			return
		}
		f.state = WaitingToReconnect
		f.mu.Unlock()
		f.notif.WaitingToReconnect()

		f.mu.Lock()
		f.state = Connecting
		f.mu.Unlock()
		f.notif.Connecting()
		f.replaceSession()
	})
}

// Snooze closes the tunnel, tears down the current session and blocks
// reconnection for duration, resuming automatically when it elapses.
// Refused once the facade has reached PermanentFailure.
func (f *Facade) Snooze(ctx context.Context, duration time.Duration) error {
	resultCh := make(chan error, 1)
	f.loop.Post(func() {
		f.mu.Lock()
		if f.state == PermanentFailure {
			f.mu.Unlock()
			resultCh <- fmt.Errorf("krypton: refusing to snooze: facade is in PermanentFailure")
			return
		}
		old := f.sess
		f.sess = nil
		f.state = Snoozed
		f.snoozeEndTime = time.Now().Add(duration)
		end := f.snoozeEndTime
		f.mu.Unlock()

		if old != nil {
			old.Stop(true)
		}
		f.armSnoozeTimer(duration)
		f.notif.Snoozed(end)
		resultCh <- nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}

// Resume ends a Snooze early: it clears the snooze timer and rebuilds
// the session. Fails if the facade is not currently Snoozed.
func (f *Facade) Resume(ctx context.Context) error {
	resultCh := make(chan error, 1)
	f.loop.Post(func() {
		f.cancelSnoozeTimer()

		f.mu.Lock()
		if f.state != Snoozed {
			f.mu.Unlock()
			resultCh <- fmt.Errorf("krypton: cannot resume: facade is not snoozed")
			return
		}
		f.state = Connecting
		f.mu.Unlock()

		f.notif.Resumed(true, false)
		f.notif.Connecting()
		f.replaceSession()
		resultCh <- nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}

// ExtendSnooze pushes the current snooze's end time further out by
// extendDuration. Fails if the facade is not currently Snoozed, or if
// the extension would already be in the past.
func (f *Facade) ExtendSnooze(ctx context.Context, extendDuration time.Duration) error {
	resultCh := make(chan error, 1)
	f.loop.Post(func() {
		f.mu.Lock()
		if f.state != Snoozed {
			f.mu.Unlock()
			resultCh <- fmt.Errorf("krypton: unable to extend snooze: facade is not snoozed")
			return
		}
		proposed := f.snoozeEndTime.Add(extendDuration)
		now := time.Now()
		if proposed.Before(now) {
			f.mu.Unlock()
			resultCh <- fmt.Errorf("krypton: new snooze duration would already be expired")
			return
		}
		remaining := proposed.Sub(now)
		f.snoozeEndTime = proposed
		end := proposed
		f.mu.Unlock()

		f.cancelSnoozeTimer()
		f.armSnoozeTimer(remaining)
		f.notif.Snoozed(end)
		resultCh <- nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-resultCh:
		return err
	}
}

func (f *Facade) cancelSnoozeTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.haveSnoozeTimer {
		f.snoozeTimer.CancelTimer(f.snoozeTimerID)
		f.haveSnoozeTimer = false
	}
}

func (f *Facade) armSnoozeTimer(d time.Duration) {
	f.mu.Lock()
	if f.haveSnoozeTimer {
		f.snoozeTimer.CancelTimer(f.snoozeTimerID)
	}
	f.snoozeTimerID = f.snoozeTimer.StartTimer(d)
	f.haveSnoozeTimer = true
	f.mu.Unlock()
}

func (f *Facade) onSnoozeTimerExpiry(id timer.ID) {
	f.mu.Lock()
	if !f.haveSnoozeTimer || id != f.snoozeTimerID {
		f.mu.Unlock()
		return
	}
	f.haveSnoozeTimer = false
	state := f.state
	f.mu.Unlock()
	if state != Snoozed {
		return
	}

	f.mu.Lock()
	f.state = Connecting
	f.mu.Unlock()
	f.notif.Resumed(true, false)
	f.notif.Connecting()
	f.replaceSession()
}
