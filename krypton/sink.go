package krypton

import (
	"time"

	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

// ControlPlaneConnected implements session.Sink. Runs on the facade's own
// Looper (Session's sinkLoop).
func (f *Facade) ControlPlaneConnected() {
	f.mu.Lock()
	if f.state != Connecting && f.state != WaitingToReconnect {
		f.mu.Unlock()
		return
	}
	f.state = Connected
	f.dataPlaneActive = false
	f.latestStatus = nil
	f.subStatus = ""
	f.mu.Unlock()
	f.notif.Connected()
}

// DatapathConnecting implements session.Sink. Data-plane connection
// attempts never change the facade's coarse state: Session already
// retries on its own within DataPlaneConnecting.
func (f *Facade) DatapathConnecting() {
	f.mu.Lock()
	f.dataPlaneActive = true
	f.telemetry.DataPlaneConnectingAttempts++
	f.connectingSince = time.Now()
	f.mu.Unlock()
}

// DatapathConnected implements session.Sink.
func (f *Facade) DatapathConnected() {
	f.mu.Lock()
	f.telemetry.DataPlaneConnectingSuccesses++
	since := f.connectingSince
	if !since.IsZero() {
		f.telemetry.DataPlaneConnectingLatencies = append(f.telemetry.DataPlaneConnectingLatencies, time.Since(since))
		f.connectingSince = time.Time{}
	}
	f.mu.Unlock()
}

// ControlPlaneDisconnected implements session.Sink: Session gave up
// before ever reaching the data plane (or a rekey/derive failure forced
// it back down). The facade surfaces this the same way as an exhausted
// data-plane retry: waiting for an outside trigger (a new SetNetwork, or
// ForceReconnect) to try again.
func (f *Facade) ControlPlaneDisconnected(st *status.Status) {
	f.mu.Lock()
	if f.state == Stopped || f.state == PermanentFailure || f.state == Snoozed {
		f.mu.Unlock()
		return
	}
	f.state = WaitingToReconnect
	f.dataPlaneActive = false
	f.latestStatus = st
	f.subStatus = "control_plane"
	f.telemetry.ControlPlaneFailures++
	f.mu.Unlock()
	f.notif.Disconnected(DisconnectInfo{Status: st, SubStatus: "control_plane"})
}

// DatapathDisconnected implements session.Sink: Session exhausted its
// bounded reattempts and fell back to ControlPlaneConnected.
func (f *Facade) DatapathDisconnected(ni netmonitor.Info, st *status.Status) {
	f.mu.Lock()
	if f.state == Stopped || f.state == PermanentFailure || f.state == Snoozed {
		f.mu.Unlock()
		return
	}
	f.state = WaitingToReconnect
	f.dataPlaneActive = false
	f.latestStatus = st
	f.subStatus = "data_plane"
	f.telemetry.DataPlaneFailures++
	f.mu.Unlock()
	f.notif.Disconnected(DisconnectInfo{Status: st, SubStatus: "data_plane", Network: ni})
}

// PermanentFailure implements session.Sink. dataPlaneActive, set by
// DatapathConnecting and cleared by ControlPlaneConnected and the
// *Disconnected callbacks above, is how the facade distinguishes a control-plane from
// a data-plane permanent failure without Session itself needing a second
// top-level terminal state for the distinction.
func (f *Facade) PermanentFailure(st *status.Status) {
	f.mu.Lock()
	if f.state == Stopped {
		f.mu.Unlock()
		return
	}
	sub := "control_plane_permanent"
	if f.dataPlaneActive {
		sub = "data_plane_permanent"
	}
	f.state = PermanentFailure
	f.latestStatus = st
	f.subStatus = sub
	f.mu.Unlock()
	f.notif.PermanentFailure(st, sub)
}
