package datapath

import (
	"sync"

	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

// Fake is an in-memory Datapath for tests: it never moves packets, but
// it tracks calls, lets the test script the status the next
// Start/SwitchNetwork returns, and delivers notifications only when the
// test calls one of the Fire* methods.
type Fake struct {
	mu sync.Mutex

	handler NotificationHandler

	// NextStartStatus/NextSwitchStatus, when non-nil, are returned by
	// the next Start/SwitchNetwork call instead of success. Cleared
	// after use.
	NextStartStatus  *status.Status
	NextSwitchStatus *status.Status

	started        bool
	switchCounter  int
	lastEndpoint   endpoint.Endpoint
	lastNetwork    netmonitor.Info
	keyMaterials   sessioncrypto.TransformParams
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Start(egress AddEgressResponse, params sessioncrypto.TransformParams) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NextStartStatus != nil {
		st := f.NextStartStatus
		f.NextStartStatus = nil
		return st
	}
	f.started = true
	f.keyMaterials = params
	return nil
}

func (f *Fake) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
}

func (f *Fake) RegisterNotificationHandler(h NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *Fake) SwitchNetwork(sessionID uint64, ep endpoint.Endpoint, ni netmonitor.Info, counter int) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastEndpoint = ep
	f.lastNetwork = ni
	f.switchCounter = counter
	if f.NextSwitchStatus != nil {
		st := f.NextSwitchStatus
		f.NextSwitchStatus = nil
		return st
	}
	return nil
}

func (f *Fake) PrepareForTunnelSwitch() *status.Status { return nil }
func (f *Fake) SwitchTunnel() *status.Status           { return nil }

func (f *Fake) SetKeyMaterials(params sessioncrypto.TransformParams) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyMaterials = params
	return nil
}

func (f *Fake) GetDebugInfo() DebugInfo {
	return DebugInfo{}
}

// FireEstablished synchronously invokes the registered handler's
// DatapathEstablished, the way a real transform would from its own
// internal goroutine. Tests call this to drive Session through a
// SwitchNetwork -> DatapathEstablished transition.
func (f *Fake) FireEstablished() {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.DatapathEstablished()
	}
}

func (f *Fake) FireFailed(st *status.Status) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.DatapathFailed(st)
	}
}

func (f *Fake) FirePermanentFailure(st *status.Status) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h.DatapathPermanentFailure(st)
	}
}

func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *Fake) LastSwitchCounter() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.switchCounter
}

func (f *Fake) LastEndpoint() endpoint.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastEndpoint
}
