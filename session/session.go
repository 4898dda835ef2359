// SPDX-FileCopyrightText: Copyright (C) 2018-2023 Yawning Angel, David Stainton.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the state machine that drives the two-step
// provisioning handshake (auth then egress allocation), brings up and
// supervises the encrypted datapath over a dynamically chosen network
// endpoint, reacts to network and MTU events with bounded reconnection
// attempts, and schedules periodic rekey.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/oauthprovider"
	"github.com/Pakkapon0000/vpn-libraries/provision"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
	"github.com/Pakkapon0000/vpn-libraries/timer"
	"github.com/Pakkapon0000/vpn-libraries/vpnservice"
)

// State is one node of the Session state machine.
type State int

const (
	Initialized State = iota
	EgressSessionCreated
	ControlPlaneConnected
	DataPlaneConnecting
	DataPlaneConnected
	SessionError
	PermanentError
	Stopped
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case EgressSessionCreated:
		return "EgressSessionCreated"
	case ControlPlaneConnected:
		return "ControlPlaneConnected"
	case DataPlaneConnecting:
		return "DataPlaneConnecting"
	case DataPlaneConnected:
		return "DataPlaneConnected"
	case SessionError:
		return "SessionError"
	case PermanentError:
		return "PermanentError"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// isControlPlaneUp reports whether state represents a genuinely live
// control plane, for telemetry and buffering decisions. A plain ordering
// comparison on State is wrong here: SessionError/PermanentError/Stopped
// sort numerically above ControlPlaneConnected but must never count.
func isControlPlaneUp(s State) bool {
	switch s {
	case ControlPlaneConnected, DataPlaneConnecting, DataPlaneConnected:
		return true
	}
	return false
}

func isTerminal(s State) bool {
	switch s {
	case SessionError, PermanentError, Stopped:
		return true
	}
	return false
}

// Sink receives the notifications Session produces for the embedding
// application, all delivered on the Looper passed to New as sinkLoop.
type Sink interface {
	ControlPlaneConnected()
	ControlPlaneDisconnected(st *status.Status)
	PermanentFailure(st *status.Status)
	DatapathConnecting()
	DatapathConnected()
	DatapathDisconnected(ni netmonitor.Info, st *status.Status)
}

// Telemetry is the cumulative counter set CollectTelemetry drains.
type Telemetry struct {
	NetworkSwitches           int
	SuccessfulNetworkSwitches int
	SuccessfulRekeys          int
}

// DebugInfo is a point-in-time snapshot for diagnostics.
type DebugInfo struct {
	State         string
	LatestStatus  *status.Status
	ActiveNetwork *netmonitor.Info
	Datapath      datapath.DebugInfo
}

// Session is the client-core state machine described above. It owns its
// own Looper; every public operation and every inbound notification is
// handled on that Looper, serialized in FIFO order.
type Session struct {
	loop *looper.Looper
	log  *log.Logger
	cfg  *config.KryptonConfig

	vpn        vpnservice.VPNService
	netMonitor netmonitor.Monitor
	dp         datapath.Datapath
	fetcher    httpfetcher.Fetcher

	rekeyTimer      timer.Driver
	connectingTimer timer.Driver
	reattemptTimer  timer.Driver

	provisioner *provision.Provision
	crypto      *sessioncrypto.KeyPair

	sinkLoop *looper.Looper
	sink     Sink

	mu sync.Mutex

	state        State
	latestStatus *status.Status

	runCtx    context.Context
	cancelRun context.CancelFunc

	activeNetwork         *netmonitor.Info
	datapathUp            bool
	switchTriggerNetwork  *netmonitor.Info

	egressResp      datapath.AddEgressResponse
	transformParams *sessioncrypto.TransformParams

	switchCounter  int
	endpointCursor int
	reattemptCount int

	rekeyTimerID        timer.ID
	haveRekeyTimer      bool
	connectingTimerID   timer.ID
	haveConnectingTimer bool
	reattemptTimerID    timer.ID
	haveReattemptTimer  bool

	uplinkMTU   int
	downlinkMTU int

	telemetry Telemetry
}

// Deps groups the platform/service dependencies New requires, so the
// constructor's own parameter list doesn't grow with every added
// subsystem.
type Deps struct {
	VPN        vpnservice.VPNService
	NetMonitor netmonitor.Monitor
	Datapath   datapath.Datapath
	Fetcher    httpfetcher.Fetcher
	OAuth      oauthprovider.Provider
	Signer     blindsign.Signer

	TimerTarget *looper.Looper
}

// New constructs a Session. loop is Session's own Looper; sinkLoop/sink
// are where embedder notifications are delivered. deps.Datapath must not
// yet be started: New registers Session as its NotificationHandler.
func New(loop *looper.Looper, lg *log.Logger, cfg *config.KryptonConfig, deps Deps, sinkLoop *looper.Looper, sink Sink) (*Session, error) {
	crypto, err := sessioncrypto.Generate()
	if err != nil {
		return nil, fmt.Errorf("session: generate session keypair: %w", err)
	}

	s := &Session{
		loop:       loop,
		log:        lg,
		cfg:        cfg,
		vpn:        deps.VPN,
		netMonitor: deps.NetMonitor,
		dp:         deps.Datapath,
		fetcher:    deps.Fetcher,
		crypto:     crypto,
		sinkLoop:   sinkLoop,
		sink:       sink,
	}

	target := deps.TimerTarget
	if target == nil {
		target = loop
	}
	rekeyQ := timer.NewQueue(target, s.onRekeyTimerExpiry)
	connectingQ := timer.NewQueue(target, s.onConnectingTimerExpiry)
	reattemptQ := timer.NewQueue(target, s.onReattemptTimerExpiry)
	rekeyQ.Start()
	connectingQ.Start()
	reattemptQ.Start()
	s.rekeyTimer = rekeyQ
	s.connectingTimer = connectingQ
	s.reattemptTimer = reattemptQ

	s.provisioner = provision.New(&looper.Looper{}, lg, cfg, deps.Fetcher, deps.OAuth, deps.Signer, crypto, s.loop, s)
	deps.Datapath.RegisterNotificationHandler(s)

	if deps.NetMonitor != nil {
		deps.NetMonitor.Subscribe(s.SetNetwork, s.SetNoNetworkAvailable)
	}

	return s, nil
}

// Start begins provisioning. Valid only from Initialized.
func (s *Session) Start() {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != Initialized {
			s.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.runCtx = ctx
		s.cancelRun = cancel
		s.mu.Unlock()

		s.provisioner.Start(ctx)
	})
}

func (s *Session) currentRunCtx() context.Context {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Stop cancels all timers, stops the datapath and Provision, and
// transitions to Stopped. Idempotent. Stop posts this teardown onto
// Session's Looper and returns without waiting for it; once the teardown
// has run Session posts no further notifications, but notifications
// already queued on sinkLoop before then are still delivered.
func (s *Session) Stop(forceFailOpen bool) {
	s.loop.Post(func() {
		s.mu.Lock()
		alreadyStopped := s.state == Stopped
		s.state = Stopped
		if s.cancelRun != nil {
			s.cancelRun()
		}
		s.mu.Unlock()
		if alreadyStopped {
			return
		}

		s.cancelRekeyTimer()
		s.cancelConnectingTimer()
		s.cancelReattemptTimer()
		s.rekeyTimer.Halt()
		s.connectingTimer.Halt()
		s.reattemptTimer.Halt()
		s.dp.Stop()
		s.provisioner.Stop()
		if forceFailOpen {
			s.vpn.CloseTunnel()
		}
	})
}

// GetState returns the current state.
func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) notify(fn func()) {
	s.mu.Lock()
	stopped := s.state == Stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	s.sinkLoop.Post(fn)
}

// CollectTelemetry drains the cumulative counters, resetting them.
func (s *Session) CollectTelemetry() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.telemetry
	s.telemetry = Telemetry{}
	return t
}

// GetDebugInfo returns a snapshot of state, status, network and datapath
// debug counters.
func (s *Session) GetDebugInfo() DebugInfo {
	s.mu.Lock()
	state := s.state
	st := s.latestStatus
	var ni *netmonitor.Info
	if s.activeNetwork != nil {
		cp := *s.activeNetwork
		ni = &cp
	}
	s.mu.Unlock()

	return DebugInfo{
		State:         state.String(),
		LatestStatus:  st,
		ActiveNetwork: ni,
		Datapath:      s.dp.GetDebugInfo(),
	}
}

func (s *Session) cancelRekeyTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveRekeyTimer {
		s.rekeyTimer.CancelTimer(s.rekeyTimerID)
		s.haveRekeyTimer = false
	}
}

func (s *Session) armRekeyTimer() {
	s.mu.Lock()
	if s.haveRekeyTimer {
		s.rekeyTimer.CancelTimer(s.rekeyTimerID)
	}
	s.rekeyTimerID = s.rekeyTimer.StartTimer(s.cfg.RekeyDuration)
	s.haveRekeyTimer = true
	s.mu.Unlock()
}

func (s *Session) cancelConnectingTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveConnectingTimer {
		s.connectingTimer.CancelTimer(s.connectingTimerID)
		s.haveConnectingTimer = false
	}
}

func (s *Session) armConnectingTimer() {
	if !s.cfg.DatapathConnectingTimerEnabled {
		return
	}
	s.mu.Lock()
	if s.haveConnectingTimer {
		s.connectingTimer.CancelTimer(s.connectingTimerID)
	}
	s.connectingTimerID = s.connectingTimer.StartTimer(s.cfg.DatapathConnectingTimerDuration)
	s.haveConnectingTimer = true
	s.mu.Unlock()
}

func (s *Session) cancelReattemptTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveReattemptTimer {
		s.reattemptTimer.CancelTimer(s.reattemptTimerID)
		s.haveReattemptTimer = false
	}
}

func (s *Session) armReattemptTimer() {
	s.mu.Lock()
	if s.haveReattemptTimer {
		s.reattemptTimer.CancelTimer(s.reattemptTimerID)
	}
	s.reattemptTimerID = s.reattemptTimer.StartTimer(s.cfg.DatapathReattemptDelay)
	s.haveReattemptTimer = true
	s.mu.Unlock()
}

func (s *Session) onRekeyTimerExpiry(id timer.ID) {
	s.mu.Lock()
	if !s.haveRekeyTimer || id != s.rekeyTimerID {
		s.mu.Unlock()
		return
	}
	s.haveRekeyTimer = false
	s.mu.Unlock()
	s.DoRekey()
}

func (s *Session) onConnectingTimerExpiry(id timer.ID) {
	s.mu.Lock()
	if !s.haveConnectingTimer || id != s.connectingTimerID {
		s.mu.Unlock()
		return
	}
	s.haveConnectingTimer = false
	state := s.state
	s.mu.Unlock()
	if state != DataPlaneConnecting {
		return
	}
	s.scheduleReattempt()
}

func (s *Session) onReattemptTimerExpiry(id timer.ID) {
	s.mu.Lock()
	if !s.haveReattemptTimer || id != s.reattemptTimerID {
		s.mu.Unlock()
		return
	}
	s.haveReattemptTimer = false
	s.mu.Unlock()
	s.AttemptDatapathReconnect()
}
