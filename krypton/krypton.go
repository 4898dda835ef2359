// Package krypton implements the process-wide entry point that embedding
// applications drive: construct once, call Start to begin provisioning and
// keep the tunnel alive indefinitely, and use Snooze/Resume/ForceReconnect/
// SetNetwork to react to application and platform events. It collapses the
// separate session-manager/tunnel-manager/reconnector ownership of the
// system this is modeled on into a single owner, since Session already
// supervises its own reconnection and rekey.
//
// Grounded on session's own "owns one Looper, Posts results onward"
// composition: Facade owns one Looper, used both to serialize its own
// public methods and as every Session instance's own dispatch loop and
// sinkLoop. Recreating a Session per connect cycle (rather than keeping one
// Session object for the life of the process) mirrors how the system this
// is modeled on creates and destroys a Session on every reconnect; Session
// itself is intentionally one-shot (Stop is terminal) so the Facade, not
// Session, owns the create/destroy cycle.
package krypton

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/oauthprovider"
	"github.com/Pakkapon0000/vpn-libraries/session"
	"github.com/Pakkapon0000/vpn-libraries/status"
	"github.com/Pakkapon0000/vpn-libraries/timer"
	"github.com/Pakkapon0000/vpn-libraries/vpnservice"
)

// State is one node of the Facade's own state machine, coarser than
// Session's: everything from ControlPlaneConnected through
// DataPlaneConnected collapses into Connected, since reconnection within
// a single provisioning lifetime is Session's job, invisible up here.
type State int

const (
	Initial State = iota
	Connecting
	Connected
	WaitingToReconnect
	PermanentFailure
	Snoozed
	Stopped
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case WaitingToReconnect:
		return "WaitingToReconnect"
	case PermanentFailure:
		return "PermanentFailure"
	case Snoozed:
		return "Snoozed"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// DisconnectInfo is the payload of a Disconnected notification.
type DisconnectInfo struct {
	Status    *status.Status
	SubStatus string
	Network   netmonitor.Info
}

// Notification is what the embedding application implements to observe
// the facade, delivered serialized on the Looper given to New.
type Notification interface {
	Connecting()
	Connected()
	Disconnected(info DisconnectInfo)
	WaitingToReconnect()
	PermanentFailure(st *status.Status, subStatus string)
	Snoozed(snoozeEndTime time.Time)
	Resumed(hasAvailableNetwork, isBlockingTraffic bool)
}

// Telemetry is the cumulative counter set CollectTelemetry drains, a
// superset of session.Telemetry with the facade's own reconnection
// counters layered on top.
type Telemetry struct {
	Session                      session.Telemetry
	ControlPlaneFailures         int
	DataPlaneFailures            int
	SessionRestarts              int
	DataPlaneConnectingAttempts  int
	DataPlaneConnectingSuccesses int
	DataPlaneConnectingLatencies []time.Duration
}

// DebugInfo is a point-in-time snapshot for diagnostics.
type DebugInfo struct {
	State                  string
	SubStatus              string
	LatestStatus           *status.Status
	SnoozeEndTime          *time.Time
	SafeDisconnectEnabled  bool
	IPGeoLevel             config.IPGeoLevel
	Session                *session.DebugInfo
}

// Deps groups the platform/service dependencies New requires. A fresh
// Session is constructed from the same Deps every time the facade
// (re)connects.
type Deps struct {
	VPN        vpnservice.VPNService
	NetMonitor netmonitor.Monitor
	Datapath   datapath.Datapath
	Fetcher    httpfetcher.Fetcher
	OAuth      oauthprovider.Provider
	Signer     blindsign.Signer
}

// Facade is the top-level object described above.
type Facade struct {
	loop *looper.Looper
	log  *log.Logger
	cfg  *config.KryptonConfig
	deps Deps
	notif Notification

	snoozeTimer timer.Driver

	mu sync.Mutex

	state           State
	sess            *session.Session
	dataPlaneActive bool
	latestStatus    *status.Status
	subStatus       string

	snoozeEndTime   time.Time
	snoozeTimerID   timer.ID
	haveSnoozeTimer bool

	safeDisconnectEnabled bool
	ipGeoLevel            config.IPGeoLevel

	telemetry       Telemetry
	connectingSince time.Time
}

// New constructs a Facade. loop is used both to serialize every exported
// method and as the dispatch loop + sink target handed to each Session
// the facade constructs; the caller owns loop's lifecycle (Halt it once
// the facade is no longer needed, the same convention session.New uses).
func New(loop *looper.Looper, lg *log.Logger, cfg *config.KryptonConfig, deps Deps, notif Notification) *Facade {
	f := &Facade{
		loop:       loop,
		log:        lg,
		cfg:        cfg,
		deps:       deps,
		notif:      notif,
		ipGeoLevel: cfg.IPGeoLevel,
	}
	q := timer.NewQueue(loop, f.onSnoozeTimerExpiry)
	q.Start()
	f.snoozeTimer = q
	return f
}

// Start begins provisioning. Valid only from Initial.
func (f *Facade) Start() {
	f.loop.Post(func() {
		f.mu.Lock()
		if f.state != Initial {
			f.mu.Unlock()
			return
		}
		f.state = Connecting
		f.mu.Unlock()
		f.notif.Connecting()
		f.replaceSession()
	})
}

// Stop tears down the current session and the facade's own timers.
// Idempotent.
func (f *Facade) Stop() {
	f.loop.Post(func() {
		f.mu.Lock()
		if f.state == Stopped {
			f.mu.Unlock()
			return
		}
		old := f.sess
		f.sess = nil
		f.state = Stopped
		f.mu.Unlock()

		f.cancelSnoozeTimer()
		f.snoozeTimer.Halt()
		if old != nil {
			old.Stop(true)
		}
	})
}

// GetState returns the current facade state.
func (f *Facade) GetState() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// CollectTelemetry drains the cumulative counters, resetting them, and
// folds in the current session's own telemetry.
func (f *Facade) CollectTelemetry() Telemetry {
	f.mu.Lock()
	t := f.telemetry
	sess := f.sess
	f.telemetry = Telemetry{}
	f.mu.Unlock()

	if sess != nil {
		t.Session = sess.CollectTelemetry()
	}
	return t
}

// GetDebugInfo returns a snapshot of facade and session state.
func (f *Facade) GetDebugInfo() DebugInfo {
	f.mu.Lock()
	info := DebugInfo{
		State:                 f.state.String(),
		SubStatus:             f.subStatus,
		LatestStatus:          f.latestStatus,
		SafeDisconnectEnabled: f.safeDisconnectEnabled,
		IPGeoLevel:            f.ipGeoLevel,
	}
	if f.state == Snoozed {
		end := f.snoozeEndTime
		info.SnoozeEndTime = &end
	}
	sess := f.sess
	f.mu.Unlock()

	if sess != nil {
		sd := sess.GetDebugInfo()
		info.Session = &sd
	}
	return info
}

// replaceSession stops whatever session is currently running (if any) and
// constructs + starts a fresh one, both steps posted onto loop so they
// run in order relative to any other work already queued there.
func (f *Facade) replaceSession() {
	f.mu.Lock()
	old := f.sess
	f.mu.Unlock()
	if old != nil {
		old.Stop(false)
	}

	f.loop.Post(func() {
		f.mu.Lock()
		cfgCopy := *f.cfg
		cfgCopy.IPGeoLevel = f.ipGeoLevel
		f.mu.Unlock()

		newSess, err := session.New(f.loop, f.log, &cfgCopy, session.Deps{
			VPN:        f.deps.VPN,
			NetMonitor: f.deps.NetMonitor,
			Datapath:   f.deps.Datapath,
			Fetcher:    f.deps.Fetcher,
			OAuth:      f.deps.OAuth,
			Signer:     f.deps.Signer,
		}, f.loop, f)
		if err != nil {
			f.log.Error("facade: construct session failed", "err", err)
			st := status.Permanentf(status.DetailNone, "facade: construct session: %v", err)
			f.mu.Lock()
			f.state = PermanentFailure
			f.subStatus = "facade"
			f.latestStatus = st
			f.mu.Unlock()
			f.notif.PermanentFailure(st, "facade")
			return
		}

		f.mu.Lock()
		f.sess = newSess
		f.dataPlaneActive = false
		f.telemetry.SessionRestarts++
		f.mu.Unlock()

		newSess.Start()
	})
}
