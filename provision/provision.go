// Package provision sequences Auth and EgressManager into the two-step
// provisioning handshake Session needs to bring up a control plane:
// blind-signed authentication first, then egress allocation.
package provision

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/Pakkapon0000/vpn-libraries/auth"
	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/egress"
	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/oauthprovider"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

// Sink receives Provision's notifications, all delivered on the Looper
// passed to New as sinkLoop.
type Sink interface {
	ReadyForAddEgress(isRekey bool)
	Provisioned(resp datapath.AddEgressResponse, isRekey bool)
	ProvisioningFailure(st *status.Status, permanent bool)
}

// Provision runs Auth then EgressManager, in that order, once per
// Start/Rekey call. At most one such round runs at a time.
type Provision struct {
	loop *looper.Looper
	log  *log.Logger

	authWorkLoop   *looper.Looper
	egressWorkLoop *looper.Looper

	auth   *auth.Auth
	egress *egress.Manager
	crypto *sessioncrypto.KeyPair

	sinkLoop *looper.Looper
	sink     Sink

	running   bool
	stopped   bool
	curCtx    context.Context
	cancelCur context.CancelFunc
}

// New constructs a Provision. loop is Provision's own Looper, which also
// serves as the sinkLoop Auth and EgressManager post their results onto;
// sinkLoop/sink are where Provision in turn posts its own notifications.
func New(loop *looper.Looper, lg *log.Logger, cfg *config.KryptonConfig, fetcher httpfetcher.Fetcher, oauth oauthprovider.Provider, signer blindsign.Signer, crypto *sessioncrypto.KeyPair, sinkLoop *looper.Looper, sink Sink) *Provision {
	p := &Provision{
		loop:           loop,
		log:            lg,
		authWorkLoop:   &looper.Looper{},
		egressWorkLoop: &looper.Looper{},
		crypto:         crypto,
		sinkLoop:       sinkLoop,
		sink:           sink,
	}
	p.auth = auth.New(p.authWorkLoop, lg, cfg, fetcher, oauth, signer, crypto, p.loop, p)
	p.egress = egress.New(p.egressWorkLoop, lg, cfg, fetcher, p.loop, p)
	return p
}

// Start begins one provisioning round. Valid only when no round is
// currently outstanding; otherwise it is a no-op.
func (p *Provision) Start(ctx context.Context) {
	p.beginRound(ctx, false)
}

// Rekey restarts Auth with isRekey=true, retaining the active session;
// on completion the caller should replace key material rather than
// treating this as a fresh session.
func (p *Provision) Rekey(ctx context.Context) {
	p.beginRound(ctx, true)
}

func (p *Provision) beginRound(ctx context.Context, isRekey bool) {
	p.loop.Post(func() {
		if p.running || p.stopped {
			return
		}
		p.running = true
		roundCtx, cancel := context.WithCancel(ctx)
		p.curCtx = roundCtx
		p.cancelCur = cancel
		p.auth.Start(roundCtx, isRekey)
	})
}

// Stop tears down both children and Provision's own dispatch loop.
// Idempotent.
func (p *Provision) Stop() {
	p.loop.Post(func() {
		p.stopped = true
		p.running = false
		if p.cancelCur != nil {
			p.cancelCur()
		}
	})
	p.authWorkLoop.Halt()
	p.egressWorkLoop.Halt()
	p.loop.Halt()
}

// GetControlPlaneAddr returns the control-plane endpoint from the most
// recent egress allocation, if the server supplied one.
func (p *Provision) GetControlPlaneAddr() (endpoint.Endpoint, bool) {
	return p.egress.GetControlPlaneAddr()
}

// AuthSuccessful implements auth.Sink. It runs on Provision's own loop.
func (p *Provision) AuthSuccessful(isRekey bool) {
	if p.stopped {
		return
	}
	p.sinkLoop.Post(func() {
		p.sink.ReadyForAddEgress(isRekey)
	})
	p.egress.GetEgressNodeForPpnIpSec(p.curCtx, p.crypto, p.auth.GetAuthToken(), isRekey)
}

// AuthFailure implements auth.Sink. It runs on Provision's own loop.
func (p *Provision) AuthFailure(st *status.Status) {
	if p.stopped {
		return
	}
	p.running = false
	permanent := st.IsPermanent()
	p.sinkLoop.Post(func() {
		p.sink.ProvisioningFailure(st, permanent)
	})
}

// EgressAvailable implements egress.Sink. It runs on Provision's own loop.
func (p *Provision) EgressAvailable(isRekey bool) {
	if p.stopped {
		return
	}
	p.running = false
	resp := p.egress.GetEgressSessionDetails()
	p.sinkLoop.Post(func() {
		p.sink.Provisioned(resp, isRekey)
	})
}

// EgressUnavailable implements egress.Sink. It runs on Provision's own loop.
func (p *Provision) EgressUnavailable(st *status.Status) {
	if p.stopped {
		return
	}
	p.running = false
	permanent := st.IsPermanent()
	p.sinkLoop.Post(func() {
		p.sink.ProvisioningFailure(st, permanent)
	})
}
