package vpnservice

import (
	"net"
	"sync"

	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

// Fake is an in-memory VPNService for tests. CreateTunnelStatus, when
// non-nil, is returned by every CreateTunnel call instead of success for
// as long as it stays set.
type Fake struct {
	mu sync.Mutex

	CreateTunnelStatus *status.Status

	tunnelUp     bool
	lastTunData  TunFdData
	ipsecParams  *IPSecParams
	keepaliveOff bool
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) CreateTunnel(data TunFdData) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateTunnelStatus != nil {
		return f.CreateTunnelStatus
	}
	f.tunnelUp = true
	f.lastTunData = data
	return nil
}

func (f *Fake) CloseTunnel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tunnelUp = false
}

func (f *Fake) CreateProtectedNetworkSocket(ni netmonitor.Info, ep endpoint.Endpoint) (net.Conn, error) {
	c1, _ := net.Pipe()
	return c1, nil
}

func (f *Fake) ConfigureIPSec(params IPSecParams) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ipsecParams = &params
	return nil
}

func (f *Fake) DisableKeepalive() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepaliveOff = true
}

func (f *Fake) TunnelUp() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tunnelUp
}

func (f *Fake) LastTunFdData() TunFdData {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTunData
}
