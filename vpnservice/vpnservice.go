// Package vpnservice declares the platform VPN surface Session drives:
// TUN device creation, socket protection, and IPsec kernel transform
// installation. None of it is implemented here; it is always a thin
// shim over a platform API (NetworkExtension, VpnService, WFP).
package vpnservice

import (
	"net"

	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

// TunFdData is the tunnel descriptor rebuilt on every MTU or egress
// change and handed to CreateTunnel.
type TunFdData struct {
	TunnelIPAddresses  []net.IP
	TunnelDNSAddresses []net.IP
	MTU                int
	IsMetered          bool
}

// IPSecParams carries the negotiated transform material to
// ConfigureIPSec.
type IPSecParams struct {
	UplinkKey   []byte
	DownlinkKey []byte
	UplinkSPI   uint32
}

// VPNService is the platform surface Session calls to stand up and tear
// down the local side of the tunnel.
type VPNService interface {
	// CreateTunnel installs data as the active TUN device. A failure
	// carrying status.DetailVPNPermissionRevoked is always Permanent.
	CreateTunnel(data TunFdData) *status.Status

	CloseTunnel()

	// CreateProtectedNetworkSocket opens a socket on ni that bypasses
	// the tunnel, for reaching ep (the control/data-plane server)
	// directly.
	CreateProtectedNetworkSocket(ni netmonitor.Info, ep endpoint.Endpoint) (net.Conn, error)

	ConfigureIPSec(params IPSecParams) *status.Status

	DisableKeepalive()
}
