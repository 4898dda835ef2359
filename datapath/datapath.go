// Package datapath declares the encrypted tunnel transform Session
// drives once egress allocation succeeds: the component that actually
// encrypts/decrypts user packets between TUN and the egress endpoint.
package datapath

import (
	"net"

	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

// AddEgressResponse is the subset of the brass response Datapath needs
// to bring the transform up.
type AddEgressResponse struct {
	UserPrivateIP        []net.IP
	EgressPointSockAddrs []endpoint.Endpoint
	EgressPointPublicVal []byte
	ServerNonce          []byte
	UplinkSPI            uint32
	Expiry               int64
	ControlPlaneSockAddr *endpoint.Endpoint
}

// NotificationHandler receives asynchronous events from a running
// Datapath. Handlers must not block: Session posts the handling work
// onto its own Looper and returns immediately.
type NotificationHandler interface {
	DatapathEstablished()
	DatapathFailed(st *status.Status)
	DatapathPermanentFailure(st *status.Status)
}

// Datapath is the consumed encrypted-tunnel transform.
type Datapath interface {
	Start(egress AddEgressResponse, params sessioncrypto.TransformParams) *status.Status
	Stop()

	RegisterNotificationHandler(h NotificationHandler)

	// SwitchNetwork re-homes the transform onto ni/ep, tagging the
	// attempt with counter so a stale response from an earlier attempt
	// can be discarded by the caller.
	SwitchNetwork(sessionID uint64, ep endpoint.Endpoint, ni netmonitor.Info, counter int) *status.Status

	PrepareForTunnelSwitch() *status.Status
	SwitchTunnel() *status.Status

	SetKeyMaterials(params sessioncrypto.TransformParams) *status.Status

	GetDebugInfo() DebugInfo
}

// DebugInfo is a snapshot of transform-internal counters for telemetry.
type DebugInfo struct {
	UplinkPacketsSent     uint64
	DownlinkPacketsRecv   uint64
	LastRekeyUnixSeconds  int64
}
