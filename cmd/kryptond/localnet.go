package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/krypton"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/status"
	"github.com/Pakkapon0000/vpn-libraries/vpnservice"
)

// staticNetMonitor reports a single always-on network and never fires
// onChange/onNoNetwork again after Subscribe. Real platforms replace this
// with a NetworkExtension/ConnectivityManager/WFP-backed Monitor; nothing
// in this tree provides one, since that plumbing only exists behind a
// platform SDK this module cannot link against.
type staticNetMonitor struct {
	info netmonitor.Info
}

func (m *staticNetMonitor) Subscribe(onChange func(netmonitor.Info), onNoNetwork func()) {
	onChange(m.info)
}

// loopbackVPN logs the TUN lifecycle calls Session makes instead of
// installing a real device, so the daemon is runnable for development
// without root or a platform VPN API. CreateProtectedNetworkSocket dials
// normally, since there is no real tunnel underneath to bypass.
type loopbackVPN struct {
	log *log.Logger
}

func (v *loopbackVPN) CreateTunnel(data vpnservice.TunFdData) *status.Status {
	v.log.Info("loopback: create tunnel", "addrs", data.TunnelIPAddresses, "mtu", data.MTU)
	return nil
}

func (v *loopbackVPN) CloseTunnel() {
	v.log.Info("loopback: close tunnel")
}

func (v *loopbackVPN) CreateProtectedNetworkSocket(ni netmonitor.Info, ep endpoint.Endpoint) (net.Conn, error) {
	var d net.Dialer
	return d.Dial("udp", ep.String())
}

func (v *loopbackVPN) ConfigureIPSec(params vpnservice.IPSecParams) *status.Status {
	v.log.Info("loopback: configure ipsec", "uplink_spi", params.UplinkSPI)
	return nil
}

func (v *loopbackVPN) DisableKeepalive() {
	v.log.Info("loopback: disable keepalive")
}

// loggingNotification prints every Facade notification to stderr, the
// minimal embedder an operator running kryptond standalone needs.
type loggingNotification struct {
	log *log.Logger
}

func (n *loggingNotification) Connecting() {
	n.log.Info("connecting")
}

func (n *loggingNotification) Connected() {
	n.log.Info("connected")
}

func (n *loggingNotification) Disconnected(info krypton.DisconnectInfo) {
	n.log.Warn("disconnected", "sub_status", info.SubStatus, "status", info.Status)
}

func (n *loggingNotification) WaitingToReconnect() {
	n.log.Info("waiting to reconnect")
}

func (n *loggingNotification) PermanentFailure(st *status.Status, subStatus string) {
	n.log.Error("permanent failure", "sub_status", subStatus, "status", st)
}

func (n *loggingNotification) Snoozed(snoozeEndTime time.Time) {
	n.log.Info("snoozed", "until", snoozeEndTime)
}

func (n *loggingNotification) Resumed(hasAvailableNetwork, isBlockingTraffic bool) {
	n.log.Info("resumed", "has_available_network", hasAvailableNetwork, "is_blocking_traffic", isBlockingTraffic)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
