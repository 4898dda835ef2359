// Package egress requests an egress allocation over the session's
// authenticated transport and parses the resulting dataplane descriptor.
package egress

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"

	"github.com/charmbracelet/log"

	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

const contentTypeJSON = "application/json"

// Sink receives the result of one GetEgressNodeForPpnIpSec call.
type Sink interface {
	EgressAvailable(isRekey bool)
	EgressUnavailable(st *status.Status)
}

// Manager requests an egress allocation and owns the resulting
// datapath.AddEgressResponse until the next request replaces it.
type Manager struct {
	loop *looper.Looper
	log  *log.Logger

	cfg     *config.KryptonConfig
	fetcher httpfetcher.Fetcher

	sinkLoop *looper.Looper
	sink     Sink

	response datapath.AddEgressResponse
}

// New constructs a Manager. loop is the Manager's own Looper; sinkLoop
// is the Looper sink's methods must be invoked on.
func New(loop *looper.Looper, lg *log.Logger, cfg *config.KryptonConfig, fetcher httpfetcher.Fetcher, sinkLoop *looper.Looper, sink Sink) *Manager {
	return &Manager{
		loop:     loop,
		log:      lg,
		cfg:      cfg,
		fetcher:  fetcher,
		sinkLoop: sinkLoop,
		sink:     sink,
	}
}

// GetEgressSessionDetails returns the most recently parsed egress
// allocation. Only valid after an EgressAvailable notification.
func (m *Manager) GetEgressSessionDetails() datapath.AddEgressResponse {
	return m.response
}

// GetControlPlaneAddr returns the control-plane endpoint from the most
// recent allocation, if the server supplied one.
func (m *Manager) GetControlPlaneAddr() (endpoint.Endpoint, bool) {
	if m.response.ControlPlaneSockAddr == nil {
		return endpoint.Endpoint{}, false
	}
	return *m.response.ControlPlaneSockAddr, true
}

// GetEgressNodeForPpnIpSec issues one brass POST carrying crypto's
// public value and authToken, and runs on Manager's own Looper.
func (m *Manager) GetEgressNodeForPpnIpSec(ctx context.Context, crypto *sessioncrypto.KeyPair, authToken blindsign.AuthToken, isRekey bool) {
	m.loop.Go(func() {
		m.run(ctx, crypto, authToken, isRekey)
	})
}

func (m *Manager) run(ctx context.Context, crypto *sessioncrypto.KeyPair, authToken blindsign.AuthToken, isRekey bool) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		m.fail(status.Protocolf("egress: generate client nonce: %v", err))
		return
	}

	req := brassRequest{
		UnblindedToken:          base64.StdEncoding.EncodeToString(authToken.Token),
		UnblindedTokenSignature: base64.StdEncoding.EncodeToString(authToken.Signature),
		Ppn: ppnDataplaneRequestWire{
			ClientPublicValue: base64.StdEncoding.EncodeToString(crypto.PublicValue()),
			ClientNonce:       base64.StdEncoding.EncodeToString(nonce),
			DataplaneProtocol: string(m.cfg.DatapathProtocol),
			ApnType:           m.cfg.ApnType,
			DynamicMtuEnabled: m.cfg.DynamicMTUEnabled,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		m.fail(status.Protocolf("egress: encode brass request: %v", err))
		return
	}

	resp, err := m.fetcher.Post(ctx, m.cfg.BrassURL, contentTypeJSON, body)
	if err != nil {
		m.fail(status.Transientf("egress: brass: %v", err))
		return
	}
	if st := status.FromHTTPStatus(resp.StatusCode, string(resp.Body), ""); st != nil {
		m.fail(st)
		return
	}

	var parsed brassResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		m.fail(status.Protocolf("egress: decode brass response: %v", err))
		return
	}

	egressResponse, st := parseDataplaneResponse(parsed.PpnDataplane)
	if st != nil {
		m.fail(st)
		return
	}

	m.response = egressResponse
	m.succeed(isRekey)
}

func parseDataplaneResponse(w ppnDataplaneResponseWire) (datapath.AddEgressResponse, *status.Status) {
	sockAddrs, err := endpoint.ParseAll(w.EgressPointSockAddr)
	if err != nil {
		return datapath.AddEgressResponse{}, status.Protocolf("egress: %v", err)
	}
	if len(sockAddrs) == 0 {
		return datapath.AddEgressResponse{}, status.Protocolf("egress: brass response has no egress_point_sock_addr")
	}

	userPrivateIPs, err := parseIPs(w.UserPrivateIP)
	if err != nil {
		return datapath.AddEgressResponse{}, status.Protocolf("egress: %v", err)
	}

	publicValue, err := base64.StdEncoding.DecodeString(w.EgressPointPublicValue)
	if err != nil {
		return datapath.AddEgressResponse{}, status.Protocolf("egress: decode egress_point_public_value: %v", err)
	}
	serverNonce, err := base64.StdEncoding.DecodeString(w.ServerNonce)
	if err != nil {
		return datapath.AddEgressResponse{}, status.Protocolf("egress: decode server_nonce: %v", err)
	}

	resp := datapath.AddEgressResponse{
		UserPrivateIP:        userPrivateIPs,
		EgressPointSockAddrs: sockAddrs,
		EgressPointPublicVal: publicValue,
		ServerNonce:          serverNonce,
		UplinkSPI:            w.UplinkSpi,
		Expiry:               w.Expiry,
	}

	if w.ControlPlaneSockAddr != "" {
		ep, err := endpoint.Parse(w.ControlPlaneSockAddr)
		if err != nil {
			return datapath.AddEgressResponse{}, status.Protocolf("egress: control_plane_sock_addr: %v", err)
		}
		resp.ControlPlaneSockAddr = &ep
	}

	return resp, nil
}

func parseIPs(addrs []string) ([]net.IP, error) {
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			return nil, fmt.Errorf("invalid user_private_ip entry %q", a)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

func (m *Manager) succeed(isRekey bool) {
	m.sinkLoop.Post(func() {
		m.sink.EgressAvailable(isRekey)
	})
}

func (m *Manager) fail(st *status.Status) {
	m.log.Warn("egress allocation failed", "status", fmt.Sprint(st))
	m.sinkLoop.Post(func() {
		m.sink.EgressUnavailable(st)
	})
}
