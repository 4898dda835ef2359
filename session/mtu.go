package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

const contentTypeJSON = "application/json"

// updatePathInfoWire is the body posted to update_path_info. Field names
// and the signed canonical string ("path_info;{session_id};{uplink_mtu};
// {downlink_mtu}") are resolved from the original request builder; the
// signature itself substitutes HMAC-SHA256 over that string, keyed by the
// session's HKDF downlink key, for the blind-signature call the original
// uses (out of scope here).
type updatePathInfoWire struct {
	SessionID             uint64 `json:"session_id"`
	UplinkMTU             int    `json:"uplink_mtu"`
	DownlinkMTU           int    `json:"downlink_mtu"`
	ApnType               string `json:"apn_type,omitempty"`
	ControlPlaneSockAddr  string `json:"control_plane_sock_addr,omitempty"`
	MtuUpdateSignature    string `json:"mtu_update_signature"`
}

func signUpdatePathInfo(downlinkKey []byte, sessionID uint64, uplinkMTU, downlinkMTU int) string {
	canonical := fmt.Sprintf("path_info;%d;%d;%d", sessionID, uplinkMTU, downlinkMTU)
	mac := hmac.New(sha256.New, downlinkKey)
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// DoRekey restarts provisioning with isRekey=true, retaining the active
// session; the new key material replaces the datapath's transform
// without interrupting the user-visible tunnel.
func (s *Session) DoRekey() {
	s.loop.Post(func() {
		s.mu.Lock()
		if isTerminal(s.state) {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.provisioner.Rekey(s.currentRunCtx())
	})
}

func (s *Session) rekeyProvisioned(resp datapath.AddEgressResponse) {
	s.loop.Post(func() {
		s.mu.Lock()
		if isTerminal(s.state) {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		params, err := s.crypto.DeriveTransformParams(resp.EgressPointPublicVal, resp.ServerNonce, resp.UplinkSPI)
		if err != nil {
			s.failControlPlane(status.Protocolf("session: rekey: derive transform params: %v", err))
			return
		}

		if st := s.dp.SetKeyMaterials(*params); st != nil {
			if st.IsPermanent() {
				s.permanentFail(st)
			} else {
				s.failControlPlane(st)
			}
			return
		}

		s.mu.Lock()
		s.egressResp = resp
		s.transformParams = params
		s.telemetry.SuccessfulRekeys++
		s.mu.Unlock()

		s.armRekeyTimer()
	})
}

// DoUplinkMtuUpdate rebuilds the tunnel with a new MTU via
// PrepareForTunnelSwitch/SwitchTunnel. Only honored in DataPlaneConnected.
func (s *Session) DoUplinkMtuUpdate(uplinkMTU, tunnelMTU int) {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != DataPlaneConnected {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if st := s.dp.PrepareForTunnelSwitch(); st != nil {
			s.handleTunnelRebuildFailure(st)
			return
		}

		s.mu.Lock()
		s.uplinkMTU = uplinkMTU
		s.mu.Unlock()

		tunData := s.buildTunFdData()
		tunData.MTU = tunnelMTU
		if st := s.vpn.CreateTunnel(tunData); st != nil {
			s.handleTunnelRebuildFailure(st)
			return
		}

		if st := s.dp.SwitchTunnel(); st != nil {
			s.handleTunnelRebuildFailure(st)
			return
		}
	})
}

func (s *Session) handleTunnelRebuildFailure(st *status.Status) {
	if st.IsPermanent() {
		s.permanentFail(st)
		return
	}
	s.failControlPlane(st)
}

// DoDownlinkMtuUpdate records downlinkMTU and POSTs update_path_info.
// Only honored in DataPlaneConnected. A non-2xx response is logged but
// never disconnects the session.
func (s *Session) DoDownlinkMtuUpdate(downlinkMTU int) {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != DataPlaneConnected {
			s.mu.Unlock()
			return
		}
		s.downlinkMTU = downlinkMTU
		uplinkMTU := s.uplinkMTU
		sessionID := uint64(s.egressResp.UplinkSPI)
		var controlPlaneAddr string
		if s.egressResp.ControlPlaneSockAddr != nil {
			controlPlaneAddr = s.egressResp.ControlPlaneSockAddr.String()
		}
		params := s.transformParams
		s.mu.Unlock()

		if s.cfg.UpdatePathInfoURL == "" || params == nil {
			return
		}

		s.postUpdatePathInfo(sessionID, uplinkMTU, downlinkMTU, controlPlaneAddr, params)
	})
}

func (s *Session) postUpdatePathInfo(sessionID uint64, uplinkMTU, downlinkMTU int, controlPlaneAddr string, params *sessioncrypto.TransformParams) {
	req := updatePathInfoWire{
		SessionID:            sessionID,
		UplinkMTU:            uplinkMTU,
		DownlinkMTU:          downlinkMTU,
		ApnType:              s.cfg.ApnType,
		ControlPlaneSockAddr: controlPlaneAddr,
		MtuUpdateSignature:   signUpdatePathInfo(params.DownlinkKey, sessionID, uplinkMTU, downlinkMTU),
	}

	body, err := json.Marshal(req)
	if err != nil {
		s.log.Warn("update_path_info: encode failed", "err", err)
		return
	}

	s.loop.Go(func() {
		resp, err := s.fetcher.Post(s.currentRunCtx(), s.cfg.UpdatePathInfoURL, contentTypeJSON, body)
		if err != nil {
			s.log.Warn("update_path_info: request failed", "err", err)
			return
		}
		if st := status.FromHTTPStatus(resp.StatusCode, string(resp.Body), ""); st != nil {
			s.log.Warn("update_path_info: non-2xx response", "status", fmt.Sprint(st))
		}
	})
}

// ForceTunnelUpdate rebuilds the tunnel descriptor and recreates it,
// without touching the datapath transform. Permanent CreateTunnel
// failures surface as PermanentFailure.
func (s *Session) ForceTunnelUpdate() {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != DataPlaneConnected && s.state != DataPlaneConnecting {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		tunData := s.buildTunFdData()
		if st := s.vpn.CreateTunnel(tunData); st != nil {
			if st.IsPermanent() {
				s.permanentFail(st)
				return
			}
			s.failControlPlane(st)
		}
	})
}
