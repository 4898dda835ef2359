package session

import (
	"net"

	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/status"
	"github.com/Pakkapon0000/vpn-libraries/vpnservice"
)

// SetNetwork records the platform's newly active network. If the control
// plane is already up, it brings up or switches the datapath onto ni;
// otherwise the request is buffered and replayed once Provisioned fires.
func (s *Session) SetNetwork(ni netmonitor.Info) {
	s.loop.Post(func() {
		s.mu.Lock()
		if isTerminal(s.state) {
			s.mu.Unlock()
			return
		}
		changed := s.activeNetwork == nil || !s.activeNetwork.Equal(ni)
		cp := ni
		s.activeNetwork = &cp
		countsAsSwitch := changed && isControlPlaneUp(s.state)
		if countsAsSwitch {
			s.telemetry.NetworkSwitches++
			s.switchTriggerNetwork = &cp
		}
		belowControlPlane := s.state < ControlPlaneConnected
		state := s.state
		s.mu.Unlock()

		if belowControlPlane {
			return
		}
		if !changed && state != ControlPlaneConnected {
			return
		}
		s.bringUpDatapath(ni)
	})
}

// SetNoNetworkAvailable clears the active network, cancels the reattempt
// timer, stops the datapath if one exists, and returns to
// ControlPlaneConnected.
func (s *Session) SetNoNetworkAvailable() {
	s.loop.Post(func() {
		s.mu.Lock()
		if isTerminal(s.state) {
			s.mu.Unlock()
			return
		}
		s.activeNetwork = nil
		wasUp := s.datapathUp
		s.datapathUp = false
		s.state = ControlPlaneConnected
		s.mu.Unlock()

		s.cancelReattemptTimer()
		s.cancelConnectingTimer()
		if wasUp {
			s.dp.Stop()
		}
	})
}

func (s *Session) bringUpDatapath(ni netmonitor.Info) {
	s.mu.Lock()
	if s.state != ControlPlaneConnected && s.state != DataPlaneConnecting && s.state != DataPlaneConnected {
		s.mu.Unlock()
		return
	}
	egressResp := s.egressResp
	params := s.transformParams
	alreadyUp := s.datapathUp
	s.mu.Unlock()

	if params == nil {
		derived, err := s.crypto.DeriveTransformParams(egressResp.EgressPointPublicVal, egressResp.ServerNonce, egressResp.UplinkSPI)
		if err != nil {
			s.failControlPlane(status.Protocolf("session: derive transform params: %v", err))
			return
		}
		s.mu.Lock()
		s.transformParams = derived
		s.mu.Unlock()
		params = derived
	}

	tunData := s.buildTunFdData()
	if st := s.vpn.CreateTunnel(tunData); st != nil {
		if st.IsPermanent() {
			s.permanentFail(st)
		} else {
			s.failControlPlane(st)
		}
		return
	}

	s.mu.Lock()
	s.state = DataPlaneConnecting
	s.reattemptCount = 0
	s.endpointCursor = 0
	s.mu.Unlock()

	s.notify(s.sink.DatapathConnecting)
	s.armConnectingTimer()

	ep, ok := s.pickEndpoint(0)
	if !ok {
		s.failControlPlane(status.Protocolf("session: no egress endpoints in allocation"))
		return
	}

	var st *status.Status
	if alreadyUp {
		counter := s.nextSwitchCounter()
		st = s.dp.SwitchNetwork(s.wireSessionID(), ep, ni, counter)
	} else {
		st = s.dp.Start(egressResp, *params)
	}
	if st != nil {
		s.DatapathFailed(st)
		return
	}

	s.mu.Lock()
	s.datapathUp = true
	s.mu.Unlock()
}

func (s *Session) buildTunFdData() vpnservice.TunFdData {
	s.mu.Lock()
	mtu := s.uplinkMTU
	ips := append([]net.IP{}, s.egressResp.UserPrivateIP...)
	s.mu.Unlock()
	if mtu == 0 {
		mtu = 1400
	}
	return vpnservice.TunFdData{
		TunnelIPAddresses: ips,
		MTU:               mtu,
	}
}

// pickEndpoint implements the reconnection policy: alternate families per
// attempt, starting with IPv6 when present; within a family, cycle
// through its endpoints in order.
func (s *Session) pickEndpoint(attempt int) (endpoint.Endpoint, bool) {
	s.mu.Lock()
	all := s.egressResp.EgressPointSockAddrs
	s.mu.Unlock()

	v6 := endpoint.FilterFamily(all, endpoint.V6)
	v4 := endpoint.FilterFamily(all, endpoint.V4)

	preferV6First := len(v6) > 0
	var family []endpoint.Endpoint
	useV6 := (attempt%2 == 0) == preferV6First
	if useV6 && len(v6) > 0 {
		family = v6
	} else if len(v4) > 0 {
		family = v4
	} else if len(v6) > 0 {
		family = v6
	} else {
		return endpoint.Endpoint{}, false
	}

	idx := (attempt / 2) % len(family)
	return family[idx], true
}

func (s *Session) nextSwitchCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switchCounter++
	return s.switchCounter
}

func (s *Session) wireSessionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(s.egressResp.UplinkSPI)
}

// DatapathEstablished implements datapath.NotificationHandler.
func (s *Session) DatapathEstablished() {
	s.loop.Post(func() {
		s.mu.Lock()
		if isTerminal(s.state) {
			s.mu.Unlock()
			return
		}
		s.state = DataPlaneConnected
		s.reattemptCount = 0
		network := s.activeNetwork
		trigger := s.switchTriggerNetwork
		s.mu.Unlock()

		s.cancelConnectingTimer()
		s.cancelReattemptTimer()

		if trigger != nil && network != nil && trigger.Equal(*network) {
			s.mu.Lock()
			s.telemetry.SuccessfulNetworkSwitches++
			s.switchTriggerNetwork = nil
			s.mu.Unlock()
		}

		s.notify(s.sink.DatapathConnected)
	})
}

// DatapathFailed implements datapath.NotificationHandler, and is also
// invoked directly when a synchronous SwitchNetwork/Start call fails.
func (s *Session) DatapathFailed(st *status.Status) {
	s.loop.Post(func() {
		s.mu.Lock()
		if isTerminal(s.state) {
			s.mu.Unlock()
			return
		}
		s.latestStatus = st
		s.reattemptCount++
		exhausted := s.reattemptCount > s.cfg.MaxDatapathReattempts
		if exhausted {
			s.reattemptCount = s.cfg.MaxDatapathReattempts
		}
		network := s.activeNetwork
		s.mu.Unlock()

		if exhausted {
			s.mu.Lock()
			s.state = ControlPlaneConnected
			s.datapathUp = false
			s.mu.Unlock()
			s.cancelConnectingTimer()
			s.cancelReattemptTimer()
			var ni netmonitor.Info
			if network != nil {
				ni = *network
			}
			s.notify(func() { s.sink.DatapathDisconnected(ni, st) })
			return
		}

		s.mu.Lock()
		s.state = DataPlaneConnecting
		s.mu.Unlock()
		s.armReattemptTimer()
	})
}

// DatapathPermanentFailure implements datapath.NotificationHandler.
func (s *Session) DatapathPermanentFailure(st *status.Status) {
	s.loop.Post(func() {
		s.mu.Lock()
		if isTerminal(s.state) {
			s.mu.Unlock()
			return
		}
		s.latestStatus = st
		network := s.activeNetwork
		s.datapathUp = false
		s.mu.Unlock()

		s.cancelConnectingTimer()
		s.cancelReattemptTimer()

		var ni netmonitor.Info
		if network != nil {
			ni = *network
		}
		s.notify(func() { s.sink.DatapathDisconnected(ni, st) })
	})
}

// AttemptDatapathReconnect is invoked by the reattempt timer: alternates
// the endpoint cursor between IPv6 and IPv4 and retries SwitchNetwork.
func (s *Session) AttemptDatapathReconnect() {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != DataPlaneConnecting {
			s.mu.Unlock()
			return
		}
		s.endpointCursor++
		attempt := s.endpointCursor
		network := s.activeNetwork
		s.mu.Unlock()

		if network == nil {
			return
		}

		ep, ok := s.pickEndpoint(attempt)
		if !ok {
			s.failControlPlane(status.Protocolf("session: no egress endpoints in allocation"))
			return
		}

		counter := s.nextSwitchCounter()
		if st := s.dp.SwitchNetwork(s.wireSessionID(), ep, *network, counter); st != nil {
			s.DatapathFailed(st)
		}
	})
}

func (s *Session) scheduleReattempt() {
	s.mu.Lock()
	if s.state != DataPlaneConnecting {
		s.mu.Unlock()
		return
	}
	s.reattemptCount++
	exhausted := s.reattemptCount > s.cfg.MaxDatapathReattempts
	if exhausted {
		s.reattemptCount = s.cfg.MaxDatapathReattempts
	}
	network := s.activeNetwork
	s.mu.Unlock()

	if exhausted {
		s.mu.Lock()
		s.state = ControlPlaneConnected
		s.datapathUp = false
		s.mu.Unlock()
		var ni netmonitor.Info
		if network != nil {
			ni = *network
		}
		s.notify(func() { s.sink.DatapathDisconnected(ni, status.Transientf("session: datapath-connecting timer exhausted")) })
		return
	}
	s.armReattemptTimer()
}

// failControlPlane downgrades to ControlPlaneConnected and notifies
// ControlPlaneDisconnected. It does nothing in a terminal state.
func (s *Session) failControlPlane(st *status.Status) {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	s.latestStatus = st
	s.state = ControlPlaneConnected
	s.datapathUp = false
	s.mu.Unlock()
	s.notify(func() { s.sink.ControlPlaneDisconnected(st) })
}

func (s *Session) permanentFail(st *status.Status) {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	s.latestStatus = st
	s.state = PermanentError
	s.mu.Unlock()
	s.notify(func() { s.sink.PermanentFailure(st) })
}
