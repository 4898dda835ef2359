package session

import (
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

// ReadyForAddEgress implements provision.Sink. Runs on Session's own
// Looper (Provision's sinkLoop).
func (s *Session) ReadyForAddEgress(isRekey bool) {
	s.mu.Lock()
	if isRekey {
		s.mu.Unlock()
		return
	}
	if s.state != Initialized {
		s.mu.Unlock()
		return
	}
	s.state = EgressSessionCreated
	s.mu.Unlock()
}

// Provisioned implements provision.Sink.
func (s *Session) Provisioned(resp datapath.AddEgressResponse, isRekey bool) {
	if isRekey {
		s.rekeyProvisioned(resp)
		return
	}

	s.mu.Lock()
	if s.state != EgressSessionCreated && s.state != Initialized {
		s.mu.Unlock()
		return
	}
	s.egressResp = resp
	s.state = ControlPlaneConnected
	bufferedNetwork := s.activeNetwork
	s.mu.Unlock()

	s.notify(s.sink.ControlPlaneConnected)
	s.armRekeyTimer()

	if bufferedNetwork != nil {
		s.bringUpDatapath(*bufferedNetwork)
	}
}

// ProvisioningFailure implements provision.Sink.
func (s *Session) ProvisioningFailure(st *status.Status, permanent bool) {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	s.latestStatus = st
	if permanent {
		s.state = PermanentError
	} else {
		s.state = SessionError
	}
	s.mu.Unlock()

	if permanent {
		s.notify(func() { s.sink.PermanentFailure(st) })
	} else {
		s.notify(func() { s.sink.ControlPlaneDisconnected(st) })
	}
}
