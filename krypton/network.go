package krypton

import (
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
)

// SetNetwork forwards the platform's newly active network to the current
// session, if one exists. A no-op while Snoozed or before the first
// Start.
func (f *Facade) SetNetwork(ni netmonitor.Info) {
	f.mu.Lock()
	sess := f.sess
	f.mu.Unlock()
	if sess != nil {
		sess.SetNetwork(ni)
	}
}

// SetNoNetworkAvailable forwards loss of connectivity to the current
// session, if one exists.
func (f *Facade) SetNoNetworkAvailable() {
	f.mu.Lock()
	sess := f.sess
	f.mu.Unlock()
	if sess != nil {
		sess.SetNoNetworkAvailable()
	}
}

// ForceTunnelUpdate forwards a tunnel-descriptor rebuild request to the
// current session, if one exists.
func (f *Facade) ForceTunnelUpdate() {
	f.mu.Lock()
	sess := f.sess
	f.mu.Unlock()
	if sess != nil {
		sess.ForceTunnelUpdate()
	}
}

// SetSafeDisconnectEnabled sets whether, on an unexpected disconnect,
// the facade should keep blocking traffic rather than failing open. The
// facade only records the flag for GetDebugInfo to report; it is not
// passed to the Sessions it constructs and changes no stop behavior.
func (f *Facade) SetSafeDisconnectEnabled(enabled bool) {
	f.mu.Lock()
	f.safeDisconnectEnabled = enabled
	f.mu.Unlock()
}

// IsSafeDisconnectEnabled reports the flag set by SetSafeDisconnectEnabled.
func (f *Facade) IsSafeDisconnectEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.safeDisconnectEnabled
}

// SetIpGeoLevel sets how precise the exit location advertised in public
// metadata should be. Takes effect on the next (re)connect; it does not
// retroactively change a session already in flight.
func (f *Facade) SetIpGeoLevel(level config.IPGeoLevel) {
	f.mu.Lock()
	f.ipGeoLevel = level
	f.mu.Unlock()
}

// GetIpGeoLevel returns the level set by SetIpGeoLevel.
func (f *Facade) GetIpGeoLevel() config.IPGeoLevel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ipGeoLevel
}
