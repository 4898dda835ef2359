package vpnservice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Pakkapon0000/vpn-libraries/status"
)

func TestFakeCreateTunnelSucceedsByDefault(t *testing.T) {
	f := NewFake()
	st := f.CreateTunnel(TunFdData{MTU: 1400})
	require.Nil(t, st)
	require.True(t, f.TunnelUp())
	require.Equal(t, 1400, f.LastTunFdData().MTU)
}

func TestFakeCreateTunnelReturnsConfiguredFailure(t *testing.T) {
	f := NewFake()
	f.CreateTunnelStatus = status.Permanentf(status.DetailVPNPermissionRevoked, "revoked")

	st := f.CreateTunnel(TunFdData{})
	require.NotNil(t, st)
	require.True(t, st.IsPermanent())
	require.False(t, f.TunnelUp())
}

func TestFakeCloseTunnel(t *testing.T) {
	f := NewFake()
	f.CreateTunnel(TunFdData{})
	require.True(t, f.TunnelUp())
	f.CloseTunnel()
	require.False(t, f.TunnelUp())
}
