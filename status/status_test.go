package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermanenceFromDetailNotMessage(t *testing.T) {
	s := &Status{Code: Transient, Message: "permanent failure, really!", Detail: DetailNone}
	require.False(t, s.IsPermanent())

	s2 := Permanentf(DetailVPNPermissionRevoked, "vpn permission revoked")
	require.True(t, s2.IsPermanent())

	s3 := &Status{Code: Transient, Message: "totally fine", Detail: DetailVPNPermissionRevoked}
	require.True(t, s3.IsPermanent())
}

func TestFromHTTPStatus(t *testing.T) {
	require.Nil(t, FromHTTPStatus(200, "", ""))
	require.Nil(t, FromHTTPStatus(204, "", ""))

	s := FromHTTPStatus(401, "bad token", "")
	require.Equal(t, Auth, s.Code)

	s = FromHTTPStatus(403, "forbidden", "")
	require.Equal(t, Auth, s.Code)

	s = FromHTTPStatus(503, "down", "")
	require.Equal(t, Transient, s.Code)

	s = FromHTTPStatus(429, "slow down", "")
	require.Equal(t, Transient, s.Code)

	s = FromHTTPStatus(400, "bad request", "")
	require.Equal(t, Protocol, s.Code)

	s = FromHTTPStatus(400, "raw body", "nicer message")
	require.Contains(t, s.Message, "nicer message")
}

func TestIsOK(t *testing.T) {
	var nilStatus *Status
	require.True(t, nilStatus.IsOK())
	require.False(t, Transientf("x").IsOK())
}
