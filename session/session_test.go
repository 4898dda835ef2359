package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/endpoint"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/klog"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/netmonitor"
	"github.com/Pakkapon0000/vpn-libraries/oauthprovider"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
	"github.com/Pakkapon0000/vpn-libraries/vpnservice"
)

type recordingSink struct {
	mu sync.Mutex

	cpConnected    int
	cpDisconnected []*status.Status
	permFailure    []*status.Status
	connecting     int
	connected      int
	disconnected   []*status.Status

	events chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan string, 64)}
}

func (s *recordingSink) ControlPlaneConnected() {
	s.mu.Lock()
	s.cpConnected++
	s.mu.Unlock()
	s.events <- "cp_connected"
}

func (s *recordingSink) ControlPlaneDisconnected(st *status.Status) {
	s.mu.Lock()
	s.cpDisconnected = append(s.cpDisconnected, st)
	s.mu.Unlock()
	s.events <- "cp_disconnected"
}

func (s *recordingSink) PermanentFailure(st *status.Status) {
	s.mu.Lock()
	s.permFailure = append(s.permFailure, st)
	s.mu.Unlock()
	s.events <- "perm_failure"
}

func (s *recordingSink) DatapathConnecting() {
	s.mu.Lock()
	s.connecting++
	s.mu.Unlock()
	s.events <- "dp_connecting"
}

func (s *recordingSink) DatapathConnected() {
	s.mu.Lock()
	s.connected++
	s.mu.Unlock()
	s.events <- "dp_connected"
}

func (s *recordingSink) DatapathDisconnected(ni netmonitor.Info, st *status.Status) {
	s.mu.Lock()
	s.disconnected = append(s.disconnected, st)
	s.mu.Unlock()
	s.events <- "dp_disconnected"
}

func (s *recordingSink) waitFor(t *testing.T, want string) {
	t.Helper()
	for {
		select {
		case got := <-s.events:
			if got == want {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %q", want)
		}
	}
}

type fakeDatapath struct {
	mu sync.Mutex

	handler datapath.NotificationHandler

	startResult  *status.Status
	switchResult *status.Status
	setKeyResult *status.Status

	startCount  int
	switchCalls []struct {
		sessionID uint64
		ep        endpoint.Endpoint
		ni        netmonitor.Info
		counter   int
	}
	setKeyCalls int
	stopCount   int
}

func (f *fakeDatapath) Start(egress datapath.AddEgressResponse, params sessioncrypto.TransformParams) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCount++
	return f.startResult
}

func (f *fakeDatapath) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCount++
}

func (f *fakeDatapath) RegisterNotificationHandler(h datapath.NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeDatapath) SwitchNetwork(sessionID uint64, ep endpoint.Endpoint, ni netmonitor.Info, counter int) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchCalls = append(f.switchCalls, struct {
		sessionID uint64
		ep        endpoint.Endpoint
		ni        netmonitor.Info
		counter   int
	}{sessionID, ep, ni, counter})
	return f.switchResult
}

func (f *fakeDatapath) PrepareForTunnelSwitch() *status.Status { return nil }
func (f *fakeDatapath) SwitchTunnel() *status.Status            { return nil }

func (f *fakeDatapath) SetKeyMaterials(params sessioncrypto.TransformParams) *status.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setKeyCalls++
	return f.setKeyResult
}

func (f *fakeDatapath) GetDebugInfo() datapath.DebugInfo { return datapath.DebugInfo{} }

type fakeVPN struct {
	mu sync.Mutex

	createResult *status.Status
	createCalls  int
	closeCalls   int
}

func (v *fakeVPN) CreateTunnel(data vpnservice.TunFdData) *status.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.createCalls++
	return v.createResult
}

func (v *fakeVPN) CloseTunnel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeCalls++
}

func (v *fakeVPN) CreateProtectedNetworkSocket(ni netmonitor.Info, ep endpoint.Endpoint) (net.Conn, error) {
	return nil, nil
}

func (v *fakeVPN) ConfigureIPSec(params vpnservice.IPSecParams) *status.Status { return nil }
func (v *fakeVPN) DisableKeepalive()                                          {}

// stageFetcher scripts zinc and brass responses the way auth/egress
// expect them, mirroring the provisioning round trip provision_test.go
// already exercises.
type stageFetcher struct {
	mu sync.Mutex

	zincStatus  int
	brassStatus int
	signer      *blindsign.Fake
	key         blindsign.RSABlindSignaturePublicKey

	updatePathInfoStatus int
	updatePathInfoCalls  [][]byte
}

func (f *stageFetcher) Post(ctx context.Context, url, contentType string, body []byte) (*httpfetcher.Response, error) {
	switch url {
	case "https://zinc.example.com/auth":
		if f.zincStatus != http.StatusOK {
			return &httpfetcher.Response{StatusCode: f.zincStatus, Body: []byte(`{}`)}, nil
		}
		var req struct {
			BlindedToken []string `json:"blinded_token"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		blindedMsg, err := base64.StdEncoding.DecodeString(req.BlindedToken[0])
		if err != nil {
			return nil, err
		}
		sig := f.signer.Sign(f.key, blindsign.BlindedToken{Message: blindedMsg})
		resp := struct {
			BlindedTokenSignature    []string `json:"blinded_token_signature"`
			CopperControllerHostname string   `json:"copper_controller_hostname"`
		}{
			BlindedTokenSignature:    []string{base64.StdEncoding.EncodeToString(sig.Value)},
			CopperControllerHostname: "copper.example.com",
		}
		b, _ := json.Marshal(resp)
		return &httpfetcher.Response{StatusCode: http.StatusOK, Body: b}, nil

	case "https://brass.example.com/addegress":
		if f.brassStatus != http.StatusOK {
			return &httpfetcher.Response{StatusCode: f.brassStatus, Body: []byte(`{}`)}, nil
		}
		resp := struct {
			PpnDataplane struct {
				UserPrivateIP          []string `json:"user_private_ip"`
				EgressPointSockAddr    []string `json:"egress_point_sock_addr"`
				EgressPointPublicValue string   `json:"egress_point_public_value"`
				ServerNonce            string   `json:"server_nonce"`
				UplinkSpi              uint32   `json:"uplink_spi"`
				Expiry                 int64    `json:"expiry"`
				ControlPlaneSockAddr   string   `json:"control_plane_sock_addr,omitempty"`
			} `json:"ppn_dataplane"`
		}{}
		resp.PpnDataplane.UserPrivateIP = []string{"10.0.0.5"}
		resp.PpnDataplane.EgressPointSockAddr = []string{
			"[2604:ca00:f001:4::5]:2153",
			"64.9.240.165:2153",
		}
		resp.PpnDataplane.EgressPointPublicValue = base64.StdEncoding.EncodeToString(x25519BasePointBytes())
		resp.PpnDataplane.ServerNonce = base64.StdEncoding.EncodeToString([]byte("server-nonce"))
		resp.PpnDataplane.UplinkSpi = 7
		resp.PpnDataplane.Expiry = 1700000000
		resp.PpnDataplane.ControlPlaneSockAddr = "198.51.100.7:443"
		b, _ := json.Marshal(resp)
		return &httpfetcher.Response{StatusCode: http.StatusOK, Body: b}, nil

	case "https://copper.example.com/update_path_info":
		f.mu.Lock()
		f.updatePathInfoCalls = append(f.updatePathInfoCalls, append([]byte{}, body...))
		st := f.updatePathInfoStatus
		f.mu.Unlock()
		if st == 0 {
			st = http.StatusOK
		}
		return &httpfetcher.Response{StatusCode: st, Body: []byte(`{}`)}, nil
	}
	return nil, nil
}

type testHarness struct {
	sess    *Session
	sink    *recordingSink
	dp      *fakeDatapath
	vpn     *fakeVPN
	fetcher *stageFetcher
}

func newTestHarness(t *testing.T) *testHarness {
	cfg := &config.KryptonConfig{
		ZincURL:            "https://zinc.example.com/auth",
		BrassURL:           "https://brass.example.com/addegress",
		UpdatePathInfoURL:  "https://copper.example.com/update_path_info",
		ApnType:            "ppn",
		EnableBlindSigning: true,
	}
	require.NoError(t, cfg.FixupAndValidate())

	fetcher := &stageFetcher{
		zincStatus:  http.StatusOK,
		brassStatus: http.StatusOK,
		signer:      blindsign.NewFake(),
		key:         blindsign.RSABlindSignaturePublicKey{KeyVersion: 1, PEM: []byte("pem")},
	}

	dp := &fakeDatapath{}
	vpn := &fakeVPN{}
	sink := newRecordingSink()

	backend := klog.NewBackend(nil, "ERROR")
	sinkLoop := &looper.Looper{}
	loop := &looper.Looper{}
	t.Cleanup(sinkLoop.Halt)
	t.Cleanup(loop.Halt)

	deps := Deps{
		VPN:      vpn,
		Datapath: dp,
		Fetcher:  fetcher,
		OAuth:    oauthprovider.Static("tok"),
		Signer:   blindsign.NewFake(),
	}

	sess, err := New(loop, backend.GetLogger("session"), cfg, deps, sinkLoop, sink)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Stop(true) })

	return &testHarness{sess: sess, sink: sink, dp: dp, vpn: vpn, fetcher: fetcher}
}

func (h *testHarness) reachControlPlaneConnected(t *testing.T) {
	t.Helper()
	h.sess.Start()
	h.sink.waitFor(t, "cp_connected")
	require.Equal(t, ControlPlaneConnected, h.sess.GetState())
}

func (h *testHarness) reachDataPlaneConnected(t *testing.T, ni netmonitor.Info) {
	t.Helper()
	h.reachControlPlaneConnected(t)
	h.sess.SetNetwork(ni)
	h.sink.waitFor(t, "dp_connecting")
	h.sess.DatapathEstablished()
	h.sink.waitFor(t, "dp_connected")
	require.Equal(t, DataPlaneConnected, h.sess.GetState())
}

func TestHappyPath(t *testing.T) {
	h := newTestHarness(t)
	ni := netmonitor.Info{NetworkID: 123, NetworkType: netmonitor.Cellular}

	h.reachDataPlaneConnected(t, ni)

	require.Equal(t, 1, h.dp.startCount)
	require.Equal(t, 1, h.vpn.createCalls)

	h.sess.mu.Lock()
	haveRekey := h.sess.haveRekeyTimer
	haveConnecting := h.sess.haveConnectingTimer
	reattempts := h.sess.reattemptCount
	h.sess.mu.Unlock()
	require.True(t, haveRekey)
	require.False(t, haveConnecting)
	require.Equal(t, 0, reattempts)
}

func TestRekeyIncrementsTelemetryAndRearmsTimer(t *testing.T) {
	h := newTestHarness(t)
	ni := netmonitor.Info{NetworkID: 123, NetworkType: netmonitor.Cellular}

	h.reachDataPlaneConnected(t, ni)

	h.sess.mu.Lock()
	rekeyTimerBefore := h.sess.rekeyTimerID
	h.sess.mu.Unlock()

	h.sess.DoRekey()

	require.Eventually(t, func() bool {
		h.dp.mu.Lock()
		defer h.dp.mu.Unlock()
		return h.dp.setKeyCalls == 1
	}, 2*time.Second, 10*time.Millisecond, "rekey did not reach SetKeyMaterials")

	telemetry := h.sess.CollectTelemetry()
	require.Equal(t, 1, telemetry.SuccessfulRekeys)

	h.sess.mu.Lock()
	haveRekey := h.sess.haveRekeyTimer
	rekeyTimerAfter := h.sess.rekeyTimerID
	h.sess.mu.Unlock()
	require.True(t, haveRekey)
	require.NotEqual(t, rekeyTimerBefore, rekeyTimerAfter)

	require.Equal(t, DataPlaneConnected, h.sess.GetState())
}

func TestBoundedReattempts(t *testing.T) {
	h := newTestHarness(t)
	ni := netmonitor.Info{NetworkID: 1, NetworkType: netmonitor.Wifi}

	h.reachControlPlaneConnected(t)
	h.sess.SetNetwork(ni)
	h.sink.waitFor(t, "dp_connecting")

	for i := 0; i < 4; i++ {
		h.sess.DatapathFailed(status.Transientf("x"))
		require.Eventually(t, func() bool {
			h.sess.mu.Lock()
			defer h.sess.mu.Unlock()
			return h.sess.state == DataPlaneConnecting
		}, time.Second, 5*time.Millisecond)
	}

	h.sess.mu.Lock()
	count := h.sess.reattemptCount
	h.sess.mu.Unlock()
	require.Equal(t, 4, count)

	h.sess.DatapathFailed(status.Transientf("x"))
	h.sink.waitFor(t, "dp_disconnected")
	require.Equal(t, ControlPlaneConnected, h.sess.GetState())

	h.sess.mu.Lock()
	count = h.sess.reattemptCount
	h.sess.mu.Unlock()
	require.LessOrEqual(t, count, 4)
}

func TestPermanentVPNRevoke(t *testing.T) {
	h := newTestHarness(t)
	h.vpn.createResult = status.Permanentf(status.DetailVPNPermissionRevoked, "vpn permission revoked")

	h.reachControlPlaneConnected(t)
	h.sess.SetNetwork(netmonitor.Info{NetworkID: 9, NetworkType: netmonitor.Wifi})

	h.sink.waitFor(t, "perm_failure")
	require.Equal(t, PermanentError, h.sess.GetState())
}

func TestNetworkBufferedBeforeControlPlane(t *testing.T) {
	h := newTestHarness(t)
	ni := netmonitor.Info{NetworkID: 5, NetworkType: netmonitor.Wifi}

	h.sess.SetNetwork(ni)
	h.sess.Start()

	h.sink.waitFor(t, "cp_connected")
	h.sink.waitFor(t, "dp_connecting")
	require.Equal(t, 1, h.vpn.createCalls)

	h.sess.DatapathEstablished()
	h.sink.waitFor(t, "dp_connected")
	require.Equal(t, DataPlaneConnected, h.sess.GetState())
}

func TestDownlinkMtuUpdatePostsExactFields(t *testing.T) {
	h := newTestHarness(t)
	ni := netmonitor.Info{NetworkID: 1, NetworkType: netmonitor.Cellular}
	h.reachDataPlaneConnected(t, ni)

	h.sess.DoDownlinkMtuUpdate(123)

	require.Eventually(t, func() bool {
		h.fetcher.mu.Lock()
		defer h.fetcher.mu.Unlock()
		return len(h.fetcher.updatePathInfoCalls) == 1
	}, time.Second, 5*time.Millisecond)

	h.fetcher.mu.Lock()
	body := h.fetcher.updatePathInfoCalls[0]
	h.fetcher.mu.Unlock()

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.ElementsMatch(t, []string{
		"session_id", "uplink_mtu", "downlink_mtu", "apn_type",
		"control_plane_sock_addr", "mtu_update_signature",
	}, keysOf(got))
	require.Equal(t, float64(123), got["downlink_mtu"])
	require.Equal(t, float64(0), got["uplink_mtu"])

	h.sess.mu.Lock()
	downlinkMTU := h.sess.downlinkMTU
	h.sess.mu.Unlock()
	require.Equal(t, 123, downlinkMTU)
}

func TestDownlinkMtuUpdateHTTPErrorDoesNotDisconnect(t *testing.T) {
	h := newTestHarness(t)
	ni := netmonitor.Info{NetworkID: 1, NetworkType: netmonitor.Cellular}
	h.reachDataPlaneConnected(t, ni)
	h.fetcher.updatePathInfoStatus = http.StatusBadRequest

	h.sess.DoDownlinkMtuUpdate(55)

	require.Eventually(t, func() bool {
		h.fetcher.mu.Lock()
		defer h.fetcher.mu.Unlock()
		return len(h.fetcher.updatePathInfoCalls) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, DataPlaneConnected, h.sess.GetState())
}

func TestStopIsIdempotentAndQuiet(t *testing.T) {
	h := newTestHarness(t)
	ni := netmonitor.Info{NetworkID: 1, NetworkType: netmonitor.Cellular}
	h.reachDataPlaneConnected(t, ni)

	h.sess.Stop(false)
	h.sess.Stop(false)

	require.Eventually(t, func() bool {
		return h.sess.GetState() == Stopped
	}, time.Second, 5*time.Millisecond)

	select {
	case ev := <-h.sink.events:
		t.Fatalf("unexpected event after Stop: %s", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

// x25519BasePointBytes returns the standard RFC 7748 base point encoding
// (u=9), a valid non-low-order curve point usable as a fake peer public
// value wherever a test only needs DeriveTransformParams to succeed.
func x25519BasePointBytes() []byte {
	b := make([]byte, 32)
	b[0] = 9
	return b
}

func keysOf(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
