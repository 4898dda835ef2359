package provision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/datapath"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/klog"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/oauthprovider"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

type recordingSink struct {
	mu      sync.Mutex
	ready   []bool
	ok      []datapath.AddEgressResponse
	okRekey []bool
	failure []*status.Status
	perm    []bool
	done    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{}, 16)}
}

func (s *recordingSink) ReadyForAddEgress(isRekey bool) {
	s.mu.Lock()
	s.ready = append(s.ready, isRekey)
	s.mu.Unlock()
}

func (s *recordingSink) Provisioned(resp datapath.AddEgressResponse, isRekey bool) {
	s.mu.Lock()
	s.ok = append(s.ok, resp)
	s.okRekey = append(s.okRekey, isRekey)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func (s *recordingSink) ProvisioningFailure(st *status.Status, permanent bool) {
	s.mu.Lock()
	s.failure = append(s.failure, st)
	s.perm = append(s.perm, permanent)
	s.mu.Unlock()
	s.done <- struct{}{}
}

type stageFetcher struct {
	zincStatus  int
	brassStatus int
	signer      *blindsign.Fake
	key         blindsign.RSABlindSignaturePublicKey
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
			CopperControllerHostname string  `json:"copper_controller_hostname"`
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
			} `json:"ppn_dataplane"`
		}{}
		resp.PpnDataplane.UserPrivateIP = []string{"10.0.0.5"}
		resp.PpnDataplane.EgressPointSockAddr = []string{"203.0.113.9:500"}
		resp.PpnDataplane.EgressPointPublicValue = base64.StdEncoding.EncodeToString([]byte("egress-public"))
		resp.PpnDataplane.ServerNonce = base64.StdEncoding.EncodeToString([]byte("server-nonce"))
		resp.PpnDataplane.UplinkSpi = 7
		resp.PpnDataplane.Expiry = 1700000000
		b, _ := json.Marshal(resp)
		return &httpfetcher.Response{StatusCode: http.StatusOK, Body: b}, nil
	}
	return nil, nil
}

func newTestProvision(t *testing.T, fetcher httpfetcher.Fetcher, sink Sink) *Provision {
	cfg := &config.KryptonConfig{
		ZincURL:            "https://zinc.example.com/auth",
		BrassURL:           "https://brass.example.com/addegress",
		EnableBlindSigning: true,
	}
	require.NoError(t, cfg.FixupAndValidate())

	crypto, err := sessioncrypto.Generate()
	require.NoError(t, err)

	backend := klog.NewBackend(nil, "ERROR")
	sinkLoop := &looper.Looper{}
	t.Cleanup(sinkLoop.Halt)

	return New(&looper.Looper{}, backend.GetLogger("provision"), cfg, fetcher, oauthprovider.Static("tok"), blindsign.NewFake(), crypto, sinkLoop, sink)
}

func TestStartSequencesAuthThenEgress(t *testing.T) {
	fetcher := &stageFetcher{zincStatus: http.StatusOK, brassStatus: http.StatusOK, signer: blindsign.NewFake(), key: blindsign.RSABlindSignaturePublicKey{KeyVersion: 1, PEM: []byte("pem")}}
	sink := newRecordingSink()
	p := newTestProvision(t, fetcher, sink)

	p.Start(context.Background())

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("provisioning did not complete")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, []bool{false}, sink.ready)
	require.Len(t, sink.ok, 1)
	require.Equal(t, uint32(7), sink.ok[0].UplinkSPI)
	require.Empty(t, sink.failure)
}

func TestAuthFailurePropagatesAsNonPermanent(t *testing.T) {
	fetcher := &stageFetcher{zincStatus: http.StatusForbidden, brassStatus: http.StatusOK, signer: blindsign.NewFake(), key: blindsign.RSABlindSignaturePublicKey{KeyVersion: 1, PEM: []byte("pem")}}
	sink := newRecordingSink()
	p := newTestProvision(t, fetcher, sink)

	p.Start(context.Background())

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("provisioning did not complete")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.failure, 1)
	require.Equal(t, status.Auth, sink.failure[0].Code)
	require.False(t, sink.perm[0])
}

func TestEgressFailurePropagates(t *testing.T) {
	fetcher := &stageFetcher{zincStatus: http.StatusOK, brassStatus: http.StatusServiceUnavailable, signer: blindsign.NewFake(), key: blindsign.RSABlindSignaturePublicKey{KeyVersion: 1, PEM: []byte("pem")}}
	sink := newRecordingSink()
	p := newTestProvision(t, fetcher, sink)

	p.Start(context.Background())

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("provisioning did not complete")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.failure, 1)
	require.Equal(t, status.Transient, sink.failure[0].Code)
}

func TestSecondStartWhileRunningIsIgnored(t *testing.T) {
	fetcher := &stageFetcher{zincStatus: http.StatusOK, brassStatus: http.StatusOK, signer: blindsign.NewFake(), key: blindsign.RSABlindSignaturePublicKey{KeyVersion: 1, PEM: []byte("pem")}}
	sink := newRecordingSink()
	p := newTestProvision(t, fetcher, sink)

	p.Start(context.Background())
	p.Start(context.Background())

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatal("provisioning did not complete")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.ready, 1)
	require.Len(t, sink.ok, 1)
}

func TestStopIsIdempotent(t *testing.T) {
	fetcher := &stageFetcher{zincStatus: http.StatusOK, brassStatus: http.StatusOK, signer: blindsign.NewFake(), key: blindsign.RSABlindSignaturePublicKey{KeyVersion: 1, PEM: []byte("pem")}}
	sink := newRecordingSink()
	p := newTestProvision(t, fetcher, sink)

	p.Stop()
	p.Stop()
}
