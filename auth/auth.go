// Package auth runs the authentication exchange: it turns an OAuth
// token into one AuthToken bound to the session's ephemeral keypair
// (and, when enabled, to a PublicMetadata fingerprint), ready for
// EgressManager to present to brass. When EnableBlindSigning is off,
// zinc is still called but never sees a blinded token, and the
// resulting AuthToken stays the zero value.
package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/Pakkapon0000/vpn-libraries/blindsign"
	"github.com/Pakkapon0000/vpn-libraries/config"
	"github.com/Pakkapon0000/vpn-libraries/fingerprint"
	"github.com/Pakkapon0000/vpn-libraries/httpfetcher"
	"github.com/Pakkapon0000/vpn-libraries/looper"
	"github.com/Pakkapon0000/vpn-libraries/oauthprovider"
	"github.com/Pakkapon0000/vpn-libraries/sessioncrypto"
	"github.com/Pakkapon0000/vpn-libraries/status"
)

const contentTypeJSON = "application/json"

// Sink receives the result of one Start call. Auth posts onto the
// sink's Looper itself; Sink implementations never need to re-post.
type Sink interface {
	AuthSuccessful(isRekey bool)
	AuthFailure(st *status.Status)
}

// Auth runs one authentication round per Start call.
type Auth struct {
	loop *looper.Looper
	log  *log.Logger

	cfg     *config.KryptonConfig
	fetcher httpfetcher.Fetcher
	oauth   oauthprovider.Provider
	signer  blindsign.Signer
	crypto  *sessioncrypto.KeyPair

	sinkLoop *looper.Looper
	sink     Sink

	authToken      blindsign.AuthToken
	copperHostname string
}

// New constructs an Auth. loop is Auth's own Looper; sinkLoop is the
// Looper sink's methods must be invoked on.
func New(loop *looper.Looper, lg *log.Logger, cfg *config.KryptonConfig, fetcher httpfetcher.Fetcher, oauth oauthprovider.Provider, signer blindsign.Signer, crypto *sessioncrypto.KeyPair, sinkLoop *looper.Looper, sink Sink) *Auth {
	return &Auth{
		loop:     loop,
		log:      lg,
		cfg:      cfg,
		fetcher:  fetcher,
		oauth:    oauth,
		signer:   signer,
		crypto:   crypto,
		sinkLoop: sinkLoop,
		sink:     sink,
	}
}

// GetAuthToken returns the token produced by the most recent successful
// Start.
func (a *Auth) GetAuthToken() blindsign.AuthToken {
	return a.authToken
}

// GetCopperHostname returns the control-plane hostname from the most
// recent successful Start.
func (a *Auth) GetCopperHostname() string {
	return a.copperHostname
}

// Start begins one authentication round on Auth's own Looper, returning
// immediately. Exactly one of Sink.AuthSuccessful or Sink.AuthFailure
// follows.
func (a *Auth) Start(ctx context.Context, isRekey bool) {
	a.loop.Go(func() {
		a.run(ctx, isRekey)
	})
}

func (a *Auth) run(ctx context.Context, isRekey bool) {
	if !a.cfg.EnableBlindSigning {
		copperHostname, st := a.runZincPlain(ctx)
		if st != nil {
			a.fail(isRekey, st)
			return
		}
		a.authToken = blindsign.AuthToken{}
		a.copperHostname = copperHostname
		a.succeed(isRekey)
		return
	}

	var pubKey blindsign.RSABlindSignaturePublicKey
	var pm *publicMetadataWire
	var fp uint64

	if a.cfg.PublicMetadataEnabled {
		key, metadata, st := a.fetchInitialData(ctx)
		if st != nil {
			a.fail(isRekey, st)
			return
		}
		pubKey = key
		pm = metadata
		fp = fingerprint.Fingerprint(fingerprint.PublicMetadata{
			ExitLocation: fingerprint.ExitLocation{
				Country:   metadata.ExitLocation.Country,
				CityGeoID: metadata.ExitLocation.CityGeoID,
			},
			ServiceType: metadata.ServiceType,
			Expiration: fingerprint.Expiration{
				Seconds: metadata.Expiration.Seconds,
				Nanos:   metadata.Expiration.Nanos,
			},
			DebugMode: metadata.DebugMode,
		})
	}

	authToken, copperHostname, st := a.runZinc(ctx, pubKey, pm, fp)
	if st != nil {
		a.fail(isRekey, st)
		return
	}

	a.authToken = authToken
	a.copperHostname = copperHostname
	a.succeed(isRekey)
}

func (a *Auth) fetchInitialData(ctx context.Context) (blindsign.RSABlindSignaturePublicKey, *publicMetadataWire, *status.Status) {
	tok, err := a.oauth.Token(ctx)
	if err != nil {
		return blindsign.RSABlindSignaturePublicKey{}, nil, status.Transientf("auth: oauth token: %v", err)
	}

	body, err := json.Marshal(initialDataRequest{
		OAuthToken:  tok,
		ServiceType: a.cfg.ServiceType,
	})
	if err != nil {
		return blindsign.RSABlindSignaturePublicKey{}, nil, status.Protocolf("auth: encode initial_data request: %v", err)
	}

	resp, err := a.fetcher.Post(ctx, a.cfg.InitialDataURL, contentTypeJSON, body)
	if err != nil {
		return blindsign.RSABlindSignaturePublicKey{}, nil, status.Transientf("auth: initial_data: %v", err)
	}
	if st := status.FromHTTPStatus(resp.StatusCode, string(resp.Body), ""); st != nil {
		return blindsign.RSABlindSignaturePublicKey{}, nil, st
	}

	var parsed initialDataResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return blindsign.RSABlindSignaturePublicKey{}, nil, status.Protocolf("auth: decode initial_data response: %v", err)
	}

	return blindsign.RSABlindSignaturePublicKey{
		KeyVersion: parsed.SigningKeyVersion,
		PEM:        []byte(parsed.PEM),
	}, &parsed.PublicMetadata, nil
}

func (a *Auth) runZinc(ctx context.Context, pubKey blindsign.RSABlindSignaturePublicKey, pm *publicMetadataWire, fp uint64) (blindsign.AuthToken, string, *status.Status) {
	tok, err := a.oauth.Token(ctx)
	if err != nil {
		return blindsign.AuthToken{}, "", status.Transientf("auth: oauth token: %v", err)
	}

	blinded, err := a.signer.Blind(ctx, pubKey, 1, a.crypto.PublicValue(), fp)
	if err != nil {
		return blindsign.AuthToken{}, "", status.Protocolf("auth: blind token: %v", err)
	}
	if len(blinded) != 1 {
		return blindsign.AuthToken{}, "", status.Protocolf("auth: blind token: expected 1 token, got %d", len(blinded))
	}

	req := zincRequest{
		OAuthToken:        tok,
		ServiceType:       a.cfg.ServiceType,
		BlindedToken:      []string{b64(blinded[0].Message)},
		PublicMetadata:    pm,
		SigningKeyVersion: pubKey.KeyVersion,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return blindsign.AuthToken{}, "", status.Protocolf("auth: encode zinc request: %v", err)
	}

	resp, err := a.fetcher.Post(ctx, a.cfg.ZincURL, contentTypeJSON, body)
	if err != nil {
		return blindsign.AuthToken{}, "", status.Transientf("auth: zinc: %v", err)
	}
	if st := status.FromHTTPStatus(resp.StatusCode, string(resp.Body), ""); st != nil {
		return blindsign.AuthToken{}, "", st
	}

	var parsed zincResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return blindsign.AuthToken{}, "", status.Protocolf("auth: decode zinc response: %v", err)
	}
	if len(parsed.BlindedTokenSignature) != 1 {
		return blindsign.AuthToken{}, "", status.Protocolf("auth: zinc: expected 1 signature, got %d", len(parsed.BlindedTokenSignature))
	}

	sigBytes, err := unb64(parsed.BlindedTokenSignature[0])
	if err != nil {
		return blindsign.AuthToken{}, "", status.Protocolf("auth: decode zinc signature: %v", err)
	}

	authToken, err := a.signer.Unblind(ctx, pubKey, blinded[0], blindsign.Signature{Value: sigBytes})
	if err != nil {
		return blindsign.AuthToken{}, "", status.Protocolf("auth: unblind token: %v", err)
	}

	return authToken, parsed.CopperControllerHostname, nil
}

// runZincPlain authenticates without the blind-signature exchange: zinc
// never sees a blinded token and nothing gets unblinded, so the
// resulting AuthToken stays the zero value and the brass request that
// follows presents no unblinded_token/unblinded_token_signature.
func (a *Auth) runZincPlain(ctx context.Context) (string, *status.Status) {
	tok, err := a.oauth.Token(ctx)
	if err != nil {
		return "", status.Transientf("auth: oauth token: %v", err)
	}

	req := zincRequest{
		OAuthToken:  tok,
		ServiceType: a.cfg.ServiceType,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", status.Protocolf("auth: encode zinc request: %v", err)
	}

	resp, err := a.fetcher.Post(ctx, a.cfg.ZincURL, contentTypeJSON, body)
	if err != nil {
		return "", status.Transientf("auth: zinc: %v", err)
	}
	if st := status.FromHTTPStatus(resp.StatusCode, string(resp.Body), ""); st != nil {
		return "", st
	}

	var parsed zincResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", status.Protocolf("auth: decode zinc response: %v", err)
	}

	return parsed.CopperControllerHostname, nil
}

func (a *Auth) succeed(isRekey bool) {
	a.sinkLoop.Post(func() {
		a.sink.AuthSuccessful(isRekey)
	})
}

func (a *Auth) fail(isRekey bool, st *status.Status) {
	a.log.Warn("auth failed", "is_rekey", isRekey, "status", fmt.Sprint(st))
	a.sinkLoop.Post(func() {
		a.sink.AuthFailure(st)
	})
}
