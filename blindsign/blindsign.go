// Package blindsign declares the blind-signature contract Auth consumes
// to turn an OAuth token into N unlinkable, server-signed tokens without
// the signer ever seeing which token belongs to which client. The actual
// RSA-FDH blinding math is never implemented here: it is consumed as an
// external library, the same way Auth never implements TLS.
package blindsign

import "context"

// RSABlindSignaturePublicKey is the signer's public key, as returned by
// the initial-data response: a PEM-encoded RSA public key plus the key
// version the server expects echoed back on zinc.
type RSABlindSignaturePublicKey struct {
	KeyVersion int32
	PEM        []byte
}

// BlindedToken is a client-generated message blinded against the
// signer's public key, ready to be POSTed to zinc.
type BlindedToken struct {
	Message []byte
	// BlindingContext carries whatever per-token state Unblind needs to
	// recover the unblinded signature; it never leaves the client.
	BlindingContext []byte
}

// Signature is the server's blind signature over one BlindedToken,
// returned in the zinc response.
type Signature struct {
	Value []byte
}

// AuthToken is the unblinded token and its signature, exactly the pair a
// brass request presents as proof of authorization
// (unblinded_token/unblinded_token_signature on the wire).
type AuthToken struct {
	Token     []byte
	Signature []byte
}

// Signer blinds outgoing tokens and unblinds the server's signatures
// over them. Implementations wrap a concrete RSA-FDH blind-signature
// library; none is vendored here.
type Signer interface {
	// Blind produces count independent blinded tokens bound to
	// sessionPublicValue (the session's ephemeral NIKE public key) and
	// publicMetadataFingerprint (zero if public metadata is disabled).
	Blind(ctx context.Context, key RSABlindSignaturePublicKey, count int, sessionPublicValue []byte, publicMetadataFingerprint uint64) ([]BlindedToken, error)

	// Unblind recovers the AuthToken for one BlindedToken given the
	// server's signature over it.
	Unblind(ctx context.Context, key RSABlindSignaturePublicKey, token BlindedToken, sig Signature) (AuthToken, error)
}
