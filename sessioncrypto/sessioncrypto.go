// Package sessioncrypto generates the ephemeral session keypair a Session
// binds its blinded auth tokens to and its brass request to, and derives
// the datapath's uplink/downlink key material once the egress side's
// public value is known.
package sessioncrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/nike"
	"github.com/katzenpost/hpqc/nike/schemes"
	"golang.org/x/crypto/hkdf"
)

// schemeName selects the classical X25519 NIKE: Krypton's session key
// exchange is a plain ECDH, not one of hpqc's post-quantum/hybrid schemes.
const schemeName = "x25519"

var scheme = mustScheme(schemeName)

func mustScheme(name string) nike.Scheme {
	s := schemes.ByName(name)
	if s == nil {
		panic(fmt.Sprintf("sessioncrypto: unknown NIKE scheme %q", name))
	}
	return s
}

// TransformParams is the uplink/downlink key material a Datapath needs to
// install its encryption transform, derived from the session's ECDH
// shared secret and the server's nonce.
type TransformParams struct {
	UplinkKey   []byte
	DownlinkKey []byte
	UplinkSPI   uint32
}

// KeyPair is a session's ephemeral NIKE keypair. It is generated once per
// Session lifetime (not per rekey epoch, so the AuthToken stays bound to
// the same public value across a rekey) and never persisted.
type KeyPair struct {
	priv nike.PrivateKey
	pub  nike.PublicKey
}

// Generate creates a new ephemeral session keypair.
func Generate() (*KeyPair, error) {
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("sessioncrypto: generate keypair: %w", err)
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

// PublicValue returns the serialized public key sent to zinc and brass as
// the session's binding value.
func (k *KeyPair) PublicValue() []byte {
	return k.pub.Bytes()
}

// DeriveTransformParams computes the ECDH shared secret between this
// keypair and the egress's published public value, then runs it and
// serverNonce through HKDF-SHA256 to produce independent uplink/downlink
// keys, mirroring the "bind datapath keys to the session ECDH, never
// reuse one key for both directions" shape of AddEgressResponse handling.
func (k *KeyPair) DeriveTransformParams(egressPublicValue, serverNonce []byte, uplinkSPI uint32) (*TransformParams, error) {
	peer := scheme.NewEmptyPublicKey()
	if err := peer.FromBytes(egressPublicValue); err != nil {
		return nil, fmt.Errorf("sessioncrypto: invalid egress public value: %w", err)
	}

	shared := scheme.DeriveSecret(k.priv, peer)

	uplinkKey, err := deriveKey(shared, serverNonce, "krypton-uplink", 32)
	if err != nil {
		return nil, err
	}
	downlinkKey, err := deriveKey(shared, serverNonce, "krypton-downlink", 32)
	if err != nil {
		return nil, err
	}

	return &TransformParams{
		UplinkKey:   uplinkKey,
		DownlinkKey: downlinkKey,
		UplinkSPI:   uplinkSPI,
	}, nil
}

func deriveKey(secret, salt []byte, info string, size int) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, salt, []byte(info))
	out := make([]byte, size)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("sessioncrypto: derive key: %w", err)
	}
	return out, nil
}
