package blindsign

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Fake is a deterministic Signer for tests: it never performs real
// RSA-FDH blinding, but produces a Blind/Unblind round trip that behaves
// like a real signer would from Auth's point of view, including
// rejecting a Signature that wasn't produced by Sign.
type Fake struct{}

// NewFake returns a Signer suitable for exercising Auth without a real
// blind-signature library.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Blind(_ context.Context, key RSABlindSignaturePublicKey, count int, sessionPublicValue []byte, publicMetadataFingerprint uint64) ([]BlindedToken, error) {
	tokens := make([]BlindedToken, count)
	for i := 0; i < count; i++ {
		var suffix [8]byte
		binary.BigEndian.PutUint64(suffix[:], uint64(i))

		var fp [8]byte
		binary.BigEndian.PutUint64(fp[:], publicMetadataFingerprint)

		blindingContext := append(append([]byte{}, sessionPublicValue...), suffix[:]...)
		tokens[i] = BlindedToken{
			Message:         fakeDigest(key, append(append([]byte{}, blindingContext...), fp[:]...)),
			BlindingContext: blindingContext,
		}
	}
	return tokens, nil
}

// Sign is the fake's stand-in for the server side of the protocol: it
// signs a BlindedToken the way a real signer would, so tests can exercise
// a full Blind -> Sign -> Unblind round trip.
func (f *Fake) Sign(key RSABlindSignaturePublicKey, token BlindedToken) Signature {
	return Signature{Value: fakeDigest(key, append(token.Message, []byte("signed")...))}
}

func (f *Fake) Unblind(_ context.Context, key RSABlindSignaturePublicKey, token BlindedToken, sig Signature) (AuthToken, error) {
	want := fakeDigest(key, append(token.Message, []byte("signed")...))
	if string(want) != string(sig.Value) {
		return AuthToken{}, fmt.Errorf("blindsign: fake: signature does not match token")
	}
	return AuthToken{
		Token:     append([]byte{}, token.BlindingContext...),
		Signature: append([]byte{}, sig.Value...),
	}, nil
}

func fakeDigest(key RSABlindSignaturePublicKey, data []byte) []byte {
	h := sha256.New()
	h.Write(key.PEM)
	h.Write(data)
	return h.Sum(nil)
}
