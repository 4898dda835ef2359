package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func baseMetadata() PublicMetadata {
	return PublicMetadata{
		ExitLocation: ExitLocation{Country: "US", CityGeoID: "us_ca_san_diego"},
		ServiceType:  "service_type",
		Expiration:   Expiration{Seconds: 900},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	m := baseMetadata()
	require.Equal(t, Fingerprint(m), Fingerprint(m))
}

func TestFingerprintIgnoresZeroFields(t *testing.T) {
	m := baseMetadata()
	want := Fingerprint(m)

	withDebugZero := m
	withDebugZero.DebugMode = 0
	require.Equal(t, want, Fingerprint(withDebugZero))

	withNanosZero := m
	withNanosZero.Expiration.Nanos = 0
	require.Equal(t, want, Fingerprint(withNanosZero))
}

func TestFingerprintChangesWithNonZeroField(t *testing.T) {
	m := baseMetadata()
	base := Fingerprint(m)

	m.Expiration.Nanos = 42
	require.NotEqual(t, base, Fingerprint(m))
}

func TestU64RoundTrip(t *testing.T) {
	vals := []uint64{0, 1, 42, 1 << 63, ^uint64(0)}
	for _, v := range vals {
		require.Equal(t, v, BytesToU64(U64ToBytes(v)))
	}
}

func TestU64BytesPreserveOrdering(t *testing.T) {
	a := U64ToBytes(100)
	b := U64ToBytes(200)
	require.Less(t, string(a[:]), string(b[:]))
}
