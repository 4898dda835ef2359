// Package fingerprint implements PublicMetadata and its bit-exact 64-bit
// fingerprint, per spec §3/§6. The fingerprint is used to bind a
// blind-signed token to a specific exit location/service class without the
// signer ever seeing the metadata's plaintext.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// ExitLocation identifies the advertised egress location.
type ExitLocation struct {
	Country    string
	CityGeoID  string
}

// Expiration is a wire-compatible {seconds, nanos} timestamp, mirroring the
// protobuf Timestamp shape used on the wire (json_keys.h: kSeconds, kNanos).
type Expiration struct {
	Seconds int64
	Nanos   int32
}

// PublicMetadata is the small, deterministic record included in the signed
// token to identify service class and exit location (spec §3, GLOSSARY).
type PublicMetadata struct {
	ExitLocation ExitLocation
	ServiceType  string
	Expiration   Expiration
	// DebugMode exists on the wire (json_keys.h: kDebugMode) but is never
	// part of the fingerprint: it is numeric-zero by default and the
	// fingerprint algorithm omits zero-valued fields.
	DebugMode int32
}

// Fingerprint computes the deterministic 64-bit identifier for m: the
// UTF-8 byte forms of country, city_geo_id, service_type, seconds, nanos
// are concatenated in that tag order, omitting any field whose numeric
// value is 0 (and any non-numeric field that is the empty string), SHA-256
// hashed, and the first 8 bytes are read back as a big-endian uint64.
func Fingerprint(m PublicMetadata) uint64 {
	var buf []byte
	appendIfNonEmpty := func(s string) {
		if s != "" {
			buf = append(buf, s...)
		}
	}
	appendIfNonZeroInt := func(v int64) {
		if v != 0 {
			buf = append(buf, strconv.FormatInt(v, 10)...)
		}
	}

	appendIfNonEmpty(m.ExitLocation.Country)
	appendIfNonEmpty(m.ExitLocation.CityGeoID)
	appendIfNonEmpty(m.ServiceType)
	appendIfNonZeroInt(m.Expiration.Seconds)
	appendIfNonZeroInt(int64(m.Expiration.Nanos))

	sum := sha256.Sum256(buf)
	return binary.BigEndian.Uint64(sum[:8])
}

// U64ToBytes encodes v as an 8-byte big-endian sortable key: the byte form
// compares identically to the integer form (spec §6).
func U64ToBytes(v uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b
}

// BytesToU64 is the inverse of U64ToBytes.
func BytesToU64(b [8]byte) uint64 {
	return binary.BigEndian.Uint64(b[:])
}
