package auth

import "encoding/base64"

// Wire field names, as resolved from the original json_keys.cc
// constants: oauth_token, service_type, blinded_token, public_metadata,
// signing_key_version, pem, public_key_hash, exit_location, country,
// city_geo_id, expiration, seconds, nanos, debug_mode,
// blinded_token_signature, copper_controller_hostname.

type publicMetadataWire struct {
	ExitLocation exitLocationWire `json:"exit_location"`
	ServiceType  string           `json:"service_type"`
	Expiration   expirationWire   `json:"expiration"`
	DebugMode    int32            `json:"debug_mode,omitempty"`
}

type exitLocationWire struct {
	Country   string `json:"country"`
	CityGeoID string `json:"city_geo_id"`
}

type expirationWire struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

type initialDataRequest struct {
	OAuthToken  string `json:"oauth_token"`
	ServiceType string `json:"service_type"`
}

type initialDataResponse struct {
	PEM               string              `json:"pem"`
	PublicKeyHash     string              `json:"public_key_hash"`
	SigningKeyVersion int32               `json:"signing_key_version"`
	PublicMetadata    publicMetadataWire  `json:"public_metadata"`
}

type zincRequest struct {
	OAuthToken        string              `json:"oauth_token"`
	ServiceType       string              `json:"service_type"`
	BlindedToken      []string            `json:"blinded_token,omitempty"`
	PublicMetadata    *publicMetadataWire `json:"public_metadata,omitempty"`
	SigningKeyVersion int32               `json:"signing_key_version,omitempty"`
}

type zincResponse struct {
	BlindedTokenSignature    []string `json:"blinded_token_signature"`
	CopperControllerHostname string   `json:"copper_controller_hostname"`
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func unb64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
