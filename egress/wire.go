package egress

// Wire field names resolved from json_keys.cc: unblinded_token,
// unblinded_token_signature, ppn, client_public_value, client_nonce,
// dataplane_protocol, apn_type, dynamic_mtu_enabled, ppn_dataplane,
// user_private_ip, egress_point_sock_addr, egress_point_public_value,
// server_nonce, uplink_spi, expiry, control_plane_sock_addr.

type ppnDataplaneRequestWire struct {
	ClientPublicValue string `json:"client_public_value"`
	ClientNonce       string `json:"client_nonce"`
	DataplaneProtocol string `json:"dataplane_protocol"`
	ApnType           string `json:"apn_type,omitempty"`
	DynamicMtuEnabled bool   `json:"dynamic_mtu_enabled,omitempty"`
}

type brassRequest struct {
	UnblindedToken          string                  `json:"unblinded_token"`
	UnblindedTokenSignature string                  `json:"unblinded_token_signature"`
	Ppn                     ppnDataplaneRequestWire `json:"ppn"`
}

type ppnDataplaneResponseWire struct {
	UserPrivateIP          []string `json:"user_private_ip"`
	EgressPointSockAddr    []string `json:"egress_point_sock_addr"`
	EgressPointPublicValue string   `json:"egress_point_public_value"`
	ServerNonce            string   `json:"server_nonce"`
	UplinkSpi              uint32   `json:"uplink_spi"`
	Expiry                 int64    `json:"expiry"`
	ControlPlaneSockAddr   string   `json:"control_plane_sock_addr,omitempty"`
}

type brassResponse struct {
	PpnDataplane ppnDataplaneResponseWire `json:"ppn_dataplane"`
}
