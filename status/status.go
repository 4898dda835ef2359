// Package status implements the error taxonomy shared by every component:
// Transient, Auth, Protocol and Permanent failures, each carrying an
// optional Detail used to distinguish permanence from message text.
//
// The shape follows client2/connection.go's ConnectError/PKIError/
// ProtocolError structs: a typed struct with an Error() method (Status
// itself carries no wrapped Err field), rather than a bare stdlib error, so
// callers can switch on Code instead of parsing strings.
package status

import "fmt"

// Code classifies the kind of failure.
type Code int

const (
	// OK indicates no error.
	OK Code = iota
	// Transient covers DNS failures, connect failures, 5xx, 408, 429 and
	// health-check timeouts. Callers retry or reattempt.
	Transient
	// Auth covers 401/403 responses from zinc or initial-data.
	Auth
	// Protocol covers malformed responses or missing required fields.
	Protocol
	// Permanent covers the enumerated permanent-error set (currently just
	// Detail == VPNPermissionRevoked) or any response whose detail marks
	// it non-recoverable.
	Permanent
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Transient:
		return "Transient"
	case Auth:
		return "Auth"
	case Protocol:
		return "Protocol"
	case Permanent:
		return "Permanent"
	default:
		return "Unknown"
	}
}

// Detail annotates a Status with a specific, machine-checkable reason.
// Permanence is derived from Code and Detail, never from Message.
type Detail int

const (
	// DetailNone is the default, uninformative detail.
	DetailNone Detail = iota
	// DetailVPNPermissionRevoked marks a tunnel-creation failure as
	// permanent: the platform has revoked the VPN permission grant.
	DetailVPNPermissionRevoked
)

// Status is the structured error value threaded through Auth, EgressManager,
// Provision and Session.
type Status struct {
	Code    Code
	Message string
	Detail  Detail
}

// Error implements the error interface.
func (s *Status) Error() string {
	if s.Detail != DetailNone {
		return fmt.Sprintf("status: %s: %s (detail=%d)", s.Code, s.Message, s.Detail)
	}
	return fmt.Sprintf("status: %s: %s", s.Code, s.Message)
}

// IsOK reports whether s represents success. A nil Status is OK.
func (s *Status) IsOK() bool {
	return s == nil || s.Code == OK
}

// IsPermanent reports whether s should terminate the session: its Code is
// Permanent or its Detail marks permanence. Message is never consulted.
func (s *Status) IsPermanent() bool {
	if s == nil {
		return false
	}
	return s.Code == Permanent || s.Detail == DetailVPNPermissionRevoked
}

func newf(code Code, detail Detail, format string, args ...interface{}) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...), Detail: detail}
}

// Transientf builds a Transient Status.
func Transientf(format string, args ...interface{}) *Status {
	return newf(Transient, DetailNone, format, args...)
}

// Authf builds an Auth Status.
func Authf(format string, args ...interface{}) *Status {
	return newf(Auth, DetailNone, format, args...)
}

// Protocolf builds a Protocol Status.
func Protocolf(format string, args ...interface{}) *Status {
	return newf(Protocol, DetailNone, format, args...)
}

// Permanentf builds a Permanent Status carrying detail.
func Permanentf(detail Detail, format string, args ...interface{}) *Status {
	return newf(Permanent, detail, format, args...)
}

// FromHTTPStatus maps an HTTP status code to a Status, per spec §6/§7's
// "standard HTTP→code mapping". body, if non-empty, becomes the Message
// unless altMessage is supplied.
func FromHTTPStatus(httpStatus int, body, altMessage string) *Status {
	msg := body
	if altMessage != "" {
		msg = altMessage
	}
	switch {
	case httpStatus >= 200 && httpStatus < 300:
		return nil
	case httpStatus == 401 || httpStatus == 403:
		return Authf("http %d: %s", httpStatus, msg)
	case httpStatus == 408 || httpStatus == 429 || httpStatus >= 500:
		return Transientf("http %d: %s", httpStatus, msg)
	default:
		return Protocolf("http %d: %s", httpStatus, msg)
	}
}
