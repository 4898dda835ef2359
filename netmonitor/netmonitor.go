// Package netmonitor declares the platform network-change feed Session
// subscribes to: NetworkInfo updates and "no network available" events.
package netmonitor

// Type is the network category the platform reports.
type Type int

const (
	Unknown Type = iota
	Cellular
	Wifi
)

func (t Type) String() string {
	switch t {
	case Cellular:
		return "CELLULAR"
	case Wifi:
		return "WIFI"
	default:
		return "UNKNOWN"
	}
}

// AddressFamily narrows which IP family a network supports, when the
// platform knows (nil when it doesn't).
type AddressFamily int

const (
	AddressFamilyAny AddressFamily = iota
	AddressFamilyV4
	AddressFamilyV6
)

// Info is a single network the platform currently considers reachable.
// Session owns at most one active Info at a time.
type Info struct {
	NetworkID     int64
	NetworkType   Type
	AddressFamily *AddressFamily
}

// Equal reports whether a and b describe the same network: the
// network_switches accounting in Session counts by this value equality,
// not by Go identity, so that re-delivering the same Info is a no-op.
func (a Info) Equal(b Info) bool {
	if a.NetworkID != b.NetworkID || a.NetworkType != b.NetworkType {
		return false
	}
	if (a.AddressFamily == nil) != (b.AddressFamily == nil) {
		return false
	}
	if a.AddressFamily != nil && *a.AddressFamily != *b.AddressFamily {
		return false
	}
	return true
}

// Monitor is the platform network-change feed. Session subscribes once
// at construction time and never unsubscribes for the lifetime of the
// process.
type Monitor interface {
	// Subscribe registers onChange to be called whenever the active
	// network changes, and onNoNetwork to be called when connectivity
	// is lost entirely.
	Subscribe(onChange func(Info), onNoNetwork func())
}
