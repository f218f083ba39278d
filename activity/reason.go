package activity

import "fmt"

// EndReason describes why an activity ended.
type EndReason int

const (
	// Normal means every Start was matched by a Stop.
	Normal EndReason = iota
	// Expired means the lease was revoked or MaxDuration elapsed first.
	Expired
)

// String returns the lower-case name of the reason.
func (r EndReason) String() string {
	switch r {
	case Normal:
		return "normal"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("EndReason(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r EndReason) MarshalText() ([]byte, error) {
	switch r {
	case Normal, Expired:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("unknown end reason %d", int(r))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *EndReason) UnmarshalText(text []byte) error {
	switch string(text) {
	case "normal":
		*r = Normal
	case "expired":
		*r = Expired
	default:
		return fmt.Errorf("unknown end reason %q", string(text))
	}
	return nil
}
