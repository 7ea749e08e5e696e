package domain

import "time"

// AccessoryKind classifies an accessory for presentation.
type AccessoryKind string

const (
	KindEarbuds           AccessoryKind = "earbuds"
	KindOverEarHeadphones AccessoryKind = "over_ear_headphones"
	KindHeadset           AccessoryKind = "headset"
	KindSpeaker           AccessoryKind = "speaker"
	KindGeneric           AccessoryKind = "generic"
)

// Battery is an optional battery percentage. The zero value means "unknown",
// which is distinct from a known 0%.
type Battery struct {
	Percent int  `json:"percent"`
	Known   bool `json:"known"`
}

// KnownBattery returns a known battery reading clamped to [0,100].
func KnownBattery(percent int) Battery {
	return Battery{Percent: ClampPercent(percent), Known: true}
}

// Fraction returns the battery level in [0,1]; unknown batteries report 0.
func (b Battery) Fraction() float64 {
	if !b.Known {
		return 0
	}
	return float64(b.Percent) / 100
}

// AccessoryDevice represents a connected audio accessory.
// It only holds value fields so copies handed to observers never alias engine state.
type AccessoryDevice struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	Address     string        `json:"address"` // canonical AA:BB:CC:DD:EE:FF form
	Battery     Battery       `json:"battery"`
	Kind        AccessoryKind `json:"kind"`
	ClassBits   uint32        `json:"class_bits,omitempty"`
	ConnectedAt time.Time     `json:"connected_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IconHint maps the accessory kind to a presentation icon name.
func (d AccessoryDevice) IconHint() string {
	switch d.Kind {
	case KindEarbuds:
		return "earbuds"
	case KindOverEarHeadphones:
		return "headphones"
	case KindHeadset:
		return "headset"
	case KindSpeaker:
		return "speaker"
	default:
		return "bluetooth"
	}
}

// ConnectEvent is emitted once per physical connection of an accessory.
type ConnectEvent struct {
	Device          AccessoryDevice `json:"device"`
	BatteryFraction float64         `json:"battery_fraction"`
	IconHint        string          `json:"icon_hint"`
	At              time.Time       `json:"at"`
}

// Connection states tracked per directory entry.
type ConnectionState string

const (
	StateUnknown      ConnectionState = "unknown"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)
