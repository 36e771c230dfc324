package domain

// Side represents the direction of a classified transaction relative to the tracked mint.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideNone Side = "NONE"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell || s == SideNone
}

// Urgency is the priority hint passed to the liquidation action.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)
