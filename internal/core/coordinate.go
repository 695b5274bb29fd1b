package core

import "strings"

// Direction tells which leg of a flow a configuration applies to.
type Direction string

const (
	DirectionRequest       Direction = "REQUEST"
	DirectionResponse      Direction = "RESPONSE"
	DirectionBidirectional Direction = "BIDIRECTIONAL"
)

// Matches reports whether a configured direction covers a requested one.
// BIDIRECTIONAL on either side matches everything.
func (d Direction) Matches(want Direction) bool {
	if d == DirectionBidirectional || want == DirectionBidirectional {
		return true
	}
	return d == want
}

// PolicyCoordinate pins a configuration lookup in the routing lattice.
// TenantID is always set; the remaining fields narrow the match and act as
// wildcards when empty.
type PolicyCoordinate struct {
	TenantID        string    `json:"tenantId" yaml:"tenantId"`
	PaymentType     string    `json:"paymentType,omitempty" yaml:"paymentType,omitempty"`
	LocalInstrument string    `json:"localInstrumentCode,omitempty" yaml:"localInstrumentCode,omitempty"`
	ClearingSystem  string    `json:"clearingSystemCode,omitempty" yaml:"clearingSystemCode,omitempty"`
	Direction       Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// Key renders a stable cache key for the coordinate.
func (c PolicyCoordinate) Key() string {
	return strings.Join([]string{
		c.TenantID, c.PaymentType, c.LocalInstrument, c.ClearingSystem, string(c.Direction),
	}, "|")
}
