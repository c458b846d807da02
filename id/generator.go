package id

import "github.com/db2q/db2q/hlc"

// Generator provides request ids.
// IDs are unique per node and roughly time-ordered.
type Generator interface {
	Next() UUID
}

// HLCGenerator generates ids using the Hybrid Logical Clock.
// Thread-safe via HLC's internal mutex.
type HLCGenerator struct {
	clock *hlc.Clock
}

// NewHLCGenerator creates a new ID generator backed by the given HLC.
func NewHLCGenerator(clock *hlc.Clock) *HLCGenerator {
	return &HLCGenerator{clock: clock}
}

// Next generates a unique 128-bit ID.
// See hlc.Timestamp.Halves for bit allocation details.
func (g *HLCGenerator) Next() UUID {
	hi, lo := g.clock.Now().Halves()
	return UUID{Hi: hi, Lo: lo}
}
