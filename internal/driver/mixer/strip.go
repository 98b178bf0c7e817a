// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mixer

import "fmt"

// Strip is one controllable channel on the mixer: an input channel, a DCA,
// or the main output.
type Strip struct {
	Fader float64 // 0..1
	Muted bool
	Pan   float64 // 0..1, 0.5 center
}

func defaultStrip() Strip { return Strip{Fader: 0, Muted: false, Pan: 0.5} }

// family names a class of strip. The wire mapping below uses the
// Bitfocus-verified layout: each family owns a fixed MIDI channel, and a
// strip's position within the family is its NRPN strip-hex / note-number
// offset.
type family string

const (
	familyCh   family = "ch"
	familyDCA  family = "dca"
	familyMain family = "main"
)

// fadeFamily is the vocabulary the fade engine's parameter keys use
// ("input/1/fader") rather than the driver's own address family
// ("ch/1/mix/fader").
func (f family) fadeFamily() string {
	if f == familyCh {
		return "input"
	}
	return string(f)
}

// midiChannel is the fixed MIDI channel (0-15) this family's NRPN/note
// traffic is carried on.
func (f family) midiChannel() int {
	switch f {
	case familyCh:
		return 0
	case familyDCA:
		return 1
	case familyMain:
		return 2
	default:
		return 0
	}
}

// stripHex is the strip's NRPN paramMSB / base note offset within its family.
func stripHex(n int) byte { return byte(n - 1) }

// stripKey is the map key a mixer driver tracks state under, e.g. "ch/1",
// "dca/3", "main".
func stripKey(f family, n int) string {
	if f == familyMain {
		return "main"
	}
	return fmt.Sprintf("%s/%d", f, n)
}

// paramKey is the fade-engine parameter key for param on strip (f, n).
func paramKey(f family, n int, param string) string {
	if f == familyMain {
		return fmt.Sprintf("main/%s", param)
	}
	return fmt.Sprintf("%s/%d/%s", f.fadeFamily(), n, param)
}

const (
	// NRPN param-LSB constants identifying which parameter a fader-style
	// NRPN triplet addresses. Arbitrary but fixed.
	lsbFader = 0x17
	lsbPan   = 0x10
)

// noteNumber is the MIDI note used for a strip's mute on/off pair. Families
// are given disjoint note ranges so mute traffic for different families
// never collides on the shared channel-0..2 wiring.
func noteNumber(f family, n int) int {
	switch f {
	case familyCh:
		return n - 1 // 0..63
	case familyDCA:
		return 64 + (n - 1) // 64..87
	case familyMain:
		return 127
	default:
		return 0
	}
}
