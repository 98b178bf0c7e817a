// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package midi implements the inbound MIDI byte-stream parser.
// Outbound message construction uses gitlab.com/gomidi/midi/v2 directly in
// the mixer driver; this parser exists because the byte-level
// running-status and NRPN-accumulator invariants are not exposed as
// testable primitives by any available library.
package midi

// EventKind tags which field of Event is meaningful.
type EventKind int

const (
	EventNoteOn EventKind = iota
	EventNRPN
	EventProgramChange
)

// Event is one decoded, forwarded MIDI event. Note-off, aftertouch,
// pitch-bend, and non-NRPN control-change messages are consumed silently
// and never produce an Event.
type Event struct {
	Kind     EventKind
	Channel  int
	Note     int // EventNoteOn
	Velocity int // EventNoteOn
	ParamMSB int // EventNRPN
	ParamLSB int // EventNRPN
	Value    int // EventNRPN
	Program  int // EventProgramChange
}

const (
	ccNRPNParamMSB = 99
	ccNRPNParamLSB = 98
	ccDataEntry    = 6
)

type nrpnState struct {
	msb, lsb       int
	hasMSB, hasLSB bool
}

// Parser is a stateful, chunk-independent MIDI byte-stream decoder: feeding
// the same byte sequence through Feed in any slicing produces the same
// sequence of emitted events.
type Parser struct {
	runningStatus byte
	pending       []byte
	nrpn          map[int]*nrpnState
}

// NewParser returns a ready-to-use Parser.
func NewParser() *Parser {
	return &Parser{nrpn: make(map[int]*nrpnState)}
}

// Feed processes data and returns every Event decoded from it.
func (p *Parser) Feed(data []byte) []Event {
	var events []Event
	for _, b := range data {
		if ev, ok := p.feedByte(b); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (p *Parser) feedByte(b byte) (Event, bool) {
	switch {
	case b >= 0xF8:
		// System real-time: ignored anywhere, never disturbs running status.
		return Event{}, false

	case b >= 0xF0:
		// System common / SysEx: reset running status and working buffer.
		p.runningStatus = 0
		p.pending = nil
		return Event{}, false

	case b >= 0x80:
		p.runningStatus = b
		p.pending = nil
		return Event{}, false

	default:
		if p.runningStatus == 0 {
			// No running status to interpret this data byte against.
			return Event{}, false
		}
		p.pending = append(p.pending, b)
		return p.tryComplete()
	}
}

func (p *Parser) tryComplete() (Event, bool) {
	status := p.runningStatus
	msgType := status & 0xF0
	channel := int(status & 0x0F)

	want := dataBytesFor(msgType)
	if len(p.pending) < want {
		return Event{}, false
	}

	data := p.pending
	p.pending = nil

	switch msgType {
	case 0x90: // note on
		return Event{Kind: EventNoteOn, Channel: channel, Note: int(data[0]), Velocity: int(data[1])}, true
	case 0xC0: // program change
		return Event{Kind: EventProgramChange, Channel: channel, Program: int(data[0])}, true
	case 0xB0: // control change
		return p.handleControlChange(channel, int(data[0]), int(data[1]))
	default:
		// note off, poly/channel aftertouch, pitch bend: consumed silently
		return Event{}, false
	}
}

func (p *Parser) handleControlChange(channel, controller, value int) (Event, bool) {
	st, ok := p.nrpn[channel]
	if !ok {
		st = &nrpnState{}
		p.nrpn[channel] = st
	}

	switch controller {
	case ccNRPNParamMSB:
		st.msb, st.hasMSB = value, true
		st.lsb, st.hasLSB = 0, false
		return Event{}, false
	case ccNRPNParamLSB:
		st.lsb, st.hasLSB = value, true
		return Event{}, false
	case ccDataEntry:
		if st.hasMSB && st.hasLSB {
			return Event{Kind: EventNRPN, Channel: channel, ParamMSB: st.msb, ParamLSB: st.lsb, Value: value}, true
		}
		return Event{}, false
	default:
		return Event{}, false
	}
}

func dataBytesFor(msgType byte) int {
	switch msgType {
	case 0xC0, 0xD0: // program change, channel aftertouch
		return 1
	default: // note on/off, poly aftertouch, control change, pitch bend
		return 2
	}
}
