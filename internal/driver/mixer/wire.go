// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mixer

import (
	"gitlab.com/gomidi/midi/v2"
)

// encodeNRPN builds the nine-byte NRPN triplet the console expects:
// BN 63 CH  BN 62 LSB  BN 06 LV. gitlab.com/gomidi/midi/v2 supplies the
// per-message byte encoding (midi.ControlChange); the three-message NRPN
// framing is this driver's own, since the library has no NRPN helper.
func encodeNRPN(channel int, paramMSB, paramLSB, value byte) []byte {
	ch := uint8(channel)
	out := make([]byte, 0, 9)
	out = append(out, midi.ControlChange(ch, 99, paramMSB)...)
	out = append(out, midi.ControlChange(ch, 98, paramLSB)...)
	out = append(out, midi.ControlChange(ch, 6, value)...)
	return out
}

func floatToMIDI(v float64) byte {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return byte(v * 127)
}

func midiToFloat(v byte) float64 {
	if v > 127 {
		v = 127
	}
	return float64(v) / 127
}

func encodeFader(f family, n int, v float64) []byte {
	return encodeNRPN(f.midiChannel(), stripHex(n), lsbFader, floatToMIDI(v))
}

func encodePan(f family, n int, v float64) []byte {
	return encodeNRPN(f.midiChannel(), stripHex(n), lsbPan, floatToMIDI(v))
}

// muteVelocityOn/Off follow the console's note-on velocity convention: >=0x40
// means mute-on, <=0x3F mute-off.
const (
	muteVelocityOn  = 0x7F
	muteVelocityOff = 0x00
)

// encodeMute emits the note-on that signals the mute state followed by a
// note-off/velocity-0 pair to release the key.
func encodeMute(f family, n int, muted bool) []byte {
	ch := uint8(f.midiChannel())
	note := uint8(noteNumber(f, n))
	vel := uint8(muteVelocityOff)
	if muted {
		vel = uint8(muteVelocityOn)
	}
	out := make([]byte, 0, 6)
	out = append(out, midi.NoteOn(ch, note, vel)...)
	out = append(out, midi.NoteOff(ch, note)...)
	return out
}

// sceneRange is the valid scene-recall range, 0-499.
const sceneRange = 500

// encodeSceneRecall emits a bank-select (for scenes >= 128) followed by a
// program-change selecting scene within its bank.
func encodeSceneRecall(channel, scene int) []byte {
	if scene < 0 {
		scene = 0
	}
	if scene >= sceneRange {
		scene = sceneRange - 1
	}
	bank := scene / 128
	program := scene % 128
	ch := uint8(channel)
	out := make([]byte, 0, 5)
	if bank > 0 {
		out = append(out, midi.ControlChange(ch, 0, uint8(bank))...)
	}
	out = append(out, midi.ProgramChange(ch, uint8(program))...)
	return out
}
