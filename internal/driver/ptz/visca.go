// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ptz

// VISCA commands are framed camera(1) command(1..N) terminator(0xFF). Speed
// values are 8-step magnitudes (0x01-0x18 in real VISCA; this driver uses a
// simplified 1-8 range) with direction encoded by a following mode byte,
// which is the common simplification PTZ-over-IP bridges (e.g. the
// OBS-NDI/PTZOptics family) expose to control software.
const viscaTerminator = 0xFF

func viscaSpeedByte(v float64) byte {
	if v < 0 {
		v = -v
	}
	if v > 1 {
		v = 1
	}
	return byte(v*7) + 1
}

func viscaHome() []byte {
	return []byte{viscaCameraAddr, 0x01, 0x06, 0x04, viscaTerminator}
}

// viscaPanTiltSpeed encodes the combined pan/tilt drive command: direction
// bytes (01/02/03 left/right/stop for pan, 01/02/03 up/down/stop for tilt,
// per VISCA convention) derived from sign, with speed magnitude for each axis.
func viscaPanTiltSpeed(pan, tilt float64) []byte {
	panDir := byte(0x03)
	if pan < 0 {
		panDir = 0x01
	} else if pan > 0 {
		panDir = 0x02
	}
	tiltDir := byte(0x03)
	if tilt < 0 {
		tiltDir = 0x02
	} else if tilt > 0 {
		tiltDir = 0x01
	}
	return []byte{viscaCameraAddr, 0x01, 0x06, 0x01, viscaSpeedByte(pan), viscaSpeedByte(tilt), panDir, tiltDir, viscaTerminator}
}

func viscaPanTiltStop() []byte {
	return []byte{viscaCameraAddr, 0x01, 0x06, 0x01, 0x00, 0x00, 0x03, 0x03, viscaTerminator}
}

func viscaZoomSpeed(v float64) []byte {
	dir := byte(0x00) // stop
	if v > 0 {
		dir = 0x20 // tele
	} else if v < 0 {
		dir = 0x30 // wide
	}
	speed := byte(0)
	if v != 0 {
		speed = byte(viscaSpeedByte(v) & 0x07)
	}
	return []byte{viscaCameraAddr, 0x01, 0x04, 0x07, dir | speed, viscaTerminator}
}

func viscaZoomStop() []byte {
	return []byte{viscaCameraAddr, 0x01, 0x04, 0x07, 0x00, viscaTerminator}
}

// viscaZoomDirect encodes an absolute zoom position (0..1) into VISCA's
// 4-nibble direct-zoom payload.
func viscaZoomDirect(v float64) []byte {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	pos := uint16(v * 0x4000)
	return []byte{
		viscaCameraAddr, 0x01, 0x04, 0x47,
		byte((pos >> 12) & 0x0F), byte((pos >> 8) & 0x0F),
		byte((pos >> 4) & 0x0F), byte(pos & 0x0F),
		viscaTerminator,
	}
}

func viscaPresetRecall(n int) []byte {
	return []byte{viscaCameraAddr, 0x01, 0x04, 0x3F, 0x02, byte(n), viscaTerminator}
}

func viscaPresetStore(n int) []byte {
	return []byte{viscaCameraAddr, 0x01, 0x04, 0x3F, 0x01, byte(n), viscaTerminator}
}

func viscaPower(on bool) []byte {
	state := byte(0x03)
	if on {
		state = 0x02
	}
	return []byte{viscaCameraAddr, 0x01, 0x04, 0x00, state, viscaTerminator}
}

func viscaFocusMode(auto bool) []byte {
	mode := byte(0x03) // manual
	if auto {
		mode = 0x02
	}
	return []byte{viscaCameraAddr, 0x01, 0x04, 0x38, mode, viscaTerminator}
}
