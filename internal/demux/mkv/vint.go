package mkv

import "math"

// readVIntFromBytes decodes one EBML VINT from the start of b without
// touching a reservoir, for elements already fully buffered in memory
// (SegmentInfo, Tracks, TrackEntry children, BlockGroup). It mirrors
// bitio.ReadVInt's marker-bit handling: width is read from the
// leading byte; width==0 signals a malformed or truncated VINT.
func readVIntFromBytes(b []byte, keepMarker bool) (value uint64, width int) {
	if len(b) == 0 {
		return 0, 0
	}
	first := b[0]
	if first == 0 {
		return 0, 0
	}
	width = 1
	mask := uint8(0x80)
	for mask != 0 && first&mask == 0 {
		mask >>= 1
		width++
	}
	if len(b) < width {
		return 0, 0
	}

	stripped := uint64(first &^ mask)
	raw := uint64(first)
	for i := 1; i < width; i++ {
		stripped = stripped<<8 | uint64(b[i])
		raw = raw<<8 | uint64(b[i])
	}
	if keepMarker {
		return raw, width
	}
	return stripped, width
}

// readSignedVIntFromBytes decodes an EBML "signed" VINT as used by EBML
// lacing's per-frame size deltas: the unsigned VINT value, re-centered
// by subtracting 2^(7*width-1)-1.
func readSignedVIntFromBytes(b []byte) (value int64, width int) {
	raw, w := readVIntFromBytes(b, false)
	if w == 0 {
		return 0, 0
	}
	bias := int64(1)<<(uint(7*w)-1) - 1
	return int64(raw) - bias, w
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}
