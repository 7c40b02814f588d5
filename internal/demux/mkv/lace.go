package mkv

import "github.com/jmylchreest/media-extract/internal/mediaerr"

// delace splits a (Simple)Block's payload into its constituent frames
// according to the lacing mode in its flags byte. With no lacing, the
// whole payload is a single frame.
func delace(payload []byte, lacing byte) ([][]byte, error) {
	if lacing == lacingNone {
		return [][]byte{payload}, nil
	}
	if len(payload) == 0 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "laced block has no frame count byte")
	}
	frameCount := int(payload[0]) + 1
	rest := payload[1:]

	switch lacing {
	case lacingFixed:
		return delaceFixed(rest, frameCount)
	case lacingXiph:
		return delaceXiph(rest, frameCount)
	case lacingEBML:
		return delaceEBML(rest, frameCount)
	default:
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "unrecognized lacing mode")
	}
}

func delaceFixed(rest []byte, frameCount int) ([][]byte, error) {
	if frameCount <= 0 || len(rest)%frameCount != 0 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "fixed-size lacing frame count does not divide payload evenly")
	}
	size := len(rest) / frameCount
	frames := make([][]byte, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		frames = append(frames, rest[i*size:(i+1)*size])
	}
	return frames, nil
}

// delaceXiph reads frameCount-1 explicit sizes, each coded as a run of
// 0xFF continuation bytes terminated by a byte < 255 (the same coding
// OGG uses for its segment table), then assigns the remainder to the
// final frame.
func delaceXiph(rest []byte, frameCount int) ([][]byte, error) {
	sizes := make([]int, frameCount-1)
	pos := 0
	for i := 0; i < frameCount-1; i++ {
		size := 0
		for {
			if pos >= len(rest) {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated Xiph lace size")
			}
			b := rest[pos]
			pos++
			size += int(b)
			if b != 0xFF {
				break
			}
		}
		sizes[i] = size
	}
	return splitBySizes(rest[pos:], sizes)
}

// delaceEBML reads the first frame's size as a VINT, then each
// subsequent (non-final) frame's size as a signed VINT delta from the
// previous one, finally assigning the remainder to the last frame.
func delaceEBML(rest []byte, frameCount int) ([][]byte, error) {
	sizes := make([]int, frameCount-1)
	pos := 0

	first, w := readVIntFromBytes(rest[pos:], false)
	if w == 0 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated EBML lace first size")
	}
	pos += w
	prev := int64(first)
	if frameCount-1 > 0 {
		sizes[0] = int(prev)
	}

	for i := 1; i < frameCount-1; i++ {
		delta, w := readSignedVIntFromBytes(rest[pos:])
		if w == 0 {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated EBML lace size delta")
		}
		pos += w
		prev += delta
		if prev < 0 {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "EBML lace size delta underflows")
		}
		sizes[i] = int(prev)
	}

	return splitBySizes(rest[pos:], sizes)
}

// splitBySizes slices out len(sizes) frames of the given sizes in
// order, then assigns whatever is left to one final frame.
func splitBySizes(data []byte, sizes []int) ([][]byte, error) {
	frames := make([][]byte, 0, len(sizes)+1)
	pos := 0
	for _, sz := range sizes {
		if pos+sz > len(data) {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "laced frame size exceeds remaining payload")
		}
		frames = append(frames, data[pos:pos+sz])
		pos += sz
	}
	if pos > len(data) {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "laced frames exceed payload length")
	}
	frames = append(frames, data[pos:])
	return frames, nil
}
