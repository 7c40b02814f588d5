package bitio

import (
	"context"
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/mediaerr"
)

// The Read* helpers below combine Ensure+Peek+Advance for the common
// fixed-width fields every box/element/chunk parser needs. They return
// mediaerr wrapped EndOfStream errors on short reads so callers don't
// each re-derive that.

func ensure(ctx context.Context, rv *Reservoir, op string, n int) error {
	ok, err := rv.Ensure(ctx, n)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "reading from source", err)
	}
	if !ok {
		return mediaerr.New(mediaerr.KindEndOfStream, op, "unexpected end of stream")
	}
	return nil
}

// ReadU8 reads one byte.
func ReadU8(ctx context.Context, rv *Reservoir, op string) (uint8, error) {
	if err := ensure(ctx, rv, op, 1); err != nil {
		return 0, err
	}
	b := rv.Peek(1)[0]
	rv.Advance(1)
	return b, nil
}

// ReadBEU16 reads a big-endian uint16.
func ReadBEU16(ctx context.Context, rv *Reservoir, op string) (uint16, error) {
	if err := ensure(ctx, rv, op, 2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(rv.Peek(2))
	rv.Advance(2)
	return v, nil
}

// ReadLEU16 reads a little-endian uint16.
func ReadLEU16(ctx context.Context, rv *Reservoir, op string) (uint16, error) {
	if err := ensure(ctx, rv, op, 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(rv.Peek(2))
	rv.Advance(2)
	return v, nil
}

// ReadBEU24 reads a big-endian 24-bit unsigned integer (common in
// ISOBMFF full-box version+flags fields).
func ReadBEU24(ctx context.Context, rv *Reservoir, op string) (uint32, error) {
	if err := ensure(ctx, rv, op, 3); err != nil {
		return 0, err
	}
	b := rv.Peek(3)
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	rv.Advance(3)
	return v, nil
}

// ReadBEU32 reads a big-endian uint32.
func ReadBEU32(ctx context.Context, rv *Reservoir, op string) (uint32, error) {
	if err := ensure(ctx, rv, op, 4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(rv.Peek(4))
	rv.Advance(4)
	return v, nil
}

// ReadLEU32 reads a little-endian uint32.
func ReadLEU32(ctx context.Context, rv *Reservoir, op string) (uint32, error) {
	if err := ensure(ctx, rv, op, 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(rv.Peek(4))
	rv.Advance(4)
	return v, nil
}

// ReadBEU64 reads a big-endian uint64.
func ReadBEU64(ctx context.Context, rv *Reservoir, op string) (uint64, error) {
	if err := ensure(ctx, rv, op, 8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(rv.Peek(8))
	rv.Advance(8)
	return v, nil
}

// ReadLEU64 reads a little-endian uint64.
func ReadLEU64(ctx context.Context, rv *Reservoir, op string) (uint64, error) {
	if err := ensure(ctx, rv, op, 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(rv.Peek(8))
	rv.Advance(8)
	return v, nil
}

// ReadFourCC reads a 4-byte ASCII type tag (ISOBMFF box type, RIFF
// chunk id, ...).
func ReadFourCC(ctx context.Context, rv *Reservoir, op string) (string, error) {
	if err := ensure(ctx, rv, op, 4); err != nil {
		return "", err
	}
	b := rv.Take(4)
	return string(b), nil
}

// ReadGUID reads a 16-byte little-endian GUID, used by ASF object IDs.
func ReadGUID(ctx context.Context, rv *Reservoir, op string) ([16]byte, error) {
	var g [16]byte
	if err := ensure(ctx, rv, op, 16); err != nil {
		return g, err
	}
	copy(g[:], rv.Peek(16))
	rv.Advance(16)
	return g, nil
}

// ReadBytes reads n raw bytes as an owned copy.
func ReadBytes(ctx context.Context, rv *Reservoir, op string, n int) ([]byte, error) {
	if err := ensure(ctx, rv, op, n); err != nil {
		return nil, err
	}
	return rv.Take(n), nil
}

// ReadVInt reads an EBML variable-length integer (1-8 bytes). When
// keepMarker is false the leading length-marker bits are stripped from
// the value (used for element data sizes); when true they are kept
// (used for element IDs, which are compared including their marker
// bits per the EBML spec). All-0xFF payloads of the declared width
// (the EBML "unknown size" marker) are reported via unknown=true.
func ReadVInt(ctx context.Context, rv *Reservoir, op string, keepMarker bool) (value uint64, width int, unknown bool, err error) {
	first, err := ReadU8(ctx, rv, op)
	if err != nil {
		return 0, 0, false, err
	}
	if first == 0 {
		return 0, 0, false, mediaerr.New(mediaerr.KindMalformed, op, "invalid VINT: leading byte is zero")
	}
	width = 1
	mask := uint8(0x80)
	for mask != 0 && first&mask == 0 {
		mask >>= 1
		width++
	}

	stripped := uint64(first &^ mask)
	raw := uint64(first)
	for i := 1; i < width; i++ {
		b, err := ReadU8(ctx, rv, op)
		if err != nil {
			return 0, 0, false, err
		}
		stripped = stripped<<8 | uint64(b)
		raw = raw<<8 | uint64(b)
	}

	dataBits := uint(7 * width)
	unknown = stripped == (uint64(1)<<dataBits)-1

	if keepMarker {
		return raw, width, unknown, nil
	}
	return stripped, width, unknown, nil
}
