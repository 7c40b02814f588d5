// Package riff provides the RIFF chunk-walking and WAVEFORMATEX parsing
// shared by the AVI demuxer, the WAV demuxer, and the WAV writer (spec
// §4.5, §4.8, §4.13) — all three read or write the same little-endian
// chunk-header-plus-payload shape.
package riff

import (
	"context"
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
)

// ChunkHeader is the 8-byte FourCC+size header preceding every RIFF
// chunk's payload.
type ChunkHeader struct {
	ID   string
	Size uint32
}

// ReadChunkHeader reads one RIFF chunk header (4-byte FourCC + 4-byte
// little-endian size).
func ReadChunkHeader(ctx context.Context, rv *bitio.Reservoir, op string) (ChunkHeader, error) {
	ok, err := rv.Ensure(ctx, 8)
	if err != nil {
		return ChunkHeader{}, mediaerr.Wrap(mediaerr.KindIO, op, "reading chunk header", err)
	}
	if !ok {
		return ChunkHeader{}, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated chunk header")
	}
	b := rv.Take(8)
	return ChunkHeader{ID: string(b[0:4]), Size: binary.LittleEndian.Uint32(b[4:8])}, nil
}

// PadByte reports whether a chunk of the given size needs a trailing
// pad byte to keep the stream word-aligned (spec §4.5).
func PadByte(size uint32) bool { return size&1 == 1 }

// WaveFormatEx is the audio format descriptor RIFF `fmt ` chunks and
// ASF Stream Properties Objects both carry (spec glossary).
type WaveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
	Extra          []byte // CbSize bytes of format-specific extra data
}

// ParseWaveFormatEx parses a WAVEFORMATEX (or the shorter 16-byte
// PCMWAVEFORMAT when no cbSize field is present) from b.
func ParseWaveFormatEx(b []byte) (WaveFormatEx, error) {
	if len(b) < 16 {
		return WaveFormatEx{}, mediaerr.New(mediaerr.KindMalformed, "riff", "short WAVEFORMATEX")
	}
	w := WaveFormatEx{
		FormatTag:      binary.LittleEndian.Uint16(b[0:2]),
		Channels:       binary.LittleEndian.Uint16(b[2:4]),
		SamplesPerSec:  binary.LittleEndian.Uint32(b[4:8]),
		AvgBytesPerSec: binary.LittleEndian.Uint32(b[8:12]),
		BlockAlign:     binary.LittleEndian.Uint16(b[12:14]),
		BitsPerSample:  binary.LittleEndian.Uint16(b[14:16]),
	}
	if len(b) >= 18 {
		w.CbSize = binary.LittleEndian.Uint16(b[16:18])
		end := 18 + int(w.CbSize)
		if end <= len(b) {
			w.Extra = append([]byte(nil), b[18:end]...)
		} else {
			w.Extra = append([]byte(nil), b[18:]...)
		}
	}
	return w, nil
}

// MarshalWaveFormatEx serializes w back to its little-endian wire form,
// including the cbSize field and extra bytes (spec §4.12, §4.13).
func MarshalWaveFormatEx(w WaveFormatEx) []byte {
	out := make([]byte, 18+len(w.Extra))
	binary.LittleEndian.PutUint16(out[0:2], w.FormatTag)
	binary.LittleEndian.PutUint16(out[2:4], w.Channels)
	binary.LittleEndian.PutUint32(out[4:8], w.SamplesPerSec)
	binary.LittleEndian.PutUint32(out[8:12], w.AvgBytesPerSec)
	binary.LittleEndian.PutUint16(out[12:14], w.BlockAlign)
	binary.LittleEndian.PutUint16(out[14:16], w.BitsPerSample)
	binary.LittleEndian.PutUint16(out[16:18], uint16(len(w.Extra)))
	copy(out[18:], w.Extra)
	return out
}
