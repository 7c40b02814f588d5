// Package adts wraps raw AAC access units in 7-byte ADTS headers (spec
// §4.10), the inverse of internal/demux/rawaac's header stripping.
package adts

import (
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
)

const op = "adts"

// Framer holds the per-stream parameters that stay constant across
// every frame it wraps.
type Framer struct {
	sampleRateIndex uint8
	channelConfig   uint8
	profileBits     uint8 // AudioObjectType - 1; NewFramer accepts only types 1-4, which fit the 2-bit ADTS profile field
}

// NewFramer resolves sampleRate/channelCount/audioObjectType into the
// fixed fields an ADTS header carries, failing UnsupportedSampleRate if
// sampleRate isn't one of the 13 ADTS table entries (spec §4.10).
func NewFramer(sampleRate, channelCount int, audioObjectType uint8) (*Framer, error) {
	idx, ok := mediainfo.AACSampleRateIndex(sampleRate)
	if !ok {
		return nil, mediaerr.New(mediaerr.KindUnsupportedSampleRate, op, "sample rate has no ADTS sampling-frequency index")
	}
	if audioObjectType < 1 || audioObjectType > 4 {
		return nil, mediaerr.New(mediaerr.KindUnsupportedCodec, op, "AudioObjectType is not representable in a 2-bit ADTS profile field")
	}
	if channelCount < 0 || channelCount > 7 {
		return nil, mediaerr.New(mediaerr.KindUnsupportedCodec, op, "channel configuration out of ADTS' 3-bit range")
	}
	return &Framer{
		sampleRateIndex: idx,
		channelConfig:   uint8(channelCount),
		profileBits:     audioObjectType - 1,
	}, nil
}

// Wrap returns a new 7-byte-header-plus-payload buffer for one raw AAC
// access unit. The returned slice is freshly allocated — block is not
// retained or mutated.
func (f *Framer) Wrap(block []byte) ([]byte, error) {
	frameLength := 7 + len(block)
	if frameLength >= 1<<13 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "AAC frame too large to represent in a 13-bit ADTS frame length")
	}

	out := make([]byte, frameLength)
	// Byte 0: syncword bits 11-4.
	out[0] = 0xFF
	// Byte 1: syncword bits 3-0, MPEG-4 (0), layer 00, protection_absent=1.
	out[1] = 0xF1
	// Byte 2: profile(2) | sampling_frequency_index(4) | private_bit(1) | channel_config high bit.
	out[2] = (f.profileBits << 6) | (f.sampleRateIndex << 2) | ((f.channelConfig >> 2) & 0x01)
	// Byte 3: channel_config low 2 bits | original/copy | home | copyright_id | copyright_id_start | frame_length bits 12-11.
	out[3] = ((f.channelConfig & 0x03) << 6) | byte((frameLength>>11)&0x03)
	// Byte 4: frame_length bits 10-3.
	out[4] = byte((frameLength >> 3) & 0xFF)
	// Byte 5: frame_length bits 2-0 | buffer_fullness bits 10-6.
	out[5] = byte((frameLength&0x07)<<5) | 0x1F
	// Byte 6: buffer_fullness bits 5-0 | number_of_raw_data_blocks_in_frame-1 (00).
	out[6] = 0xFC

	copy(out[7:], block)
	return out, nil
}
