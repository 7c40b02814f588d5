// Package oggmux pages Opus/Vorbis access units into an OGG logical
// bitstream (spec §4.11), the inverse of internal/demux/oggdemux's page
// walking.
package oggmux

import (
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/mediaerr"
)

const op = "oggmux"

const (
	headerTypeBOS = 0x02
	headerTypeEOS = 0x04

	opusPreSkip        = 312
	opusInputSampleRate = 48000
	opusSamplesPerFrame = 960 // 20ms @ 48kHz, the common case this module assumes
	vorbisSamplesPerFrame = 1024
)

// Muxer accumulates granule position and page sequence for one logical
// OGG bitstream. serial should be a random 32-bit value per spec §4.11;
// callers supply it rather than this package rolling its own random
// source, keeping the package deterministic and testable.
type Muxer struct {
	serial   uint32
	sequence uint32
	granule  uint64
	codec    string // "opus" or "vorbis"
}

// NewOpusMuxer builds a Muxer and returns it alongside the two header
// pages (OpusHead, which carries the BOS flag, then OpusTags) that must
// be written before any data page.
func NewOpusMuxer(serial uint32, codecPrivate []byte) (*Muxer, [][]byte) {
	m := &Muxer{serial: serial, codec: "opus"}

	head := codecPrivate
	if len(head) == 0 {
		head = synthesizeOpusHead(2)
	}
	tags := opusTags()

	pages := [][]byte{
		m.page(headerTypeBOS, 0, head),
		m.page(0, 0, tags),
	}
	return m, pages
}

// synthesizeOpusHead builds the 19-byte OpusHead struct (spec §4.11)
// when no CodecPrivate was captured from the source.
func synthesizeOpusHead(channelCount int) []byte {
	b := make([]byte, 19)
	copy(b[0:8], "OpusHead")
	b[8] = 1 // version
	b[9] = byte(channelCount)
	binary.LittleEndian.PutUint16(b[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(b[12:16], opusInputSampleRate)
	// output gain (2 bytes) = 0, channel mapping family = 0 (bytes 18 left zero)
	return b
}

func opusTags() []byte {
	vendor := "media-utils"
	b := make([]byte, 0, 8+4+len(vendor)+4)
	b = append(b, "OpusTags"...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(vendor)))
	b = append(b, lenBuf[:]...)
	b = append(b, vendor...)
	binary.LittleEndian.PutUint32(lenBuf[:], 0) // user comment list length = 0
	b = append(b, lenBuf[:]...)
	return b
}

// NewVorbisMuxer builds a Muxer and returns the BOS-flagged identification
// header plus the comment and setup headers. codecPrivate is the
// three-header blob Matroska's CodecPrivate carries for Vorbis (spec
// §4.11): a header-count-minus-one byte, then Xiph-laced lengths for
// headers 1 and 2, then the three headers concatenated. When absent, a
// minimal ID + Comment header pair is synthesized.
func NewVorbisMuxer(serial uint32, codecPrivate []byte) (*Muxer, [][]byte, error) {
	m := &Muxer{serial: serial, codec: "vorbis"}

	headers, err := splitVorbisHeaders(codecPrivate)
	if err != nil {
		return nil, nil, err
	}

	var pages [][]byte
	for i, h := range headers {
		flag := byte(0)
		if i == 0 {
			flag = headerTypeBOS
		}
		pages = append(pages, m.page(flag, 0, h))
	}
	return m, pages, nil
}

// splitVorbisHeaders decodes the Matroska Vorbis CodecPrivate layout,
// falling back to a minimal synthesized ID+Comment pair when blob is
// empty.
func splitVorbisHeaders(blob []byte) ([][]byte, error) {
	if len(blob) == 0 {
		return [][]byte{synthesizeVorbisID(), synthesizeVorbisComment()}, nil
	}
	if len(blob) < 1 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "empty Vorbis CodecPrivate")
	}
	numHeaders := int(blob[0]) + 1
	if numHeaders != 3 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "Vorbis CodecPrivate must describe 3 headers")
	}
	pos := 1
	lens := make([]int, 2)
	for i := range lens {
		n := 0
		for pos < len(blob) {
			b := blob[pos]
			pos++
			n += int(b)
			if b != 0xFF {
				break
			}
		}
		lens[i] = n
	}
	h1End := pos + lens[0]
	h2End := h1End + lens[1]
	if h2End > len(blob) {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "Vorbis CodecPrivate header lengths exceed blob size")
	}
	return [][]byte{
		append([]byte(nil), blob[pos:h1End]...),
		append([]byte(nil), blob[h1End:h2End]...),
		append([]byte(nil), blob[h2End:]...),
	}, nil
}

func synthesizeVorbisID() []byte {
	b := make([]byte, 30)
	b[0] = 0x01
	copy(b[1:7], "vorbis")
	binary.LittleEndian.PutUint32(b[7:11], 0)     // vorbis_version
	b[11] = 2                                     // audio_channels
	binary.LittleEndian.PutUint32(b[12:16], 48000) // audio_sample_rate
	// bitrate fields (16:28) left 0 (unset)
	b[29] = 0x01 // framing bit
	return b
}

func synthesizeVorbisComment() []byte {
	vendor := "media-utils"
	b := make([]byte, 0, 7+4+len(vendor)+4+1)
	b = append(b, 0x03)
	b = append(b, "vorbis"...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(vendor)))
	b = append(b, lenBuf[:]...)
	b = append(b, vendor...)
	binary.LittleEndian.PutUint32(lenBuf[:], 0)
	b = append(b, lenBuf[:]...)
	b = append(b, 0x01) // framing bit
	return b
}

// WriteFrame pages one data frame, advancing the granule position by
// the codec's fixed samples-per-frame approximation (spec §4.11).
func (m *Muxer) WriteFrame(frame []byte, eos bool) []byte {
	switch m.codec {
	case "opus":
		m.granule += opusSamplesPerFrame
	default:
		m.granule += vorbisSamplesPerFrame
	}
	flag := byte(0)
	if eos {
		flag = headerTypeEOS
	}
	return m.page(flag, m.granule, frame)
}

// page assembles one OGG page: capture pattern, version, header type,
// granule, serial, auto-incremented sequence, CRC-32/MPEG placeholder,
// segment table (255-byte lacing, explicit trailing 0 segment when the
// payload length is a multiple of 255), payload, then the CRC patched
// back in (spec §4.11).
func (m *Muxer) page(headerType byte, granule uint64, payload []byte) []byte {
	segTable := lacingTable(len(payload))

	total := 27 + len(segTable) + len(payload)
	out := make([]byte, total)
	copy(out[0:4], "OggS")
	out[4] = 0 // version
	out[5] = headerType
	binary.LittleEndian.PutUint64(out[6:14], granule)
	binary.LittleEndian.PutUint32(out[14:18], m.serial)
	binary.LittleEndian.PutUint32(out[18:22], m.sequence)
	// out[22:26] CRC placeholder, zeroed by make()
	out[26] = byte(len(segTable))
	copy(out[27:], segTable)
	copy(out[27+len(segTable):], payload)

	crc := crc32OGG(out)
	binary.LittleEndian.PutUint32(out[22:26], crc)

	m.sequence++
	return out
}

// lacingTable produces the 255-byte-lacing segment table for a payload
// of length n, terminating with an explicit zero segment when n is an
// exact multiple of 255 (spec §4.11, §8 invariant 6).
func lacingTable(n int) []byte {
	var segs []byte
	for n >= 255 {
		segs = append(segs, 255)
		n -= 255
	}
	segs = append(segs, byte(n))
	return segs
}

// crc32OGG computes the CRC-32/MPEG-2-style checksum (polynomial
// 0x04C11DB7, MSB-first, non-reflected, no final xor, zero init) OGG
// uses over an assembled page with the stored CRC field zeroed (spec
// §4.11, §8 invariant 5). This differs from the MPEG-TS PSI table's
// identical-looking CRC only in that OGG's init value is 0, not
// 0xFFFFFFFF.
func crc32OGG(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
