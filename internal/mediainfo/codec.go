package mediainfo

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// AAC AudioObjectType values relevant to ADTS framing (spec §4.3,
// §4.10). Only 1-4 are representable in an ADTS header's 2-bit profile
// field.
const (
	AACObjectMain uint8 = 1
	AACObjectLC   uint8 = 2
	AACObjectSSR  uint8 = 3
	AACObjectLTP  uint8 = 4
	AACObjectSBR  uint8 = 5
)

// aacProfileNames maps AudioObjectType to the profile name spec §4.3
// wants surfaced in AudioStreamInfo.Profile.
var aacProfileNames = map[uint8]string{
	AACObjectMain: "Main",
	AACObjectLC:   "LC",
	AACObjectSSR:  "SSR",
	AACObjectLTP:  "LTP",
	AACObjectSBR:  "SBR",
}

// AACProfileName returns the human name for an AudioObjectType, or ""
// if unrecognized.
func AACProfileName(objectType uint8) string {
	return aacProfileNames[objectType]
}

// AACSampleRates is the 13-entry ADTS sampling-frequency-index table
// (spec §4.3, §4.10), index-addressed 0-12; index 13-14 are reserved,
// 15 means "explicit frequency" and is not representable here.
var AACSampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// AACSampleRateIndex returns the ADTS sampling-frequency index for rate,
// and ok=false when rate isn't one of the 13 table entries (spec §4.10
// UnsupportedSampleRate condition).
func AACSampleRateIndex(rate int) (index uint8, ok bool) {
	for i, r := range AACSampleRates {
		if r == rate {
			return uint8(i), true
		}
	}
	return 0, false
}

// MP4ObjectTypeIndication maps the ISOBMFF esds ObjectTypeIndication
// byte to a codec string per spec §4.3 ("mp4a.<OTI>" family).
func MP4ObjectTypeIndication(oti uint8) string {
	switch oti {
	case 0x40:
		return "mp4a.40"
	case 0x6B:
		return "mp3"
	case 0x69:
		return "mp3"
	default:
		return fmt.Sprintf("mp4a.%02X", oti)
	}
}

// MatroskaCodecID -> canonical codec name (spec §4.4).
var matroskaAudioCodecs = map[string]string{
	"A_AAC":      "aac",
	"A_AAC/MPEG4/LC": "aac",
	"A_MPEG/L3":  "mp3",
	"A_MPEG/L2":  "mp2",
	"A_OPUS":     "opus",
	"A_VORBIS":   "vorbis",
	"A_FLAC":     "flac",
	"A_PCM/INT/LIT": "pcm_s16le",
	"A_PCM/INT/BIG": "pcm_s16be",
	"A_AC3":      "ac3",
	"A_EAC3":     "eac3",
	"A_DTS":      "dts",
}

// MatroskaAudioCodec resolves a Matroska CodecID to a canonical codec
// name, returning the raw CodecID unchanged (passthrough) if
// unrecognized.
func MatroskaAudioCodec(codecID string) string {
	if c, ok := matroskaAudioCodecs[codecID]; ok {
		return c
	}
	return codecID
}

// AVI WAVEFORMATEX formatTag -> codec name (spec §4.5).
var aviFormatTags = map[uint16]string{
	0x0001: "pcm",    // resolved to s16le/u8 by bitsPerSample
	0x0002: "adpcm_ms",
	0x0006: "pcm_alaw",
	0x0007: "pcm_mulaw",
	0x0011: "adpcm_ima",
	0x0055: "mp3",
	0x00FF: "aac",
	0x0161: "wmav2",
	0x0162: "wmapro",
	0x2000: "ac3",
}

// AVIFormatTag resolves a WAVEFORMATEX formatTag to a codec name. ok is
// false when the tag is unrecognized (spec §4.5/§4.9 UnsupportedCodec
// path for e.g. AAC-in-AVI extraction, which the extractor still needs
// to identify before rejecting).
func AVIFormatTag(tag uint16) (codec string, ok bool) {
	c, ok := aviFormatTags[tag]
	return c, ok
}

// PCMCodecForBitsPerSample resolves the formatTag==0x0001 PCM case to a
// concrete codec name, since WAVEFORMATEX alone doesn't distinguish
// sample width.
func PCMCodecForBitsPerSample(bits int) string {
	if bits <= 8 {
		return "pcm_u8"
	}
	return "pcm_s16le"
}

// MPEG-TS stream_type -> codec name, the subset spec §4.7 extracts for
// audio (plus the video types needed for probe's VideoStreamInfo).
var mpegTSStreamTypes = map[uint8]string{
	0x01: "mpeg1video",
	0x02: "mpeg2video",
	0x04: "mp2",
	0x0F: "aac", // ADTS-framed AAC
	0x11: "aac-latm",
	0x1B: "h264",
	0x24: "h265",
	0x81: "ac3",
	0x87: "eac3",
	0x03: "mp3",
}

// MPEGTSStreamType resolves a PMT stream_type byte to a codec name,
// returning ok=false for unrecognized types (the demuxer should skip
// that elementary stream rather than fail the whole probe).
func MPEGTSStreamType(streamType uint8) (codec string, ok bool) {
	c, ok := mpegTSStreamTypes[streamType]
	return c, ok
}

// ASF stream-type GUID classification (spec §4.6). The actual 16-byte
// GUIDs live in internal/demux/asf/guid.go, which calls these with its
// own classified booleans; this indirection keeps the canonical-name
// mapping in one place alongside the other container tag tables.
const (
	ASFCodecWMAv1 = "wmav1"
	ASFCodecWMAv2 = "wmav2"
	ASFCodecWMAPro = "wmapro"
	ASFCodecWMALossless = "wmalossless"
)

// asfFormatTags maps the WAVEFORMATEX formatTag carried in an ASF
// Stream Properties Object's Type-Specific Data to a codec name.
var asfFormatTags = map[uint16]string{
	0x0160: ASFCodecWMAv1,
	0x0161: ASFCodecWMAv2,
	0x0162: ASFCodecWMAPro,
	0x0163: ASFCodecWMALossless,
}

// ASFAudioCodecForFormatTag resolves an ASF Type-Specific Data
// formatTag to a codec name. ok is false for any tag not in the table;
// no default codec is substituted.
func ASFAudioCodecForFormatTag(tag uint16) (codec string, ok bool) {
	c, ok := asfFormatTags[tag]
	return c, ok
}

// ADPCMSamplesPerBlock reads the wSamplesPerBlock field every MS-ADPCM
// and IMA-ADPCM WAVEFORMATEX extension places first in its extra bytes
// (spec §4.13), returning 0 if extra is too short to carry one.
func ADPCMSamplesPerBlock(extra []byte) int {
	if len(extra) < 2 {
		return 0
	}
	return int(binary.LittleEndian.Uint16(extra[0:2]))
}

// IsADPCMFormatTag reports whether tag is one of the WAVEFORMATEX
// formatTag values this module treats as ADPCM (spec §4.5, §4.13).
func IsADPCMFormatTag(tag uint16) bool {
	return tag == 0x0002 || tag == 0x0011
}

// AACObjectTypeForCodecID derives the ADTS AudioObjectType (spec §4.10)
// from a Matroska AAC CodecID's profile suffix (e.g. "A_AAC/MPEG4/LC"),
// defaulting to LC when the ID doesn't name a recognized profile.
func AACObjectTypeForCodecID(codecID string) uint8 {
	switch {
	case strings.HasSuffix(codecID, "/MAIN"):
		return AACObjectMain
	case strings.HasSuffix(codecID, "/LC"):
		return AACObjectLC
	case strings.HasSuffix(codecID, "/SSR"):
		return AACObjectSSR
	case strings.HasSuffix(codecID, "/LTP"):
		return AACObjectLTP
	case strings.HasSuffix(codecID, "/SBR"):
		return AACObjectSBR
	default:
		return AACObjectLC
	}
}
