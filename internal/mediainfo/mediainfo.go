// Package mediainfo defines the probe result model (spec §3) and the
// codec/format tag tables the demuxers and muxers consult to translate
// container-native codec identifiers into the canonical names this
// module exposes.
package mediainfo

// Container is the top-level container tag surfaced in MediaInfo.
type Container string

// Recognized container tags.
const (
	ContainerMP4    Container = "mp4"
	ContainerMOV    Container = "mov"
	ContainerMKV    Container = "mkv"
	ContainerWebM   Container = "webm"
	ContainerAVI    Container = "avi"
	ContainerASF    Container = "asf"
	ContainerMPEGTS Container = "mpegts"
	ContainerOGG    Container = "ogg"
	ContainerWAV    Container = "wav"
	ContainerAAC    Container = "aac"
	ContainerMP3    Container = "mp3"
)

// VideoStreamInfo describes one video elementary stream discovered by
// probe. Fields are populated on a best-effort basis — width/height/fps
// are frequently unavailable (e.g. MPEG-TS without a decoded SPS).
type VideoStreamInfo struct {
	ID          int
	Codec       string
	CodecDetail string
	Width       int
	Height      int
	FPS         float64 // 0 when unknown
	Bitrate     int64   // 0 when unknown
	Duration    float64 // seconds, 0 when unknown
}

// AudioStreamInfo describes one audio elementary stream discovered by
// probe.
type AudioStreamInfo struct {
	ID            int
	Codec         string
	CodecDetail   string
	ChannelCount  int
	SampleRate    int
	BitsPerSample int
	Bitrate       int64
	Profile       string
	Duration      float64
	CodecDetails  map[string]string

	// The following mirror the source WAVEFORMATEX when the stream came
	// from a RIFF (AVI/WAV) or ASF container; zero otherwise. The
	// extractor's PCM/ADPCM and WMA output shaping (spec §4.9, §4.12,
	// §4.13) needs these to rebuild a valid format descriptor without
	// threading container-specific types through the generic probe
	// result.
	FormatTag       uint16
	BlockAlign      int
	SamplesPerBlock int // ADPCM only

	// AACObjectType is the MPEG-4 AudioObjectType (spec §4.10) for AAC
	// streams from MP4, Matroska and raw ADTS sources; 0 for every other
	// codec.
	AACObjectType uint8

	// CodecPrivate carries the Matroska CodecPrivate blob (Opus/Vorbis
	// header packets) for streams sourced from Matroska/WebM; nil
	// otherwise. ASF's equivalent lives in MediaInfo.AdditionalStreamInfo
	// since it's keyed by stream number alongside other ASF extensions.
	CodecPrivate []byte
}

// ASFFileProperties carries the subset of the ASF File Properties
// Object that probe surfaces for informational/debugging purposes (spec
// §3 "Optional container-specific extensions").
type ASFFileProperties struct {
	PlayDurationHNS uint64
	SendDurationHNS uint64
	PrerollMS       uint64
	MaxBitrate      uint32
	Broadcast       bool
	Seekable        bool
	MinPacketSize   uint32
	MaxPacketSize   uint32

	// Title/Author/Copyright/Description/Rating mirror the ASF Content
	// Description Object's five UTF-16LE fields, decoded to Go strings.
	// Empty when the source carries no such object.
	Title       string
	Author      string
	Copyright   string
	Description string
	Rating      string
}

// ASFStreamInfo carries per-stream extensions for ASF sources, keyed by
// stream number in MediaInfo.AdditionalStreamInfo.
type ASFStreamInfo struct {
	CodecPrivate                []byte
	ExtendedStreamPropertiesRaw []byte
}

// MediaInfo is the structured probe result (spec §3).
type MediaInfo struct {
	Container       Container
	ContainerDetail string
	DurationSeconds *float64

	VideoStreams []VideoStreamInfo
	AudioStreams []AudioStreamInfo

	// ASF-only extensions.
	FileProperties       *ASFFileProperties
	AdditionalStreamInfo map[int]*ASFStreamInfo
}

// AudioStream resolves an audio stream by track ID, returning its index
// within AudioStreams and ok=false if no stream carries that ID.
func (m *MediaInfo) AudioStream(trackID int) (AudioStreamInfo, int, bool) {
	for i, a := range m.AudioStreams {
		if a.ID == trackID {
			return a, i, true
		}
	}
	return AudioStreamInfo{}, -1, false
}
