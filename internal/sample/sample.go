// Package sample defines the extraction data unit (spec §3) shared by
// every demuxer and muxer.
package sample

// ASFExtra carries the ASF-specific payload metadata (spec §3, §4.6)
// needed to byte-exactly repack a payload into a new ASF packet.
type ASFExtra struct {
	MediaObjectNumber     uint32
	OffsetIntoMediaObject uint32
	ReplicatedData        []byte
	PacketSendTimeMS      uint32
	PacketDurationMS      uint16
	IsCompressedPayload   bool
}

// Sample is one codec access unit emitted by a demuxer (spec §3): one
// raw_data_block for AAC, one MPEG frame for MP3, one packet for Opus,
// one chunk for PCM/ADPCM.
//
// Data is owned by the reservoir until the callback returns; a callback
// that retains Data past its own return must copy it (the writers in
// this module that hold samples past the callback, wavmux, asfmux and
// the OGG pager in internal/extract, copy them).
type Sample struct {
	Data        []byte
	TrackID     int
	Time        float64 // presentation time in seconds, or container-native units when seconds are unreliable
	IsKeyframe  bool
	ASF         *ASFExtra // non-nil only for samples sourced from an ASF demuxer
}

// Callback is invoked once per emitted sample, in strict container
// order per track (spec §5 ordering guarantees). Returning an error
// aborts the current demux/extract request.
type Callback func(s Sample) error
