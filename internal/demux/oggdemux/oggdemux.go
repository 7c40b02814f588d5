// Package oggdemux demuxes an OGG-paged elementary stream (spec §4.8).
// Extraction for an OGG source is byte-exact passthrough (spec §4.9):
// the source is already the output shape this module would otherwise
// build with internal/mux/oggmux, so Extract replays the exact bytes
// read instead of re-paging them.
package oggdemux

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "oggdemux"

// Demuxer walks OGG pages far enough to identify the codec of the
// first logical bitstream, then lets Extract replay the raw bytes.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	prefix       bytes.Buffer // every byte consumed during Probe, replayed verbatim by Extract
	codec        string
	sampleRate   int
	channels     int
}

// Detect reports whether peek starts with the "OggS" capture pattern
// (spec §4.1 step 7).
func Detect(peek []byte) bool {
	return len(peek) >= 4 && string(peek[0:4]) == "OggS"
}

// New constructs an OGG demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults()}
}

func (d *Demuxer) take(ctx context.Context, n int) ([]byte, error) {
	ok, err := d.rv.Ensure(ctx, n)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading OGG page", err)
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated OGG page")
	}
	b := d.rv.Take(n)
	d.prefix.Write(b)
	return b, nil
}

// readPage reads one full OGG page (header + segment table + payload)
// and returns the concatenated payload bytes (still laced — segment
// boundaries are only meaningful for >1 packet per page, which probe
// doesn't need to resolve).
func (d *Demuxer) readPage(ctx context.Context) (payload []byte, headerType byte, err error) {
	hdr, err := d.take(ctx, 27)
	if err != nil {
		return nil, 0, err
	}
	if string(hdr[0:4]) != "OggS" {
		return nil, 0, mediaerr.New(mediaerr.KindMalformed, op, "missing OggS capture pattern")
	}
	headerType = hdr[5]
	segCount := int(hdr[26])
	segTable, err := d.take(ctx, segCount)
	if err != nil {
		return nil, 0, err
	}
	total := 0
	for _, s := range segTable {
		total += int(s)
	}
	payload, err = d.take(ctx, total)
	if err != nil {
		return nil, 0, err
	}
	return payload, headerType, nil
}

func identify(firstPacket []byte) (codec string, sampleRate, channels int, ok bool) {
	if len(firstPacket) >= 19 && string(firstPacket[0:8]) == "OpusHead" {
		return "opus", 48000, int(firstPacket[9]), true
	}
	if len(firstPacket) >= 30 && firstPacket[0] == 0x01 && string(firstPacket[1:7]) == "vorbis" {
		ch := int(firstPacket[11])
		sr := int(binary.LittleEndian.Uint32(firstPacket[12:16]))
		return "vorbis", sr, ch, true
	}
	return "", 0, 0, false
}

// Probe reads OGG pages until the first logical bitstream's
// identification packet is decoded.
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	for i := 0; i < 8; i++ {
		payload, _, err := d.readPage(ctx)
		if err != nil {
			return nil, err
		}
		if codec, sr, ch, ok := identify(payload); ok {
			d.codec, d.sampleRate, d.channels = codec, sr, ch
			break
		}
	}
	if d.codec == "" {
		return nil, mediaerr.New(mediaerr.KindUnsupportedCodec, op, "could not identify OGG logical bitstream codec")
	}

	info := &mediainfo.MediaInfo{
		Container: mediainfo.ContainerOGG,
		AudioStreams: []mediainfo.AudioStreamInfo{
			{
				ID:           0,
				Codec:        d.codec,
				ChannelCount: d.channels,
				SampleRate:   d.sampleRate,
			},
		},
	}
	return info, nil
}

// Extract replays every byte read so far (the pages consumed during
// Probe) as the first sample, then streams the remainder of the file
// through unchanged — the passthrough path spec §4.9 calls for.
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	if trackID != 0 {
		return mediaerr.New(mediaerr.KindNotFound, op, "only track 0 exists in an OGG logical-bitstream source")
	}
	if d.prefix.Len() > 0 {
		if err := cb(sample.Sample{Data: d.prefix.Bytes(), TrackID: 0}); err != nil {
			return err
		}
		d.prefix.Reset()
	}
	const chunkSize = 32 * 1024
	for {
		ok, err := d.rv.Ensure(ctx, 1)
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading remainder of stream", err)
		}
		if !ok {
			return nil
		}
		n := chunkSize
		for n > 1 {
			if ok, _ := d.rv.Ensure(ctx, n); ok {
				break
			}
			n /= 2
		}
		ok, err = d.rv.Ensure(ctx, n)
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading remainder of stream", err)
		}
		if !ok {
			n = 1
		}
		chunk := d.rv.Take(n)
		if err := cb(sample.Sample{Data: chunk, TrackID: 0}); err != nil {
			return err
		}
	}
}
