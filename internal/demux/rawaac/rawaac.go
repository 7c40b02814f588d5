// Package rawaac demuxes a raw ADTS AAC elementary stream (spec §4.8).
package rawaac

import (
	"context"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "rawaac"

// Demuxer locks onto the 0xFFF ADTS syncword and emits one Sample per
// frame. There is exactly one elementary stream, track ID 0.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	profile      uint8
	sampleRateIx uint8
	sampleRate   int
	channelCfg   uint8
	framesSeen   int64
}

// Detect reports whether peek (at least 2 bytes) starts with the ADTS
// syncword 0xFFFx (spec §4.1 step 8).
func Detect(peek []byte) bool {
	return len(peek) >= 2 && peek[0] == 0xFF && peek[1]&0xF0 == 0xF0
}

// New constructs a raw-ADTS demuxer over rv, which must not have had
// any bytes consumed from it yet (detection only peeks).
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults()}
}

type adtsHeader struct {
	profile      uint8
	sampleRateIx uint8
	channelCfg   uint8
	frameLength  int // includes the 7-byte header
	headerLen    int // 7 (no CRC) or 9 (CRC present)
}

func readADTSHeader(b []byte) (adtsHeader, error) {
	if len(b) < 7 {
		return adtsHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "short ADTS header")
	}
	if b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return adtsHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "bad ADTS syncword")
	}
	protectionAbsent := b[1] & 0x01
	profile := (b[2] >> 6) + 1
	sampleRateIx := (b[2] >> 2) & 0x0F
	channelCfg := ((b[2] & 0x01) << 2) | (b[3] >> 6)
	frameLength := (int(b[3]&0x03) << 11) | (int(b[4]) << 3) | (int(b[5]) >> 5)
	headerLen := 7
	if protectionAbsent == 0 {
		headerLen = 9
	}
	return adtsHeader{
		profile:      profile,
		sampleRateIx: sampleRateIx,
		channelCfg:   channelCfg,
		frameLength:  frameLength,
		headerLen:    headerLen,
	}, nil
}

// Probe reads just enough of the first frame to report codec
// parameters.
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	ok, err := d.rv.Ensure(ctx, 7)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading first ADTS header", err)
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "stream too short for an ADTS header")
	}
	hdr, err := readADTSHeader(d.rv.Peek(7))
	if err != nil {
		return nil, err
	}
	if int(hdr.sampleRateIx) >= len(mediainfo.AACSampleRates) {
		return nil, mediaerr.New(mediaerr.KindUnsupportedSampleRate, op, "sampling-frequency index out of range")
	}
	d.profile = hdr.profile
	d.sampleRateIx = hdr.sampleRateIx
	d.sampleRate = mediainfo.AACSampleRates[hdr.sampleRateIx]
	d.channelCfg = hdr.channelCfg

	channels := int(hdr.channelCfg)
	if channels == 0 {
		channels = 2 // channel_config 0 means "not specified in this header"; stereo is the common default
	}

	info := &mediainfo.MediaInfo{
		Container: mediainfo.ContainerAAC,
		AudioStreams: []mediainfo.AudioStreamInfo{
			{
				ID:            0,
				Codec:         "aac",
				CodecDetail:   "aac-adts",
				ChannelCount:  channels,
				SampleRate:    d.sampleRate,
				Profile:       mediainfo.AACProfileName(hdr.profile),
				AACObjectType: hdr.profile,
			},
		},
	}
	return info, nil
}

// Extract walks every ADTS frame in sequence, emitting the raw
// raw_data_block (header stripped) as Sample.Data — spec §8 invariant 4
// requires the re-framer to be able to reproduce identical payload
// bytes, so the muxer re-derives the ADTS header rather than us keeping
// it.
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	if trackID != 0 {
		return mediaerr.New(mediaerr.KindNotFound, op, "only track 0 exists in a raw AAC stream")
	}
	frameDuration := 1024.0 / float64(d.sampleRate)
	for {
		ok, err := d.rv.Ensure(ctx, 7)
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading frame header", err)
		}
		if !ok {
			return nil // clean EOF between frames
		}
		hdr, err := readADTSHeader(d.rv.Peek(7))
		if err != nil {
			return err
		}
		if hdr.frameLength < hdr.headerLen {
			return mediaerr.New(mediaerr.KindMalformed, op, "ADTS frame length shorter than its header")
		}
		ok, err = d.rv.Ensure(ctx, hdr.frameLength)
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading frame body", err)
		}
		if !ok {
			return mediaerr.New(mediaerr.KindEndOfStream, op, "truncated ADTS frame")
		}
		full := d.rv.Take(hdr.frameLength)
		payload := full[hdr.headerLen:]

		if err := cb(sample.Sample{
			Data:    payload,
			TrackID: 0,
			Time:    float64(d.framesSeen) * frameDuration,
		}); err != nil {
			return err
		}
		d.framesSeen++
	}
}
