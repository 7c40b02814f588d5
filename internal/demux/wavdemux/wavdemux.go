// Package wavdemux demuxes a WAV/RIFF PCM file (spec §4.8). This is the
// "WAV → passthrough" source side of the extractor: probing tells the
// caller what's already there, extraction just re-emits the data chunk
// payload in fixed-size blocks.
package wavdemux

import (
	"context"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/riff"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "wavdemux"

// Demuxer walks a RIFF/WAVE file looking for `fmt ` and `data`.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	fmtChunk   riff.WaveFormatEx
	dataSize   uint32
	codec      string
}

// Detect reports whether peek starts with "RIFF....WAVE" (spec §4.1
// step 2).
func Detect(peek []byte) bool {
	return len(peek) >= 12 && string(peek[0:4]) == "RIFF" && string(peek[8:12]) == "WAVE"
}

// New constructs a WAV demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults()}
}

func codecFor(w riff.WaveFormatEx) string {
	switch w.FormatTag {
	case 0x0001:
		return mediainfo.PCMCodecForBitsPerSample(int(w.BitsPerSample))
	case 0x0002:
		return "adpcm_ms"
	case 0x0011:
		return "adpcm_ima"
	default:
		if c, ok := mediainfo.AVIFormatTag(w.FormatTag); ok {
			return c
		}
		return "pcm_s16le"
	}
}

// Probe walks the RIFF tree until `fmt ` and `data` are both found,
// returning as soon as the data chunk header is read (it does not
// consume the data payload — Extract does).
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	hdr, err := riff.ReadChunkHeader(ctx, d.rv, op)
	if err != nil {
		return nil, err
	}
	if hdr.ID != "RIFF" {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "missing RIFF chunk")
	}
	formTag, err := readFourByteTag(ctx, d.rv)
	if err != nil {
		return nil, err
	}
	if formTag != "WAVE" {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "RIFF form type is not WAVE")
	}

	var haveFmt, haveData bool
	for !haveData {
		ch, err := riff.ReadChunkHeader(ctx, d.rv, op)
		if err != nil {
			return nil, err
		}
		switch ch.ID {
		case "fmt ":
			b, err := readN(ctx, d.rv, int(ch.Size))
			if err != nil {
				return nil, err
			}
			w, err := riff.ParseWaveFormatEx(b)
			if err != nil {
				return nil, err
			}
			d.fmtChunk = w
			d.codec = codecFor(w)
			haveFmt = true
			if riff.PadByte(ch.Size) {
				if _, err := readN(ctx, d.rv, 1); err != nil {
					return nil, err
				}
			}
		case "data":
			if !haveFmt {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "data chunk before fmt chunk")
			}
			d.dataSize = ch.Size
			haveData = true
		default:
			if _, err := d.rv.Skip(ctx, int64(ch.Size)); err != nil {
				return nil, mediaerr.Wrap(mediaerr.KindIO, op, "skipping unknown chunk", err)
			}
			if riff.PadByte(ch.Size) {
				if _, err := readN(ctx, d.rv, 1); err != nil {
					return nil, err
				}
			}
		}
	}

	var duration *float64
	if d.fmtChunk.AvgBytesPerSec > 0 {
		v := float64(d.dataSize) / float64(d.fmtChunk.AvgBytesPerSec)
		duration = &v
	}

	info := &mediainfo.MediaInfo{
		Container:       mediainfo.ContainerWAV,
		DurationSeconds: duration,
		AudioStreams: []mediainfo.AudioStreamInfo{
			{
				ID:              0,
				Codec:           d.codec,
				ChannelCount:    int(d.fmtChunk.Channels),
				SampleRate:      int(d.fmtChunk.SamplesPerSec),
				BitsPerSample:   int(d.fmtChunk.BitsPerSample),
				Bitrate:         int64(d.fmtChunk.AvgBytesPerSec) * 8,
				FormatTag:       d.fmtChunk.FormatTag,
				BlockAlign:      int(d.fmtChunk.BlockAlign),
				SamplesPerBlock: mediainfo.ADPCMSamplesPerBlock(d.fmtChunk.Extra),
			},
		},
	}
	return info, nil
}

// Extract re-emits the data chunk payload as fixed-size blocks (spec
// §4.9 "WAV → passthrough").
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	if trackID != 0 {
		return mediaerr.New(mediaerr.KindNotFound, op, "only track 0 exists in a WAV file")
	}
	const blockBytes = 4096
	remaining := int64(d.dataSize)
	blockAlign := int64(d.fmtChunk.BlockAlign)
	if blockAlign <= 0 {
		blockAlign = 1
	}
	blockSize := (blockBytes / blockAlign) * blockAlign
	if blockSize <= 0 {
		blockSize = blockAlign
	}
	var samplesEmitted int64
	for remaining > 0 {
		n := blockSize
		if n > remaining {
			n = remaining
		}
		ok, err := d.rv.Ensure(ctx, int(n))
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading data chunk", err)
		}
		if !ok {
			return mediaerr.New(mediaerr.KindEndOfStream, op, "truncated WAV data chunk")
		}
		block := d.rv.Take(int(n))
		t := 0.0
		if d.fmtChunk.SamplesPerSec > 0 && blockAlign > 0 {
			t = float64(samplesEmitted) / float64(d.fmtChunk.SamplesPerSec)
			samplesEmitted += n / blockAlign
		}
		if err := cb(sample.Sample{Data: block, TrackID: 0, Time: t}); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

func readFourByteTag(ctx context.Context, rv *bitio.Reservoir) (string, error) {
	b, err := readN(ctx, rv, 4)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readN(ctx context.Context, rv *bitio.Reservoir, n int) ([]byte, error) {
	ok, err := rv.Ensure(ctx, n)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading bytes", err)
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "unexpected end of stream")
	}
	return rv.Take(n), nil
}
