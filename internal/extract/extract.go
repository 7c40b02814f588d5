// Package extract implements the Audio Extractor dispatcher (spec
// §4.9): given a probed source and a selected audio stream, it routes
// to the container- and codec-specific output shaping that turns the
// demuxer's samples into a finished audio file.
package extract

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/mux/adts"
	"github.com/jmylchreest/media-extract/internal/mux/asfmux"
	"github.com/jmylchreest/media-extract/internal/mux/oggmux"
	"github.com/jmylchreest/media-extract/internal/mux/wavmux"
	"github.com/jmylchreest/media-extract/internal/riff"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "extract"

// Demuxer is the subset of demux.Demuxer this package drives. Declared
// locally (rather than imported) so the demux package stays the only
// thing that knows how to pick one.
type Demuxer interface {
	Extract(ctx context.Context, trackID int, cb sample.Callback) error
}

// Options selects which audio stream a request targets (spec §4.9 step
// 1, §6).
type Options struct {
	TrackID     *int
	StreamIndex *int
}

// Select resolves the audio stream a request targets: TrackID wins if
// set and resolvable, else StreamIndex (default 0). Fails NotFound if
// neither resolves (spec §4.9 step 1, §8 invariant 3).
func Select(info *mediainfo.MediaInfo, opts Options) (mediainfo.AudioStreamInfo, error) {
	if opts.TrackID != nil {
		if a, _, ok := info.AudioStream(*opts.TrackID); ok {
			return a, nil
		}
		return mediainfo.AudioStreamInfo{}, mediaerr.New(mediaerr.KindNotFound, op, "trackId does not resolve to an audio stream")
	}
	idx := 0
	if opts.StreamIndex != nil {
		idx = *opts.StreamIndex
	}
	if idx < 0 || idx >= len(info.AudioStreams) {
		return mediainfo.AudioStreamInfo{}, mediaerr.New(mediaerr.KindNotFound, op, "streamIndex does not resolve to an audio stream")
	}
	return info.AudioStreams[idx], nil
}

// Run extracts the selected stream from d to w, shaping the output per
// spec §4.9's container-then-codec routing table. container is the
// label demux.Open returned ("mp4", "mkv", "avi", "asf", "mpegts",
// "ogg", "wav", "rawaac", "rawmp3").
func Run(ctx context.Context, container string, info *mediainfo.MediaInfo, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	switch container {
	case "asf":
		return extractASF(ctx, d, info, stream, w)
	case "ogg":
		return passthrough(ctx, d, stream.ID, w)
	case "avi":
		return extractAVI(ctx, d, stream, w)
	case "wav":
		return extractWAV(ctx, d, stream, w)
	case "mp4", "mkv":
		return extractByCodec(ctx, d, stream, w)
	case "mpegts":
		return extractMPEGTS(ctx, d, stream, w)
	case "rawaac":
		return extractAAC(ctx, d, stream, w)
	case "rawmp3":
		return passthrough(ctx, d, stream.ID, w)
	default:
		return mediaerr.New(mediaerr.KindUnsupportedFormat, op, "no extraction path for this container")
	}
}

// passthrough re-emits every sample's bytes unchanged — the shape for
// MP3/MP2 (self-delimiting frames) and for a source that's already in
// the target output container (OGG).
func passthrough(ctx context.Context, d Demuxer, trackID int, w io.Writer) error {
	return d.Extract(ctx, trackID, func(s sample.Sample) error {
		if _, err := w.Write(s.Data); err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "writing sample", err)
		}
		return nil
	})
}

// extractAAC wraps each raw access unit in a 7-byte ADTS header (spec
// §4.9, §4.10). Used both for MP4/MKV tracks (whose samples are raw
// access units) and for a raw-AAC source (whose demuxer strips the
// ADTS header it finds so Extract always yields raw access units).
func extractAAC(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	aot := stream.AACObjectType
	if aot == 0 {
		aot = mediainfo.AACObjectLC
	}
	framer, err := adts.NewFramer(stream.SampleRate, stream.ChannelCount, aot)
	if err != nil {
		return err
	}
	return d.Extract(ctx, stream.ID, func(s sample.Sample) error {
		framed, err := framer.Wrap(s.Data)
		if err != nil {
			return err
		}
		if _, err := w.Write(framed); err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "writing ADTS frame", err)
		}
		return nil
	})
}

// extractByCodec handles the containers whose codec mix is broad enough
// to need a per-codec switch (spec §4.9 step 2: MP4/MOV, Matroska/WebM).
func extractByCodec(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	switch stream.Codec {
	case "aac":
		return extractAAC(ctx, d, stream, w)
	case "mp3", "mp2":
		return passthrough(ctx, d, stream.ID, w)
	case "opus":
		return extractOpus(ctx, d, stream, w)
	case "vorbis":
		return extractVorbis(ctx, d, stream, w)
	case "pcm_s16le", "pcm_s16be", "pcm_u8", "pcm_alaw", "pcm_mulaw":
		return extractPCMFromInfo(ctx, d, stream, w)
	default:
		return mediaerr.New(mediaerr.KindUnsupportedCodec, op, "no output shaping for this codec from this container")
	}
}

// extractMPEGTS handles MPEG-TS's codec mix like extractByCodec, except
// AAC: the PES-layer split already keeps each access unit's ADTS header
// intact (spec §4.9 step 2 footnote), so it's passthrough here instead
// of a second wrap through extractAAC.
func extractMPEGTS(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	switch stream.Codec {
	case "aac":
		return passthrough(ctx, d, stream.ID, w)
	case "mp3", "mp2":
		return passthrough(ctx, d, stream.ID, w)
	default:
		return mediaerr.New(mediaerr.KindUnsupportedCodec, op, "no output shaping for this codec from MPEG-TS")
	}
}

// extractOpus buffers one frame behind the live stream so the final
// page emitted can carry the EOS flag (spec §4.11's header-type-flag
// 0x04), since the muxer has no way to know a frame is last until
// Extract signals completion.
func extractOpus(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	serial, err := randomSerial()
	if err != nil {
		return err
	}
	muxer, headers := oggmux.NewOpusMuxer(serial, stream.CodecPrivate)
	for _, pg := range headers {
		if _, err := w.Write(pg); err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "writing OGG header page", err)
		}
	}
	return pageFrames(ctx, d, stream.ID, muxer, w)
}

func extractVorbis(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	serial, err := randomSerial()
	if err != nil {
		return err
	}
	muxer, headers, err := oggmux.NewVorbisMuxer(serial, stream.CodecPrivate)
	if err != nil {
		return err
	}
	for _, pg := range headers {
		if _, err := w.Write(pg); err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "writing OGG header page", err)
		}
	}
	return pageFrames(ctx, d, stream.ID, muxer, w)
}

func pageFrames(ctx context.Context, d Demuxer, trackID int, muxer *oggmux.Muxer, w io.Writer) error {
	var pending []byte
	flush := func(eos bool) error {
		if pending == nil {
			return nil
		}
		pg := muxer.WriteFrame(pending, eos)
		pending = nil
		if _, err := w.Write(pg); err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "writing OGG data page", err)
		}
		return nil
	}
	err := d.Extract(ctx, trackID, func(s sample.Sample) error {
		if err := flush(false); err != nil {
			return err
		}
		pending = append([]byte(nil), s.Data...)
		return nil
	})
	if err != nil {
		return err
	}
	return flush(true)
}

func randomSerial() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, mediaerr.Wrap(mediaerr.KindIO, op, "generating OGG stream serial", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// extractAVI routes AVI's two supported output shapes (spec §4.9 step
// 2): PCM/ADPCM through the WAV writer, MP3 passthrough. Every other
// codec (AAC, WMA, AC-3 carried in AVI) has no reframing path.
func extractAVI(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	switch stream.Codec {
	case "mp3":
		return passthrough(ctx, d, stream.ID, w)
	case "pcm_s16le", "pcm_s16be", "pcm_u8", "pcm_alaw", "pcm_mulaw", "adpcm_ms", "adpcm_ima":
		return extractPCMFromInfo(ctx, d, stream, w)
	default:
		return mediaerr.New(mediaerr.KindUnsupportedCodec, op, "AVI audio codec has no extraction path")
	}
}

// extractWAV rebuilds a WAV file from the source's PCM/ADPCM data (spec
// §4.9 step 2 "WAV → passthrough" resolves, per §4.9 step 3 and §8
// invariant 2, to re-deriving a valid WAV header rather than emitting
// headerless bytes — a raw data chunk alone would not itself be
// probeable).
func extractWAV(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	return extractPCMFromInfo(ctx, d, stream, w)
}

// extractPCMFromInfo buffers every payload, then emits a WAV file whose
// fmt chunk is rebuilt from the probed stream descriptor (spec §4.13).
func extractPCMFromInfo(ctx context.Context, d Demuxer, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	blockAlign := stream.BlockAlign
	if blockAlign == 0 {
		blockAlign = wavmux.BlockAlign(stream.ChannelCount, stream.BitsPerSample)
	}
	samplesPerBlock := stream.SamplesPerBlock
	byteRate := wavmux.ByteRatePCM(stream.SampleRate, blockAlign)
	if mediainfo.IsADPCMFormatTag(stream.FormatTag) && samplesPerBlock > 0 {
		byteRate = wavmux.ByteRateADPCM(stream.SampleRate, blockAlign, samplesPerBlock)
	}

	formatTag := stream.FormatTag
	if formatTag == 0 {
		formatTag = 0x0001 // PCM
	}

	fmtEx := riff.WaveFormatEx{
		FormatTag:      formatTag,
		Channels:       uint16(stream.ChannelCount),
		SamplesPerSec:  uint32(stream.SampleRate),
		AvgBytesPerSec: uint32(byteRate),
		BlockAlign:     uint16(blockAlign),
		BitsPerSample:  uint16(stream.BitsPerSample),
	}

	writer := wavmux.NewWriter(fmtEx, uint16(samplesPerBlock))
	err := d.Extract(ctx, stream.ID, func(s sample.Sample) error {
		writer.Write(s.Data)
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(writer.Finish()); err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "writing WAV output", err)
	}
	return nil
}

// extractASF repackages an ASF/WMA stream into a new single-stream ASF
// file (spec §4.9, §4.12).
func extractASF(ctx context.Context, d Demuxer, info *mediainfo.MediaInfo, stream mediainfo.AudioStreamInfo, w io.Writer) error {
	var codecPrivate, extStreamProps []byte
	if info.AdditionalStreamInfo != nil {
		if extra, ok := info.AdditionalStreamInfo[stream.ID]; ok {
			codecPrivate = extra.CodecPrivate
			extStreamProps = extra.ExtendedStreamPropertiesRaw
		}
	}

	fmtEx := riff.WaveFormatEx{
		FormatTag:      stream.FormatTag,
		Channels:       uint16(stream.ChannelCount),
		SamplesPerSec:  uint32(stream.SampleRate),
		AvgBytesPerSec: uint32(stream.Bitrate / 8),
		BlockAlign:     uint16(stream.BlockAlign),
		BitsPerSample:  uint16(stream.BitsPerSample),
		CbSize:         uint16(len(codecPrivate)),
		Extra:          codecPrivate,
	}

	var playDurationHNS, sendDurationHNS, prerollMS uint64
	var maxBitrate uint32
	if info.FileProperties != nil {
		playDurationHNS = info.FileProperties.PlayDurationHNS
		sendDurationHNS = info.FileProperties.SendDurationHNS
		prerollMS = info.FileProperties.PrerollMS
		maxBitrate = info.FileProperties.MaxBitrate
	}

	writer := asfmux.NewWriter(stream.ID, fmtEx, playDurationHNS, sendDurationHNS, prerollMS, maxBitrate, extStreamProps)
	err := d.Extract(ctx, stream.ID, func(s sample.Sample) error {
		writer.WritePayload(s)
		return nil
	})
	if err != nil {
		return err
	}
	out, err := writer.Finish()
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "writing ASF output", err)
	}
	return nil
}
