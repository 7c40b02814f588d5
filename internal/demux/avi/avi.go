// Package avi demuxes RIFF AVI files (spec §4.5): an hdrl LIST
// describing one strl per stream, followed by a movi LIST holding the
// interleaved stream-numbered data chunks.
package avi

import (
	"context"
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/riff"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "avi"

type streamKind int

const (
	streamUnknown streamKind = iota
	streamVideo
	streamAudio
)

type aviStream struct {
	index         int
	kind          streamKind
	codec         string
	codecDetail   string
	width, height int
	fourCC        string
	fmtEx         riff.WaveFormatEx
	scale, rate   uint32 // dwScale/dwRate from strh: rate/scale = frames (or samples) per second
}

// Demuxer walks an AVI RIFF tree.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	streams  []*aviStream
	moviSeen bool
}

// Detect reports whether peek starts with "RIFF....AVI " (spec §4.1
// step 1 — AVI is checked before generic WAVE since both share the
// RIFF magic).
func Detect(peek []byte) bool {
	return len(peek) >= 12 && string(peek[0:4]) == "RIFF" && string(peek[8:12]) == "AVI "
}

// New constructs an AVI demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults()}
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

func skipPad(ctx context.Context, rv *bitio.Reservoir, size uint32) error {
	if !riff.PadByte(size) {
		return nil
	}
	_, err := readN(ctx, rv, 1)
	return err
}

// Probe walks top-level RIFF chunks until the movi LIST is reached,
// parsing the hdrl LIST (buffered whole, bounded by
// opts.Limits.MaxHeaderObjectSize) along the way.
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	hdr, err := riff.ReadChunkHeader(ctx, d.rv, op)
	if err != nil {
		return nil, err
	}
	if hdr.ID != "RIFF" {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "missing RIFF chunk")
	}
	form, err := readN(ctx, d.rv, 4)
	if err != nil {
		return nil, err
	}
	if string(form) != "AVI " {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "RIFF form type is not AVI")
	}

	for !d.moviSeen {
		ch, err := riff.ReadChunkHeader(ctx, d.rv, op)
		if err != nil {
			return nil, err
		}
		switch ch.ID {
		case "LIST":
			listType, err := readN(ctx, d.rv, 4)
			if err != nil {
				return nil, err
			}
			bodySize := int64(ch.Size) - 4
			if bodySize < 0 {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "LIST size smaller than its type tag")
			}
			switch string(listType) {
			case "hdrl":
				if d.opts.Limits.MaxHeaderObjectSize > 0 && bodySize > d.opts.Limits.MaxHeaderObjectSize {
					return nil, mediaerr.New(mediaerr.KindMalformed, op, "hdrl LIST exceeds configured size limit")
				}
				body, err := readN(ctx, d.rv, int(bodySize))
				if err != nil {
					return nil, err
				}
				if err := d.parseHdrl(body); err != nil {
					return nil, err
				}
			case "movi":
				d.moviSeen = true
				// The movi LIST's payload (stream chunks) follows
				// immediately; Extract reads it directly off the live
				// reservoir, so we deliberately do not consume it here.
			default:
				if _, err := d.rv.Skip(ctx, bodySize); err != nil {
					return nil, mediaerr.Wrap(mediaerr.KindIO, op, "skipping LIST body", err)
				}
			}
		default:
			if _, err := d.rv.Skip(ctx, int64(ch.Size)); err != nil {
				return nil, mediaerr.Wrap(mediaerr.KindIO, op, "skipping chunk", err)
			}
			if err := skipPad(ctx, d.rv, ch.Size); err != nil {
				return nil, err
			}
		}
	}

	// Duration would come from strh.dwLength (frame/sample count), which
	// this parser does not track; left unreported rather than guessed.
	info := &mediainfo.MediaInfo{Container: mediainfo.ContainerAVI}
	for _, s := range d.streams {
		switch s.kind {
		case streamVideo:
			info.VideoStreams = append(info.VideoStreams, mediainfo.VideoStreamInfo{
				ID:          s.index,
				Codec:       s.codec,
				CodecDetail: s.codecDetail,
				Width:       s.width,
				Height:      s.height,
			})
		case streamAudio:
			info.AudioStreams = append(info.AudioStreams, mediainfo.AudioStreamInfo{
				ID:              s.index,
				Codec:           s.codec,
				CodecDetail:     s.codecDetail,
				ChannelCount:    int(s.fmtEx.Channels),
				SampleRate:      int(s.fmtEx.SamplesPerSec),
				BitsPerSample:   int(s.fmtEx.BitsPerSample),
				Bitrate:         int64(s.fmtEx.AvgBytesPerSec) * 8,
				FormatTag:       s.fmtEx.FormatTag,
				BlockAlign:      int(s.fmtEx.BlockAlign),
				SamplesPerBlock: mediainfo.ADPCMSamplesPerBlock(s.fmtEx.Extra),
			})
		}
	}
	return info, nil
}

// parseHdrl walks the buffered hdrl LIST body for strl LISTs, one per
// stream, in stream-index order (spec §4.5: AVI numbers streams by
// their position among strl LISTs, not by any field inside them).
func (d *Demuxer) parseHdrl(body []byte) error {
	off := 0
	for off+8 <= len(body) {
		id := string(body[off : off+4])
		size := binary.LittleEndian.Uint32(body[off+4 : off+8])
		off += 8
		if off+int(size) > len(body) {
			return mediaerr.New(mediaerr.KindMalformed, op, "truncated hdrl chunk")
		}
		chunkBody := body[off : off+int(size)]

		if id == "LIST" && len(chunkBody) >= 4 && string(chunkBody[0:4]) == "strl" {
			s, err := parseStrl(chunkBody[4:], len(d.streams))
			if err != nil {
				return err
			}
			d.streams = append(d.streams, s)
		}

		off += int(size)
		if size&1 == 1 {
			off++
		}
	}
	return nil
}

// parseStrl walks one strl LIST's body (strh, strf, and optional
// strd/strn, in any order per the format but conventionally strh then
// strf) into a stream description.
func parseStrl(body []byte, index int) (*aviStream, error) {
	s := &aviStream{index: index}
	off := 0
	for off+8 <= len(body) {
		id := string(body[off : off+4])
		size := binary.LittleEndian.Uint32(body[off+4 : off+8])
		off += 8
		if off+int(size) > len(body) {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated strl chunk")
		}
		chunkBody := body[off : off+int(size)]

		switch id {
		case "strh":
			if len(chunkBody) < 24 {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "short strh chunk")
			}
			fccType := string(chunkBody[0:4])
			fccHandler := string(chunkBody[4:8])
			s.scale = binary.LittleEndian.Uint32(chunkBody[20:24])
			if len(chunkBody) >= 28 {
				s.rate = binary.LittleEndian.Uint32(chunkBody[24:28])
			}
			switch fccType {
			case "vids":
				s.kind = streamVideo
				s.fourCC = fccHandler
				s.codec = videoCodecForFourCC(fccHandler)
			case "auds":
				s.kind = streamAudio
			}
		case "strf":
			switch s.kind {
			case streamVideo:
				if len(chunkBody) >= 20 {
					s.width = int(int32(binary.LittleEndian.Uint32(chunkBody[4:8])))
					s.height = int(int32(binary.LittleEndian.Uint32(chunkBody[8:12])))
					if len(chunkBody) >= 20 {
						biCompression := string(chunkBody[16:20])
						if s.codec == "" || s.codec == "unknown" {
							s.codec = videoCodecForFourCC(biCompression)
						}
						s.codecDetail = biCompression
					}
				}
			case streamAudio:
				w, err := riff.ParseWaveFormatEx(chunkBody)
				if err != nil {
					return nil, err
				}
				s.fmtEx = w
				switch {
				case w.FormatTag == 0x0001:
					s.codec = mediainfo.PCMCodecForBitsPerSample(int(w.BitsPerSample))
				default:
					if c, ok := mediainfo.AVIFormatTag(w.FormatTag); ok {
						s.codec = c
					} else {
						s.codec = mediainfo.PCMCodecForBitsPerSample(int(w.BitsPerSample))
					}
				}
			}
		}

		off += int(size)
		if size&1 == 1 {
			off++
		}
	}
	return s, nil
}

func videoCodecForFourCC(fourCC string) string {
	switch fourCC {
	case "H264", "h264", "X264", "x264", "avc1":
		return "h264"
	case "HEVC", "hevc", "H265", "h265", "hvc1":
		return "h265"
	case "XVID", "xvid", "DIVX", "divx", "DX50":
		return "mpeg4"
	case "MJPG", "mjpg":
		return "mjpeg"
	case "\x00\x00\x00\x00":
		return "rawvideo"
	default:
		return "unknown"
	}
}

func (d *Demuxer) findStream(index int) *aviStream {
	for _, s := range d.streams {
		if s.index == index {
			return s
		}
	}
	return nil
}

// Extract walks the movi LIST's chunks forward, emitting the payload of
// every chunk whose stream-number prefix matches trackID (spec §4.5:
// chunk IDs are "NNxx" where NN is the two-digit stream number).
// "rec " sub-lists, used by some interleaved-optimized files, are
// descended into transparently.
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	st := d.findStream(trackID)
	if st == nil {
		return mediaerr.New(mediaerr.KindNotFound, op, "no stream with that index")
	}

	sampleIndex := int64(0)
	return d.walkMovi(ctx, trackID, st, &sampleIndex, cb)
}

func (d *Demuxer) walkMovi(ctx context.Context, trackID int, st *aviStream, sampleIndex *int64, cb sample.Callback) error {
	for {
		ok, err := d.rv.Ensure(ctx, 8)
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading movi chunk header", err)
		}
		if !ok {
			return nil
		}
		ch, err := riff.ReadChunkHeader(ctx, d.rv, op)
		if err != nil {
			return err
		}

		if ch.ID == "LIST" {
			listType, err := readN(ctx, d.rv, 4)
			if err != nil {
				return err
			}
			if string(listType) == "rec " {
				if err := d.walkMovi(ctx, trackID, st, sampleIndex, cb); err != nil {
					return err
				}
				continue
			}
			if _, err := d.rv.Skip(ctx, int64(ch.Size)-4); err != nil {
				return mediaerr.Wrap(mediaerr.KindIO, op, "skipping nested LIST in movi", err)
			}
			if err := skipPad(ctx, d.rv, ch.Size); err != nil {
				return err
			}
			continue
		}

		if ch.ID == "idx1" {
			// The legacy index trails movi; reaching it ends this track's
			// forward walk.
			return nil
		}

		if !streamChunkMatches(ch.ID, trackID) {
			if _, err := d.rv.Skip(ctx, int64(ch.Size)); err != nil {
				return mediaerr.Wrap(mediaerr.KindIO, op, "skipping chunk", err)
			}
			if err := skipPad(ctx, d.rv, ch.Size); err != nil {
				return err
			}
			continue
		}

		data, err := readN(ctx, d.rv, int(ch.Size))
		if err != nil {
			return err
		}
		if err := skipPad(ctx, d.rv, ch.Size); err != nil {
			return err
		}

		timeSeconds := 0.0
		if st.rate > 0 && st.scale > 0 {
			timeSeconds = float64(*sampleIndex) * float64(st.scale) / float64(st.rate)
		}
		*sampleIndex++

		// Per-chunk keyframe flags live in idx1, which trails movi; this
		// single forward pass never reads it, so every chunk is reported
		// as a keyframe rather than guessing.
		if err := cb(sample.Sample{Data: data, TrackID: trackID, Time: timeSeconds, IsKeyframe: true}); err != nil {
			return err
		}
	}
}

// streamChunkMatches reports whether a movi chunk ID ("NNxx") belongs
// to the given stream index.
func streamChunkMatches(id string, trackID int) bool {
	if len(id) != 4 {
		return false
	}
	hi := decimalDigit(id[0])
	lo := decimalDigit(id[1])
	if hi < 0 || lo < 0 {
		return false
	}
	return hi*10+lo == trackID
}

func decimalDigit(b byte) int {
	if b >= '0' && b <= '9' {
		return int(b - '0')
	}
	return -1
}
