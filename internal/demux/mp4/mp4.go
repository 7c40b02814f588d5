package mp4

import (
	"context"
	"sort"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/sample"
)

// bufferedRegion is a chunk of mdat payload captured into memory
// because it arrived before moov was parsed (spec §4.3 mdat-before-moov
// handling) — we don't yet know which of its bytes belong to samples we
// care about, so the whole box is kept.
type bufferedRegion struct {
	start int64
	data  []byte
}

// Demuxer walks an ISOBMFF top-level box sequence.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	tracks   []*track
	buffered []bufferedRegion
	moovSeen bool
}

// Detect reports whether peek looks like an ISOBMFF file: a box size
// followed by "ftyp" (spec §4.1 step 3). MOV/QuickTime files without an
// ftyp (legacy) are out of scope, matching the reference parsers this
// module is grounded on.
func Detect(peek []byte) bool {
	return len(peek) >= 8 && string(peek[4:8]) == "ftyp"
}

// New constructs an ISOBMFF demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults()}
}

func (d *Demuxer) readBoxHeader(ctx context.Context) (boxHeader, error) {
	ok, err := d.rv.Ensure(ctx, 8)
	if err != nil {
		return boxHeader{}, mediaerr.Wrap(mediaerr.KindIO, op, "reading box header", err)
	}
	if !ok {
		return boxHeader{}, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated box header")
	}
	hdr, err := readBoxHeader(d.rv.Peek(8))
	if err != nil {
		return boxHeader{}, mediaerr.Wrap(mediaerr.KindMalformed, op, "decoding box header", err)
	}
	if hdr.headerLen == 16 {
		ok, err := d.rv.Ensure(ctx, 16)
		if err != nil {
			return boxHeader{}, mediaerr.Wrap(mediaerr.KindIO, op, "reading extended box header", err)
		}
		if !ok {
			return boxHeader{}, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated extended box header")
		}
		hdr, _ = readBoxHeader(d.rv.Peek(16))
	}
	return hdr, nil
}

// Probe walks top-level boxes until moov has been found and parsed.
// Any mdat encountered first is buffered in memory so Extract can still
// serve samples from it without rewinding the source.
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	for !d.moovSeen {
		hdr, err := d.readBoxHeader(ctx)
		if err != nil {
			return nil, err
		}
		bodySize := hdr.size - int64(hdr.headerLen)
		if bodySize < 0 {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "box size smaller than its own header")
		}

		switch hdr.typ {
		case typeMoov:
			ok, err := d.rv.Ensure(ctx, int(hdr.headerLen)+int(bodySize))
			if err != nil {
				return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading moov", err)
			}
			if !ok {
				return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated moov box")
			}
			moovBuf := d.rv.Take(hdr.headerLen + int(bodySize))
			tracks, _, err := parseMoov(moovBuf)
			if err != nil {
				return nil, err
			}
			d.tracks = tracks
			d.moovSeen = true
		case typeMdat:
			start := d.rv.Total()
			ok, err := d.rv.Ensure(ctx, int(bodySize))
			if err != nil {
				return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading mdat", err)
			}
			if !ok {
				return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated mdat box")
			}
			payload := d.rv.Take(int(bodySize))
			d.buffered = append(d.buffered, bufferedRegion{start: start, data: payload})
		default:
			if _, err := d.rv.Skip(ctx, bodySize); err != nil {
				return nil, mediaerr.Wrap(mediaerr.KindIO, op, "skipping box", err)
			}
		}
	}

	info := &mediainfo.MediaInfo{Container: mediainfo.ContainerMP4}
	for _, t := range d.tracks {
		dur := trackDurationSeconds(t)
		switch t.kind {
		case trackVideo:
			info.VideoStreams = append(info.VideoStreams, mediainfo.VideoStreamInfo{
				ID:       int(t.id),
				Codec:    t.codec,
				Width:    t.width,
				Height:   t.height,
				Duration: dur,
			})
		case trackAudio:
			info.AudioStreams = append(info.AudioStreams, mediainfo.AudioStreamInfo{
				ID:            int(t.id),
				Codec:         t.codec,
				CodecDetail:   t.codecDetail,
				ChannelCount:  t.channelCount,
				SampleRate:    t.sampleRate,
				Profile:       mediainfo.AACProfileName(t.aacProfile),
				AACObjectType: t.aacProfile,
				Duration:      dur,
			})
		}
	}
	return info, nil
}

func trackDurationSeconds(t *track) float64 {
	if t.timescale == 0 {
		return 0
	}
	return float64(t.duration) / float64(t.timescale)
}

func (d *Demuxer) findTrack(trackID int) *track {
	for _, t := range d.tracks {
		if int(t.id) == trackID {
			return t
		}
	}
	return nil
}

// Extract delivers every sample of the given track, in ascending file
// offset order, reading each either from a buffered mdat region
// captured during Probe or by skipping forward on the live reservoir to
// reach it (spec §8 invariant 9: single forward pass over the source).
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	t := d.findTrack(trackID)
	if t == nil {
		return mediaerr.New(mediaerr.KindNotFound, op, "no track with that ID")
	}
	ordered := append([]mp4Sample(nil), t.samples...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].offset < ordered[j].offset })

	for _, s := range ordered {
		data, err := d.readSampleBytes(ctx, s.offset, int(s.size))
		if err != nil {
			return err
		}
		timeSeconds := 0.0
		if t.timescale > 0 {
			timeSeconds = float64(s.dts) / float64(t.timescale)
		}
		if err := cb(sample.Sample{
			Data:       data,
			TrackID:    trackID,
			Time:       timeSeconds,
			IsKeyframe: s.isSync,
		}); err != nil {
			return err
		}
	}
	return nil
}

// readSampleBytes returns the n bytes at absolute file offset off,
// preferring an already-buffered mdat region and otherwise skipping the
// live reservoir forward to reach it.
func (d *Demuxer) readSampleBytes(ctx context.Context, off int64, n int) ([]byte, error) {
	for _, r := range d.buffered {
		if off >= r.start && off+int64(n) <= r.start+int64(len(r.data)) {
			rel := off - r.start
			return r.data[rel : rel+int64(n)], nil
		}
	}

	cur := d.rv.Total()
	if off < cur {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "sample offset behind current stream position")
	}
	if off > cur {
		if _, err := d.rv.Skip(ctx, off-cur); err != nil {
			return nil, mediaerr.Wrap(mediaerr.KindIO, op, "seeking forward to sample", err)
		}
	}
	ok, err := d.rv.Ensure(ctx, n)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading sample bytes", err)
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated sample data")
	}
	return d.rv.Take(n), nil
}
