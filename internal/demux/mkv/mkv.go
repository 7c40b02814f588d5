// Package mkv demuxes Matroska and WebM files (spec §4.4). Both share
// the same EBML element structure; the DocType string in the EBML
// header distinguishes them for reporting purposes only.
package mkv

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/ulikunitz/xz"
)

const op = "mkv"

const (
	compressAlgoZlib = 0
	compressAlgoXZ   = 3 // not part of the official enum; some muxers reuse the header-stripping slot for it
)

// mkvTrack holds what this demuxer needs to know about one TrackEntry.
type mkvTrack struct {
	number        uint64
	trackType     uint64
	codecID       string
	codecPrivate  []byte
	samplingFreq  float64
	channels      uint64
	bitDepth      uint64
	width, height uint64
	zlibCompressed bool
	xzCompressed   bool
}

// Demuxer walks a Matroska/WebM Segment element.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	docType       string
	timestampScale uint64
	durationUnits  float64
	tracks         []*mkvTrack

	inCluster        bool
	clusterTimestamp uint64
}

// Detect reports whether peek starts with the EBML header magic
// 0x1A45DFA3 (spec §4.1 step 4).
func Detect(peek []byte) bool {
	return len(peek) >= 4 && peek[0] == 0x1A && peek[1] == 0x45 && peek[2] == 0xDF && peek[3] == 0xA3
}

// New constructs a Matroska/WebM demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults(), timestampScale: 1000000}
}

// readID reads one EBML element ID, keeping its marker bit (spec
// §4.2's VINT reader with keepMarker=true).
func (d *Demuxer) readID(ctx context.Context) (uint32, error) {
	v, _, _, err := bitio.ReadVInt(ctx, d.rv, op, true)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func vintWidthFromFirstByte(b byte) int {
	if b == 0 {
		return 0
	}
	width := 1
	mask := byte(0x80)
	for mask != 0 && b&mask == 0 {
		mask >>= 1
		width++
	}
	return width
}

// peekID looks at the next element ID without consuming it, so a
// caller that decides the element doesn't belong at this nesting level
// can leave it for an outer loop to read instead — a cluster's children
// aren't size-prefixed as a whole, so this is the only way to detect
// "end of cluster" on a forward-only stream. atEnd is true when there
// is no more data to read at all.
func (d *Demuxer) peekID(ctx context.Context) (id uint32, width int, atEnd bool, err error) {
	ok, err := d.rv.Ensure(ctx, 1)
	if err != nil {
		return 0, 0, false, mediaerr.Wrap(mediaerr.KindIO, op, "peeking element ID", err)
	}
	if !ok {
		return 0, 0, true, nil
	}
	w := vintWidthFromFirstByte(d.rv.Peek(1)[0])
	if w == 0 {
		return 0, 0, false, mediaerr.New(mediaerr.KindMalformed, op, "invalid element ID")
	}
	ok, err = d.rv.Ensure(ctx, w)
	if err != nil {
		return 0, 0, false, mediaerr.Wrap(mediaerr.KindIO, op, "peeking element ID", err)
	}
	if !ok {
		return 0, 0, false, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated element ID")
	}
	v, _ := readVIntFromBytes(d.rv.Peek(w), true)
	return uint32(v), w, false, nil
}

// readSize reads one EBML element size, stripping its marker bit. An
// all-ones value of the VINT's full width means "unknown size" (spec
// §4.4 streaming Cluster/Segment case); known is false in that case.
func (d *Demuxer) readSize(ctx context.Context) (size int64, known bool, err error) {
	v, _, unknown, err := bitio.ReadVInt(ctx, d.rv, op, false)
	if err != nil {
		return 0, false, err
	}
	if unknown {
		return 0, false, nil
	}
	return int64(v), true, nil
}

func (d *Demuxer) readBody(ctx context.Context, n int) ([]byte, error) {
	ok, err := d.rv.Ensure(ctx, n)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading element body", err)
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "truncated element body")
	}
	return d.rv.Take(n), nil
}

func (d *Demuxer) skipBody(ctx context.Context, n int64) error {
	if _, err := d.rv.Skip(ctx, n); err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "skipping element body", err)
	}
	return nil
}

// Probe parses the EBML header and the Segment's metadata elements
// (SegmentInfo and Tracks), skipping Cues/Chapters/Tags/Attachments and
// stopping as soon as the first Cluster is reached (spec §5.3).
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	id, err := d.readID(ctx)
	if err != nil {
		return nil, err
	}
	if id != idEBMLHeader {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "missing EBML header element")
	}
	size, known, err := d.readSize(ctx)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "EBML header may not have unknown size")
	}
	headerBody, err := d.readBody(ctx, int(size))
	if err != nil {
		return nil, err
	}
	d.docType = parseDocType(headerBody)
	if d.docType != "matroska" && d.docType != "webm" {
		return nil, mediaerr.New(mediaerr.KindUnsupportedFormat, op, "unrecognized EBML DocType: "+d.docType)
	}

	segID, err := d.readID(ctx)
	if err != nil {
		return nil, err
	}
	if segID != idSegment {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "expected Segment element")
	}
	if _, _, err := d.readSize(ctx); err != nil {
		return nil, err
	}

	for {
		id, err := d.readID(ctx)
		if err != nil {
			return nil, err
		}
		size, known, err := d.readSize(ctx)
		if err != nil {
			return nil, err
		}

		switch id {
		case idSegmentInfo:
			if !known {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "SegmentInfo may not have unknown size")
			}
			body, err := d.readBody(ctx, int(size))
			if err != nil {
				return nil, err
			}
			d.parseSegmentInfo(body)
		case idTracks:
			if !known {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "Tracks may not have unknown size")
			}
			body, err := d.readBody(ctx, int(size))
			if err != nil {
				return nil, err
			}
			if err := d.parseTracks(body); err != nil {
				return nil, err
			}
		case idCluster:
			d.inCluster = true
			d.clusterTimestamp = 0
			return d.buildMediaInfo(), nil
		case idCues, idChapters, idTags, idAttachments:
			if !known {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "metadata element may not have unknown size")
			}
			if err := d.skipBody(ctx, size); err != nil {
				return nil, err
			}
		default:
			if !known {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "unexpected unknown-size top-level element")
			}
			if err := d.skipBody(ctx, size); err != nil {
				return nil, err
			}
		}
	}
}

func (d *Demuxer) buildMediaInfo() *mediainfo.MediaInfo {
	container := mediainfo.ContainerMKV
	if d.docType == "webm" {
		container = mediainfo.ContainerWebM
	}
	info := &mediainfo.MediaInfo{Container: container}
	if d.timestampScale > 0 && d.durationUnits > 0 {
		seconds := d.durationUnits * float64(d.timestampScale) / 1e9
		info.DurationSeconds = &seconds
	}
	for _, t := range d.tracks {
		switch t.trackType {
		case trackTypeVideo:
			info.VideoStreams = append(info.VideoStreams, mediainfo.VideoStreamInfo{
				ID:     int(t.number),
				Codec:  mediainfo.MatroskaAudioCodec(t.codecID),
				Width:  int(t.width),
				Height: int(t.height),
			})
		case trackTypeAudio:
			codec := mediainfo.MatroskaAudioCodec(t.codecID)
			audio := mediainfo.AudioStreamInfo{
				ID:            int(t.number),
				Codec:         codec,
				CodecDetail:   t.codecID,
				ChannelCount:  int(t.channels),
				SampleRate:    int(t.samplingFreq),
				BitsPerSample: int(t.bitDepth),
			}
			if codec == "aac" {
				audio.AACObjectType = mediainfo.AACObjectTypeForCodecID(t.codecID)
			}
			if codec == "opus" || codec == "vorbis" {
				audio.CodecPrivate = t.codecPrivate
			}
			info.AudioStreams = append(info.AudioStreams, audio)
		}
	}
	return info
}

const idDocType = 0x4282

func parseDocType(header []byte) string {
	for off := 0; off < len(header); {
		id, idw := readVIntFromBytes(header[off:], true)
		if idw == 0 {
			return ""
		}
		off += idw
		sz, szw := readVIntFromBytes(header[off:], false)
		if szw == 0 {
			return ""
		}
		off += szw
		if off+int(sz) > len(header) {
			return ""
		}
		body := header[off : off+int(sz)]
		if id == idDocType {
			return string(bytes.TrimRight(body, "\x00"))
		}
		off += int(sz)
	}
	return ""
}

func (d *Demuxer) parseSegmentInfo(body []byte) {
	for off := 0; off < len(body); {
		id, idw := readVIntFromBytes(body[off:], true)
		if idw == 0 {
			return
		}
		off += idw
		sz, szw := readVIntFromBytes(body[off:], false)
		if szw == 0 {
			return
		}
		off += szw
		if off+int(sz) > len(body) {
			return
		}
		elem := body[off : off+int(sz)]
		switch id {
		case idTimestampScale:
			d.timestampScale = beUint(elem)
		case idDuration:
			d.durationUnits = beFloat(elem)
		}
		off += int(sz)
	}
}

func (d *Demuxer) parseTracks(body []byte) error {
	for off := 0; off < len(body); {
		id, idw := readVIntFromBytes(body[off:], true)
		if idw == 0 {
			return nil
		}
		off += idw
		sz, szw := readVIntFromBytes(body[off:], false)
		if szw == 0 {
			return nil
		}
		off += szw
		if off+int(sz) > len(body) {
			return mediaerr.New(mediaerr.KindMalformed, op, "truncated TrackEntry")
		}
		elem := body[off : off+int(sz)]
		if id == idTrackEntry {
			t, err := parseTrackEntry(elem)
			if err != nil {
				return err
			}
			d.tracks = append(d.tracks, t)
		}
		off += int(sz)
	}
	return nil
}

func parseTrackEntry(body []byte) (*mkvTrack, error) {
	t := &mkvTrack{}
	for off := 0; off < len(body); {
		id, idw := readVIntFromBytes(body[off:], true)
		if idw == 0 {
			break
		}
		off += idw
		sz, szw := readVIntFromBytes(body[off:], false)
		if szw == 0 {
			break
		}
		off += szw
		if off+int(sz) > len(body) {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated TrackEntry child")
		}
		elem := body[off : off+int(sz)]
		switch id {
		case idTrackNumber:
			t.number = beUint(elem)
		case idTrackType:
			t.trackType = beUint(elem)
		case idCodecID:
			t.codecID = string(elem)
		case idCodecPrivate:
			t.codecPrivate = append([]byte(nil), elem...)
		case idAudio:
			parseAudioElement(elem, t)
		case idVideo:
			parseVideoElement(elem, t)
		case idContentEncodings:
			parseContentEncodings(elem, t)
		}
		off += int(sz)
	}
	if t.zlibCompressed && len(t.codecPrivate) > 0 {
		if out, err := inflateZlib(t.codecPrivate); err == nil {
			t.codecPrivate = out
		}
	}
	if t.xzCompressed && len(t.codecPrivate) > 0 {
		if out, err := inflateXZ(t.codecPrivate); err == nil {
			t.codecPrivate = out
		}
	}
	return t, nil
}

func parseAudioElement(body []byte, t *mkvTrack) {
	for off := 0; off < len(body); {
		id, idw := readVIntFromBytes(body[off:], true)
		if idw == 0 {
			return
		}
		off += idw
		sz, szw := readVIntFromBytes(body[off:], false)
		if szw == 0 {
			return
		}
		off += szw
		if off+int(sz) > len(body) {
			return
		}
		elem := body[off : off+int(sz)]
		switch id {
		case idSamplingFreq:
			t.samplingFreq = beFloat(elem)
		case idChannels:
			t.channels = beUint(elem)
		case idBitDepth:
			t.bitDepth = beUint(elem)
		}
		off += int(sz)
	}
}

func parseVideoElement(body []byte, t *mkvTrack) {
	for off := 0; off < len(body); {
		id, idw := readVIntFromBytes(body[off:], true)
		if idw == 0 {
			return
		}
		off += idw
		sz, szw := readVIntFromBytes(body[off:], false)
		if szw == 0 {
			return
		}
		off += szw
		if off+int(sz) > len(body) {
			return
		}
		elem := body[off : off+int(sz)]
		switch id {
		case idPixelWidth:
			t.width = beUint(elem)
		case idPixelHeight:
			t.height = beUint(elem)
		}
		off += int(sz)
	}
}

// parseContentEncodings looks for a zlib or xz CodecPrivate compression
// directive (spec §3 domain stack: ulikunitz/xz for the rare
// xz-compressed case, stdlib compress/zlib for the common one).
func parseContentEncodings(body []byte, t *mkvTrack) {
	for off := 0; off < len(body); {
		id, idw := readVIntFromBytes(body[off:], true)
		if idw == 0 {
			return
		}
		off += idw
		sz, szw := readVIntFromBytes(body[off:], false)
		if szw == 0 {
			return
		}
		off += szw
		if off+int(sz) > len(body) {
			return
		}
		elem := body[off : off+int(sz)]
		if id == idContentEncoding {
			for o2 := 0; o2 < len(elem); {
				id2, idw2 := readVIntFromBytes(elem[o2:], true)
				if idw2 == 0 {
					break
				}
				o2 += idw2
				sz2, szw2 := readVIntFromBytes(elem[o2:], false)
				if szw2 == 0 {
					break
				}
				o2 += szw2
				if o2+int(sz2) > len(elem) {
					break
				}
				sub := elem[o2 : o2+int(sz2)]
				if id2 == idContentCompress {
					for o3 := 0; o3 < len(sub); {
						id3, idw3 := readVIntFromBytes(sub[o3:], true)
						if idw3 == 0 {
							break
						}
						o3 += idw3
						sz3, szw3 := readVIntFromBytes(sub[o3:], false)
						if szw3 == 0 {
							break
						}
						o3 += szw3
						if o3+int(sz3) > len(sub) {
							break
						}
						if id3 == idContentCompAlgo {
							algo := beUint(sub[o3 : o3+int(sz3)])
							if algo == compressAlgoZlib {
								t.zlibCompressed = true
							} else if algo == compressAlgoXZ {
								t.xzCompressed = true
							}
						}
						o3 += int(sz3)
					}
				}
				o2 += int(sz2)
			}
		}
		off += int(sz)
	}
}

func inflateZlib(in []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func inflateXZ(in []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = (v << 8) | uint64(c)
	}
	return v
}

func beFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		bits := uint32(beUint(b))
		return float64(float32FromBits(bits))
	case 8:
		bits := beUint(b)
		return float64FromBits(bits)
	default:
		return 0
	}
}

func (d *Demuxer) findTrack(trackID int) *mkvTrack {
	for _, t := range d.tracks {
		if int(t.number) == trackID {
			return t
		}
	}
	return nil
}

// Extract streams Cluster/Timestamp/SimpleBlock/BlockGroup elements
// forward from wherever Probe left off, emitting the laced-apart frames
// belonging to trackID (spec §4.4, §8 invariant 9).
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	tr := d.findTrack(trackID)
	if tr == nil {
		return mediaerr.New(mediaerr.KindNotFound, op, "no track with that number")
	}

	for {
		if !d.inCluster {
			id, width, atEnd, err := d.peekID(ctx)
			if err != nil {
				return err
			}
			if atEnd {
				return nil
			}
			d.rv.Advance(width)
			size, known, err := d.readSize(ctx)
			if err != nil {
				return err
			}
			switch id {
			case idCluster:
				d.inCluster = true
				d.clusterTimestamp = 0
			default:
				if !known {
					return mediaerr.New(mediaerr.KindMalformed, op, "unexpected unknown-size top-level element")
				}
				if err := d.skipBody(ctx, size); err != nil {
					return err
				}
			}
			continue
		}

		id, width, atEnd, err := d.peekID(ctx)
		if err != nil {
			return err
		}
		if atEnd {
			return nil
		}

		if id != idTimestamp && id != idSimpleBlock && id != idBlockGroup {
			// Not a Cluster child: leave it unconsumed for the
			// top-level loop above to read as the next sibling.
			d.inCluster = false
			continue
		}
		d.rv.Advance(width)

		size, known, err := d.readSize(ctx)
		if err != nil {
			return err
		}
		if !known {
			return mediaerr.New(mediaerr.KindFragmentationUnsupported, op, "unknown-size elements inside Cluster are not supported")
		}
		body, err := d.readBody(ctx, int(size))
		if err != nil {
			return err
		}

		switch id {
		case idTimestamp:
			d.clusterTimestamp = beUint(body)
		case idSimpleBlock:
			if err := d.emitBlock(body, trackID, tr, cb); err != nil {
				return err
			}
		case idBlockGroup:
			if err := d.emitBlockGroup(body, trackID, tr, cb); err != nil {
				return err
			}
		}
	}
}

func (d *Demuxer) emitBlock(block []byte, trackID int, tr *mkvTrack, cb sample.Callback) error {
	num, nw := readVIntFromBytes(block, false)
	if nw == 0 || len(block) < nw+3 {
		return mediaerr.New(mediaerr.KindMalformed, op, "short block header")
	}
	if int(num) != trackID {
		return nil
	}
	ts := int16(uint16(block[nw])<<8 | uint16(block[nw+1]))
	flags := block[nw+2]
	payload := block[nw+3:]

	frames, err := delace(payload, flags&0x06)
	if err != nil {
		return err
	}
	absTimestamp := int64(d.clusterTimestamp) + int64(ts)
	timeSeconds := float64(absTimestamp) * float64(d.timestampScale) / 1e9
	isKey := flags&0x80 != 0
	for _, f := range frames {
		if err := cb(sample.Sample{Data: f, TrackID: trackID, Time: timeSeconds, IsKeyframe: isKey}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Demuxer) emitBlockGroup(group []byte, trackID int, tr *mkvTrack, cb sample.Callback) error {
	for off := 0; off < len(group); {
		id, idw := readVIntFromBytes(group[off:], true)
		if idw == 0 {
			return nil
		}
		off += idw
		sz, szw := readVIntFromBytes(group[off:], false)
		if szw == 0 {
			return nil
		}
		off += szw
		if off+int(sz) > len(group) {
			return nil
		}
		elem := group[off : off+int(sz)]
		if id == idBlock {
			if err := d.emitBlock(elem, trackID, tr, cb); err != nil {
				return err
			}
		}
		off += int(sz)
	}
	return nil
}
