// Package mpegts demuxes MPEG transport streams (spec §4.7). astits
// does the 188-byte packet framing, PAT/PMT parsing, and PES
// reassembly; this package layers PID bookkeeping, stream
// classification and Sample emission on top of it, the way
// internal/daemon/ts_demuxer.go layers daemon semantics over a packet
// library.
package mpegts

import (
	"context"
	"errors"
	"io"

	"github.com/asticode/go-astits"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "mpegts"

const (
	packetSize     = 188
	bdavPacketSize = 192
	bdavPrefix     = 4
)

var videoCodecs = map[string]bool{
	"mpeg1video": true,
	"mpeg2video": true,
	"h264":       true,
	"h265":       true,
}

type tsStream struct {
	pid   int
	video bool
	codec string
}

// Demuxer walks PAT/PMT/PES data from an astits.Demuxer fed through the
// shared reservoir.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	dmx *astits.Demuxer

	audioStreams []*tsStream // ascending PID order (spec §5.6 supplement)
	videoStreams []*tsStream
}

// Detect reports whether peek looks like an MPEG-TS stream: sync byte
// 0x47 at offset 0 (188-byte packets), confirmed one packet later, or
// at offset 4 for the 192-byte BDAV/M2TS variant (spec §4.7, §4.1 step
// 7).
func Detect(peek []byte) bool {
	if len(peek) >= packetSize*2 && peek[0] == 0x47 && peek[packetSize] == 0x47 {
		return true
	}
	if len(peek) > bdavPrefix+bdavPacketSize && peek[bdavPrefix] == 0x47 && peek[bdavPrefix+bdavPacketSize] == 0x47 {
		return true
	}
	return false
}

// New constructs an MPEG-TS demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults()}
}

// reservoirReader adapts the shared Reservoir to io.Reader so astits,
// which owns its own internal buffering, can pull from the same
// single-pass forward source every other demuxer in this module uses.
type reservoirReader struct {
	ctx context.Context
	rv  *bitio.Reservoir
}

func (r reservoirReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ok, err := r.rv.Ensure(r.ctx, 1)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, io.EOF
	}
	n := len(p)
	if avail := r.rv.Available(); avail < n {
		n = avail
	}
	copy(p, r.rv.Peek(n))
	r.rv.Advance(n)
	return n, nil
}

// bdavReader strips the 4-byte timestamp prefix BDAV/M2TS adds to every
// 192-byte packet, presenting astits with a clean 188-byte-aligned
// stream (spec §4.7 "strip 4-byte timestamp header").
type bdavReader struct {
	src     io.Reader
	pending []byte
}

func (r *bdavReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		chunk := make([]byte, bdavPacketSize)
		if _, err := io.ReadFull(r.src, chunk); err != nil {
			return 0, err
		}
		r.pending = chunk[bdavPrefix:]
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (d *Demuxer) openAstits(ctx context.Context) error {
	ok, err := d.rv.Ensure(ctx, bdavPrefix+bdavPacketSize)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "probing packet size", err)
	}
	isBDAV := false
	if ok {
		peek := d.rv.Peek(bdavPrefix + bdavPacketSize)
		isBDAV = peek[0] != 0x47 && peek[bdavPrefix] == 0x47
	}

	var src io.Reader = reservoirReader{ctx: ctx, rv: d.rv}
	if isBDAV {
		src = &bdavReader{src: src}
	}
	// Packet size is left to astits' own auto-detection: once the BDAV
	// prefix is stripped above, the stream is uniform 188-byte packets
	// either way.
	d.dmx = astits.NewDemuxer(ctx, src)
	return nil
}

// Probe reads forward until PAT and PMT have both been seen, building
// the audio/video stream list. No duration is reported (spec §4.7:
// "No duration (probe returns undefined)").
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	if err := d.openAstits(ctx); err != nil {
		return nil, err
	}

	var pmtPID uint16
	patSeen, pmtSeen := false, false
	for !pmtSeen {
		data, err := d.dmx.NextData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, mediaerr.New(mediaerr.KindMalformed, op, "stream ended before a PMT was found")
			}
			return nil, mediaerr.Wrap(mediaerr.KindMalformed, op, "demuxing MPEG-TS packets", err)
		}
		if data.PAT != nil {
			for _, p := range data.PAT.Programs {
				if p.ProgramNumber == 0 {
					continue // network PID entry, not a program
				}
				patSeen = true
				pmtPID = p.ProgramMapID
				break
			}
		}
		if data.PMT != nil && patSeen && data.PID == pmtPID {
			pmtSeen = true
			d.buildStreamList(data.PMT)
		}
	}

	info := &mediainfo.MediaInfo{Container: mediainfo.ContainerMPEGTS}
	for _, s := range d.audioStreams {
		info.AudioStreams = append(info.AudioStreams, mediainfo.AudioStreamInfo{ID: s.pid, Codec: s.codec})
	}
	for _, s := range d.videoStreams {
		info.VideoStreams = append(info.VideoStreams, mediainfo.VideoStreamInfo{ID: s.pid, Codec: s.codec})
	}
	return info, nil
}

func (d *Demuxer) buildStreamList(pmt *astits.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		codec, ok := mediainfo.MPEGTSStreamType(uint8(es.StreamType))
		if !ok {
			continue
		}
		s := &tsStream{pid: int(es.ElementaryPID), codec: codec, video: videoCodecs[codec]}
		if s.video {
			d.videoStreams = append(d.videoStreams, s)
		} else {
			d.audioStreams = append(d.audioStreams, s)
		}
	}
	// Ascending PID order, per the multiple-audio-PIDs supplement.
	for i := 1; i < len(d.audioStreams); i++ {
		for j := i; j > 0 && d.audioStreams[j-1].pid > d.audioStreams[j].pid; j-- {
			d.audioStreams[j-1], d.audioStreams[j] = d.audioStreams[j], d.audioStreams[j-1]
		}
	}
}

func (d *Demuxer) findAudioStream(pid int) *tsStream {
	for _, s := range d.audioStreams {
		if s.pid == pid {
			return s
		}
	}
	return nil
}

// Extract streams PES packets for the audio elementary stream whose
// PID equals trackID — MPEG-TS has no separate track-index concept, so
// the PID doubles as the track identifier.
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	st := d.findAudioStream(trackID)
	if st == nil {
		return mediaerr.New(mediaerr.KindNotFound, op, "no audio stream with that PID")
	}

	for {
		data, err := d.dmx.NextData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return mediaerr.Wrap(mediaerr.KindMalformed, op, "demuxing MPEG-TS packets", err)
		}
		if data.PES == nil || int(data.PID) != trackID {
			continue
		}
		if err := d.emitPES(st, data.PES, cb); err != nil {
			return err
		}
	}
}

func (d *Demuxer) emitPES(st *tsStream, pes *astits.PESData, cb sample.Callback) error {
	timeSeconds := 0.0
	if pes.Header != nil && pes.Header.OptionalHeader != nil && pes.Header.OptionalHeader.PTS != nil {
		timeSeconds = float64(pes.Header.OptionalHeader.PTS.Base) / 90000
	}

	frames := [][]byte{pes.Data}
	if st.codec == "aac" {
		// AAC-ADTS access units are self-delimiting; a single PES
		// packet can carry more than one, so split on the syncword
		// instead of assuming one frame per packet.
		if split := splitADTSFrames(pes.Data); split != nil {
			frames = split
		}
	}

	for _, f := range frames {
		if err := cb(sample.Sample{
			Data:       f,
			TrackID:    st.pid,
			Time:       timeSeconds,
			IsKeyframe: true, // audio access units carry no separate keyframe concept
		}); err != nil {
			return err
		}
	}
	return nil
}

// splitADTSFrames walks consecutive ADTS frames in data using each
// frame's own length field, returning nil if data doesn't start with a
// valid ADTS syncword (caller then falls back to one frame per PES
// packet).
func splitADTSFrames(data []byte) [][]byte {
	var frames [][]byte
	for off := 0; off+7 <= len(data); {
		if data[off] != 0xFF || data[off+1]&0xF0 != 0xF0 {
			break
		}
		frameLen := (int(data[off+3]&0x03) << 11) | (int(data[off+4]) << 3) | (int(data[off+5]) >> 5)
		if frameLen < 7 || off+frameLen > len(data) {
			break
		}
		frames = append(frames, data[off:off+frameLen])
		off += frameLen
	}
	if len(frames) == 0 {
		return nil
	}
	return frames
}
