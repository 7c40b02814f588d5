// Package rawmp3 demuxes a raw MPEG audio elementary stream (MP3/MP2,
// spec §4.8). MPEG frames are self-delimiting so extraction is a
// straight walk: no container framing is added or removed.
package rawmp3

import (
	"context"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "rawmp3"

// Demuxer walks MPEG audio frames (layer I/II/III) by sync.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	sampleRate   int
	channels     int
	bitrate      int
	layer        int
	framesSeen   int64
}

// Detect reports whether peek starts with a valid MP3/MP2 frame sync
// and header (spec §4.1 step 9): 11-bit sync 0x7FF, followed by a
// header whose version/layer/bitrate/samplerate fields all decode.
func Detect(peek []byte) bool {
	if len(peek) < 4 {
		return false
	}
	_, err := parseHeader(peek[:4])
	return err == nil
}

// New constructs a raw MPEG-audio demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults()}
}

type mpegHeader struct {
	versionID    uint8 // 0=2.5, 2=MPEG2, 3=MPEG1 (1 reserved)
	layer        uint8 // 1=III, 2=II, 3=I
	bitrate      int
	sampleRate   int
	padding      uint8
	channels     int
	frameLen     int
}

// bitrateTableKbps[versionGroup][layerIdx][bitrateIndex] in kbps.
// versionGroup: 0 = MPEG1, 1 = MPEG2/2.5. layerIdx: 0=I,1=II,2=III.
var bitrateTableKbps = [2][3][16]int{
	{ // MPEG1
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, -1},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, -1},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1},
	},
	{ // MPEG2/2.5
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, -1},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1},
	},
}

var sampleRateTable = [4][3]int{
	{44100, 22050, 11025}, // versionID 3 (MPEG1), 2 (MPEG2), 0 (MPEG2.5) indexed via helper below
	{48000, 24000, 12000},
	{32000, 16000, 8000},
	{-1, -1, -1},
}

func parseHeader(b []byte) (mpegHeader, error) {
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return mpegHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "bad MPEG audio frame sync")
	}
	versionBits := (b[1] >> 3) & 0x03 // 00=2.5 01=reserved 10=MPEG2 11=MPEG1
	layerBits := (b[1] >> 1) & 0x03   // 00=reserved 01=III 10=II 11=I
	if versionBits == 1 || layerBits == 0 {
		return mpegHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "reserved MPEG version/layer")
	}
	bitrateIdx := (b[2] >> 4) & 0x0F
	sampleRateIdx := (b[2] >> 2) & 0x03
	padding := (b[2] >> 1) & 0x01
	channelMode := (b[3] >> 6) & 0x03

	var versionGroup int
	var srRow int
	switch versionBits {
	case 3: // MPEG1
		versionGroup = 0
		srRow = 0
	case 2: // MPEG2
		versionGroup = 1
		srRow = 1
	case 0: // MPEG2.5
		versionGroup = 1
		srRow = 2
	}
	if sampleRateIdx == 3 {
		return mpegHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "reserved sample-rate index")
	}
	sampleRate := rateFor(srRow, sampleRateIdx)
	if sampleRate <= 0 {
		return mpegHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "invalid sample rate")
	}

	layerIdx := int(3 - layerBits) // layerBits 11=I(idx0) 10=II(idx1) 01=III(idx2)
	if bitrateIdx == 0 || bitrateIdx == 15 {
		return mpegHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "free/reserved bitrate not supported")
	}
	bitrateKbps := bitrateTableKbps[versionGroup][layerIdx][bitrateIdx]
	if bitrateKbps <= 0 {
		return mpegHeader{}, mediaerr.New(mediaerr.KindMalformed, op, "invalid bitrate index for version/layer")
	}
	bitrate := bitrateKbps * 1000

	var frameLen int
	if layerBits == 3 { // layer I
		frameLen = (12*bitrate/sampleRate + int(padding)) * 4
	} else { // layer II or III
		samplesPerFrameFactor := 144
		if versionGroup == 1 && layerBits == 1 { // MPEG2/2.5 layer III
			samplesPerFrameFactor = 72
		}
		frameLen = samplesPerFrameFactor*bitrate/sampleRate + int(padding)
	}

	channels := 2
	if channelMode == 3 {
		channels = 1
	}

	layerName := 1
	switch layerBits {
	case 3:
		layerName = 1
	case 2:
		layerName = 2
	case 1:
		layerName = 3
	}

	return mpegHeader{
		bitrate:    bitrate,
		sampleRate: sampleRate,
		padding:    padding,
		channels:   channels,
		frameLen:   frameLen,
		layer:      uint8(layerName),
	}, nil
}

func rateFor(row int, idx uint8) int {
	// sampleRateTable is laid out [rateGroupIdx][row], rateGroupIdx 0/1/2
	// selects 44100/48000/32000 family member idx selects the row
	// (MPEG1/MPEG2/MPEG2.5).
	switch idx {
	case 0:
		return sampleRateTable[0][row]
	case 1:
		return sampleRateTable[1][row]
	case 2:
		return sampleRateTable[2][row]
	default:
		return -1
	}
}

func (d *Demuxer) codecName() string {
	if d.layer == 3 {
		return "mp3"
	}
	return "mp2"
}

// Probe parses the first frame header to report codec parameters.
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	ok, err := d.rv.Ensure(ctx, 4)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading first frame header", err)
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "stream too short for an MPEG audio header")
	}
	hdr, err := parseHeader(d.rv.Peek(4))
	if err != nil {
		return nil, err
	}
	d.sampleRate = hdr.sampleRate
	d.channels = hdr.channels
	d.bitrate = hdr.bitrate
	d.layer = hdr.layer

	info := &mediainfo.MediaInfo{
		Container: mediainfo.ContainerMP3,
		AudioStreams: []mediainfo.AudioStreamInfo{
			{
				ID:           0,
				Codec:        d.codecName(),
				ChannelCount: hdr.channels,
				SampleRate:   hdr.sampleRate,
				Bitrate:      int64(hdr.bitrate),
			},
		},
	}
	return info, nil
}

// Extract walks every MPEG frame and emits it verbatim (the frame
// already carries its own header, so no reframing is needed before the
// "mp3/mp2 passthrough" path of the extractor writes it straight out).
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	if trackID != 0 {
		return mediaerr.New(mediaerr.KindNotFound, op, "only track 0 exists in a raw MPEG audio stream")
	}
	for {
		ok, err := d.rv.Ensure(ctx, 4)
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading frame header", err)
		}
		if !ok {
			return nil
		}
		hdr, err := parseHeader(d.rv.Peek(4))
		if err != nil {
			return err
		}
		if hdr.frameLen < 4 {
			return mediaerr.New(mediaerr.KindMalformed, op, "implausible MPEG frame length")
		}
		ok, err = d.rv.Ensure(ctx, hdr.frameLen)
		if err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "reading frame body", err)
		}
		if !ok {
			return mediaerr.New(mediaerr.KindEndOfStream, op, "truncated MPEG audio frame")
		}
		frame := d.rv.Take(hdr.frameLen)

		samplesPerFrame := 1152.0
		if hdr.layer == 1 {
			samplesPerFrame = 384
		}
		t := float64(d.framesSeen) * samplesPerFrame / float64(hdr.sampleRate)

		if err := cb(sample.Sample{Data: frame, TrackID: 0, Time: t}); err != nil {
			return err
		}
		d.framesSeen++
	}
}
