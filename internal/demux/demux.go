// Package demux selects a container-specific Demuxer by sniffing the
// first bytes of a source (spec §4.1), in the priority order the spec
// lists: RIFF AVI before RIFF WAVE (both share the "RIFF" magic, so the
// form tag decides between them), then ISOBMFF, EBML, ASF, MPEG-TS,
// OGG, and finally the two raw elementary formats.
package demux

import (
	"context"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/asf"
	"github.com/jmylchreest/media-extract/internal/demux/avi"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/demux/mkv"
	"github.com/jmylchreest/media-extract/internal/demux/mp4"
	"github.com/jmylchreest/media-extract/internal/demux/mpegts"
	"github.com/jmylchreest/media-extract/internal/demux/oggdemux"
	"github.com/jmylchreest/media-extract/internal/demux/rawaac"
	"github.com/jmylchreest/media-extract/internal/demux/rawmp3"
	"github.com/jmylchreest/media-extract/internal/demux/wavdemux"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "demux"

// sniffWindow is how many leading bytes every Detect function is handed.
// The largest detector (MPEG-TS, confirming two packets) needs just
// under 2*192 bytes; round up generously so future detectors have room.
const sniffWindow = 4096

// Demuxer is the interface every container package in this module
// implements; New<Format> constructors are adapted to it below.
type Demuxer interface {
	Probe(ctx context.Context) (*mediainfo.MediaInfo, error)
	Extract(ctx context.Context, trackID int, cb sample.Callback) error
}

type detector struct {
	name   string
	detect func(peek []byte) bool
	build  func(rv *bitio.Reservoir, opts config.Options) Demuxer
}

// detectors is evaluated in order; the first match wins. AVI is checked
// before WAV since both are RIFF-form containers distinguished only by
// their form tag, and wavdemux.Detect already restricts itself to
// "WAVE" so either ordering is actually safe — AVI is listed first to
// mirror spec §4.1's stated priority.
var detectors = []detector{
	{"avi", avi.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return avi.New(rv, o) }},
	{"wav", wavdemux.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return wavdemux.New(rv, o) }},
	{"mp4", mp4.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return mp4.New(rv, o) }},
	{"mkv", mkv.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return mkv.New(rv, o) }},
	{"asf", asf.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return asf.New(rv, o) }},
	{"mpegts", mpegts.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return mpegts.New(rv, o) }},
	{"ogg", oggdemux.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return oggdemux.New(rv, o) }},
	{"rawaac", rawaac.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return rawaac.New(rv, o) }},
	{"rawmp3", rawmp3.Detect, func(rv *bitio.Reservoir, o config.Options) Demuxer { return rawmp3.New(rv, o) }},
}

// Open sniffs rv's leading bytes and returns the matching Demuxer,
// already wrapping it, plus a label identifying the format for
// logging. The reservoir has not been advanced past any bytes Detect
// examined: Peek never commits, so the returned Demuxer's Probe sees
// the stream from byte 0.
func Open(ctx context.Context, rv *bitio.Reservoir, opts config.Options) (Demuxer, string, error) {
	ok, err := rv.Ensure(ctx, 1)
	if err != nil {
		return nil, "", mediaerr.Wrap(mediaerr.KindIO, op, "reading source", err)
	}
	if !ok {
		return nil, "", mediaerr.New(mediaerr.KindUnsupportedFormat, op, "empty source")
	}
	// Ensure as much of the sniff window as the source actually has;
	// short sources simply get a shorter peek, which most Detect
	// functions already tolerate via their own length checks.
	window := sniffWindow
	for window > 1 {
		if ok, err := rv.Ensure(ctx, window); err != nil {
			return nil, "", mediaerr.Wrap(mediaerr.KindIO, op, "reading source", err)
		} else if ok {
			break
		}
		window /= 2
	}
	peek := rv.Peek(rv.Available())

	for _, d := range detectors {
		if d.detect(peek) {
			return d.build(rv, opts), d.name, nil
		}
	}
	return nil, "", mediaerr.New(mediaerr.KindUnsupportedFormat, op, "no demuxer recognized this source")
}
