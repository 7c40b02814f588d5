// Package mediaextract is the public entry point for probing a media
// container and extracting its audio track into a standalone file
// (spec §6). It wires internal/bitio, internal/demux, and
// internal/extract behind three functions and a functional-options
// configuration type, the same shape tvarr's pkg/xtream client uses
// for its own constructor.
package mediaextract

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/extract"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
)

const op = "mediaextract"

// Option configures Probe, ExtractAudio, and ExtractAudioFromFileToFile.
type Option func(*options)

type options struct {
	trackID     *int
	streamIndex *int
	onProgress  func(percent int)
	quiet       bool
	logger      *slog.Logger
	limits      config.Limits
}

// WithTrackID selects the audio stream whose ID matches id, overriding
// WithStreamIndex. Fails NotFound if no stream carries that ID.
func WithTrackID(id int) Option {
	return func(o *options) { o.trackID = &id }
}

// WithStreamIndex selects the audio stream at the given 0-based index
// among the source's audio streams. Ignored when WithTrackID is also
// set. Defaults to 0.
func WithStreamIndex(idx int) Option {
	return func(o *options) { o.streamIndex = &idx }
}

// WithOnProgress registers a callback invoked with an estimated
// completion percentage (0-100) as extraction proceeds. The estimate
// is only available when the input's total size can be determined (a
// *os.File or a type implementing Size() int64); otherwise the
// callback fires once at 100 on success. A panicking callback is the
// caller's bug, not ours, but callers should treat it as best-effort
// per spec §7 and avoid blocking work in it.
func WithOnProgress(fn func(percent int)) Option {
	return func(o *options) { o.onProgress = fn }
}

// WithQuiet replaces the logger handed to demuxers with one that
// discards every record. No demuxer in this module writes log records,
// so it changes no output; it has no effect on WithOnProgress.
func WithQuiet(quiet bool) Option {
	return func(o *options) { o.quiet = quiet }
}

// WithLogger sets the *slog.Logger passed to demuxers through
// config.Options; no demuxer in this module writes log records through
// it. Defaults to slog.Default(). Superseded by WithQuiet(true).
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLimits overrides config.DefaultLimits(). Of its fields only
// MaxHeaderObjectSize is enforced, by the ASF and AVI demuxers.
func WithLimits(limits config.Limits) Option {
	return func(o *options) { o.limits = limits }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) configOptions() config.Options {
	co := config.Options{Logger: o.logger, Limits: o.limits}
	if o.quiet {
		co.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return co.WithDefaults()
}

func (o options) extractOptions() extract.Options {
	return extract.Options{TrackID: o.trackID, StreamIndex: o.streamIndex}
}

// Probe inspects r's container and codecs without extracting anything,
// returning the structured result described in spec §3.
func Probe(ctx context.Context, r io.Reader, opts ...Option) (*mediainfo.MediaInfo, error) {
	o := buildOptions(opts)
	rv := bitio.New(r)
	d, _, err := demux.Open(ctx, rv, o.configOptions())
	if err != nil {
		return nil, err
	}
	return d.Probe(ctx)
}

// ExtractAudio probes r, resolves the target audio stream per opts,
// and writes the re-shaped standalone audio file to w (spec §4.9,
// §6). The concrete output format (ADTS, raw MP3 frames, OGG, WAV, or
// ASF) follows from the source container and codec; see spec §6's
// file-format table.
func ExtractAudio(ctx context.Context, r io.Reader, w io.Writer, opts ...Option) error {
	o := buildOptions(opts)

	src := r
	if o.onProgress != nil {
		src = newProgressReader(r, sourceSize(r), o.onProgress)
	}

	rv := bitio.New(src)
	d, container, err := demux.Open(ctx, rv, o.configOptions())
	if err != nil {
		return err
	}
	info, err := d.Probe(ctx)
	if err != nil {
		return err
	}
	stream, err := extract.Select(info, o.extractOptions())
	if err != nil {
		return err
	}
	if err := extract.Run(ctx, container, info, d, stream, w); err != nil {
		return err
	}
	if o.onProgress != nil {
		o.onProgress(100)
	}
	return nil
}

// ExtractAudioFromFileToFile is the file-path convenience wrapper spec
// §6 describes. It opens inPath, truncates/creates outPath, and
// delegates to ExtractAudio.
func ExtractAudioFromFileToFile(ctx context.Context, inPath, outPath string, opts ...Option) error {
	in, err := os.Open(inPath)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "opening input file", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "creating output file", err)
	}
	if err := ExtractAudio(ctx, in, out, opts...); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sizer is implemented by sources that can report their total byte
// length up front without reading it (other than *os.File, which is
// special-cased since it doesn't implement this itself).
type sizer interface{ Size() int64 }

// sourceSize returns r's total byte length, or -1 when it can't be
// determined without consuming r.
func sourceSize(r io.Reader) int64 {
	if f, ok := r.(*os.File); ok {
		if st, err := f.Stat(); err == nil {
			return st.Size()
		}
		return -1
	}
	if s, ok := r.(sizer); ok {
		return s.Size()
	}
	return -1
}

// progressReader reports WithOnProgress updates as bytes flow through
// it, throttled to one call per whole percentage point.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastPct    int
	onProgress func(int)
}

func newProgressReader(r io.Reader, total int64, onProgress func(int)) *progressReader {
	return &progressReader{r: r, total: total, lastPct: -1, onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 99 {
			pct = 99 // ExtractAudio reports the final 100 itself, once output is fully written
		}
		if pct != p.lastPct {
			p.lastPct = pct
			p.onProgress(pct)
		}
	}
	return n, err
}
