// Package config holds the shared per-request options every demuxer
// constructor takes, factored into its own leaf package so that
// concrete demuxer packages (mp4, mkv, avi, asf, mpegts, ...) and the
// top-level dispatch package can both depend on it without an import
// cycle.
package config

import "log/slog"

// Limits holds the reservoir-window, size and nesting bounds handed to
// every parser (spec §5 resource policy); each field's comment says
// which parsers read it.
type Limits struct {
	// ReservoirWindow is the intended compaction window for the byte
	// reservoir. No demuxer or caller in this module reads it; every
	// reservoir is built with bitio's default window.
	ReservoirWindow int

	// MaxHeaderObjectSize bounds each ASF Header Object sub-object and
	// the AVI hdrl LIST, both of which are buffered whole before being
	// parsed. The ISOBMFF moov atom is not checked against it.
	MaxHeaderObjectSize int64

	// MaxAtomDepth is a nesting bound for ISOBMFF/EBML containers. No
	// parser in this module reads it.
	MaxAtomDepth int
}

// DefaultLimits mirrors the defaults spec §5 describes: reservoir sized
// to the largest atomic unit (here generously 1 MiB to comfortably fit
// one moov for a multi-track file), header objects capped at 32 MiB,
// and a nesting depth far beyond any real container.
func DefaultLimits() Limits {
	return Limits{
		ReservoirWindow:     1 << 20,
		MaxHeaderObjectSize: 32 << 20,
		MaxAtomDepth:        64,
	}
}

// Options is passed by value to every demuxer constructor.
type Options struct {
	Logger *slog.Logger
	Limits Limits
}

// Log returns o.Logger, falling back to slog.Default() when unset —
// the same nil-safe accessor pattern tvarr's daemon components use.
func (o Options) Log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// WithDefaults fills zero-valued fields (most importantly Limits) with
// their defaults; call once at the top of Probe/Extract.
func (o Options) WithDefaults() Options {
	if o.Limits == (Limits{}) {
		o.Limits = DefaultLimits()
	}
	return o
}
