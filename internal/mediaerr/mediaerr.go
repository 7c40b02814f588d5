// Package mediaerr defines the error kinds shared across every demuxer and
// muxer in media-extract. Callers distinguish failure modes with
// errors.Is/errors.As rather than string matching.
package mediaerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the recoverable failure modes a probe or extract
// request can end in. None of them are retried internally.
type Kind int

const (
	// KindUnsupportedFormat means probe found no matching demuxer, or the
	// container/codec combination has no extraction path.
	KindUnsupportedFormat Kind = iota
	// KindUnsupportedCodec means the container was recognized but the
	// selected codec cannot be reframed into an output container.
	KindUnsupportedCodec
	// KindMalformed means magic bytes matched but the structure that
	// followed was invalid.
	KindMalformed
	// KindEndOfStream means the input closed before a required section
	// was read.
	KindEndOfStream
	// KindNotFound means trackId/streamIndex did not resolve to a stream.
	KindNotFound
	// KindUnsupportedSampleRate means an ADTS sampling-frequency-index
	// lookup failed.
	KindUnsupportedSampleRate
	// KindFragmentationUnsupported means an ASF payload exceeded the
	// fixed packet size and cannot be split.
	KindFragmentationUnsupported
	// KindIO wraps an underlying source/sink error.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "UnsupportedFormat"
	case KindUnsupportedCodec:
		return "UnsupportedCodec"
	case KindMalformed:
		return "Malformed"
	case KindEndOfStream:
		return "EndOfStream"
	case KindNotFound:
		return "NotFound"
	case KindUnsupportedSampleRate:
		return "UnsupportedSampleRate"
	case KindFragmentationUnsupported:
		return "FragmentationUnsupported"
	case KindIO:
		return "IO"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every package in this
// module. Op names the package whose operation failed (e.g. "mp4",
// "asfmux") for logs; Err, when set, is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, mediaerr.New(KindNotFound, "", "")) style comparisons
// are possible. Callers normally compare against the sentinel Kind
// values directly via Is(err, kind) below instead.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap constructs an *Error that carries an underlying cause.
func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, if err (or something it wraps) is an
// *Error. The second return is false when no *Error is found anywhere in
// the chain, matching errors.As semantics.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err's Kind (anywhere in its chain) matches kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsUnsupportedFormat is the boundary-conversion helper: callers that
// want to fall back to another prober on failure only need this bool,
// not the full Kind enum.
func IsUnsupportedFormat(err error) bool {
	return Is(err, KindUnsupportedFormat)
}
