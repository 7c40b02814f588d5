// Package bitio provides the streaming byte-reservoir shared by every
// demuxer, plus the big/little-endian primitive readers they all need.
// A Reservoir pulls from an io.Reader on demand, never seeks backward,
// and compacts bytes already consumed so memory stays proportional to
// the largest atomic unit a demuxer must see at once (one ISOBMFF atom
// header, one ASF packet, one Matroska cluster block, one 188-byte
// MPEG-TS packet).
package bitio

import (
	"context"
	"fmt"
	"io"
)

// DefaultWindow bounds how much already-consumed data the reservoir
// keeps around before compacting. It has no bearing on how much data a
// single ensure(n) may request.
const DefaultWindow = 64 * 1024

// Reservoir is the pull-parser scaffolding described in spec §4.2. It is
// single-owner: emitted sample byte slices must be copied by callers
// that need to retain them past the next Ensure/Advance, since the
// underlying buffer may be compacted or overwritten.
type Reservoir struct {
	r      io.Reader
	buf    []byte
	pos    int // read cursor into buf
	total  int64 // bytes ever advanced past (monotonic, never decreases)
	eof    bool
	window int
}

// New wraps r in a Reservoir with the default compaction window.
func New(r io.Reader) *Reservoir {
	return &Reservoir{r: r, window: DefaultWindow}
}

// NewWithWindow wraps r with an explicit compaction window, for
// demuxers whose atomic unit (e.g. an ASF header object) exceeds the
// default. Nothing in this module currently constructs a reservoir
// through it.
func NewWithWindow(r io.Reader, window int) *Reservoir {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reservoir{r: r, window: window}
}

// Ensure blocks (reading from the underlying source, respecting ctx
// cancellation) until at least n bytes are available past the current
// cursor, or returns false at clean EOF with fewer than n bytes ever
// becoming available. A context error is returned as err.
func (rv *Reservoir) Ensure(ctx context.Context, n int) (bool, error) {
	for rv.available() < n {
		if rv.eof {
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		rv.compact()
		if err := rv.fill(ctx); err != nil {
			if err == io.EOF {
				rv.eof = true
				continue
			}
			return false, err
		}
	}
	return true, nil
}

// fill reads one chunk from the underlying reader into buf.
func (rv *Reservoir) fill(ctx context.Context) error {
	const chunk = 32 * 1024
	start := len(rv.buf)
	rv.buf = append(rv.buf, make([]byte, chunk)...)
	n, err := rv.r.Read(rv.buf[start : start+chunk])
	rv.buf = rv.buf[:start+n]
	if n > 0 {
		return nil
	}
	return err
}

// compact discards bytes before the cursor once they exceed window, so
// the buffer never grows unbounded relative to the largest atomic unit
// a demuxer asks Ensure for.
func (rv *Reservoir) compact() {
	if rv.pos == 0 {
		return
	}
	if rv.pos < rv.window && len(rv.buf) < rv.window*4 {
		return
	}
	copy(rv.buf, rv.buf[rv.pos:])
	rv.buf = rv.buf[:len(rv.buf)-rv.pos]
	rv.pos = 0
}

func (rv *Reservoir) available() int { return len(rv.buf) - rv.pos }

// Available reports how many bytes are currently buffered past the
// cursor without blocking for more — used by adapters that hand the
// reservoir to a library expecting a plain io.Reader (e.g. astits).
func (rv *Reservoir) Available() int { return rv.available() }

// Peek returns a slice into the reservoir's internal buffer covering the
// n bytes starting at the cursor. The slice is only valid until the
// next Ensure/Advance call — copy it if it must outlive that.
// Callers must have already called Ensure(ctx, n) successfully.
func (rv *Reservoir) Peek(n int) []byte {
	if rv.available() < n {
		panic(fmt.Sprintf("bitio: Peek(%d) without a preceding successful Ensure", n))
	}
	return rv.buf[rv.pos : rv.pos+n]
}

// Take is Peek followed by Advance(n): it returns an owned copy of the
// next n bytes and moves the cursor past them.
func (rv *Reservoir) Take(n int) []byte {
	out := make([]byte, n)
	copy(out, rv.Peek(n))
	rv.Advance(n)
	return out
}

// Advance moves the read cursor forward by n bytes, which must already
// be available (via a prior Ensure). Total() is updated accordingly;
// Total never decreases, matching the single-pass forward-read
// invariant every demuxer must hold.
func (rv *Reservoir) Advance(n int) {
	if rv.available() < n {
		panic(fmt.Sprintf("bitio: Advance(%d) beyond available %d bytes", n, rv.available()))
	}
	rv.pos += n
	rv.total += int64(n)
}

// Skip discards n bytes from the underlying source without buffering
// them, used for large mdat/data regions a demuxer doesn't need to
// inspect. EOF before n bytes are consumed is not an error: Skip returns
// the number actually skipped with a nil error (spec §4.2
// "variable-length skip, to EOF permitted").
func (rv *Reservoir) Skip(ctx context.Context, n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		want := n - skipped
		step := int64(32 * 1024)
		if want < step {
			step = want
		}
		ok, err := rv.Ensure(ctx, int(step))
		if err != nil {
			return skipped, err
		}
		if !ok {
			avail := int64(rv.available())
			if avail == 0 {
				return skipped, nil
			}
			rv.Advance(int(avail))
			skipped += avail
			continue
		}
		rv.Advance(int(step))
		skipped += step
	}
	return skipped, nil
}

// Total returns the number of bytes the cursor has advanced past since
// the Reservoir was created — a strictly non-decreasing byte counter
// (spec §8 invariant 9: single-pass forward read).
func (rv *Reservoir) Total() int64 { return rv.total }

// AtEOF reports whether the underlying source has signalled a clean EOF
// and no buffered bytes remain.
func (rv *Reservoir) AtEOF() bool { return rv.eof && rv.available() == 0 }
