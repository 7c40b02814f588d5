// Package mp4 demuxes ISOBMFF (MP4/MOV) files (spec §4.3).
package mp4

import (
	"encoding/binary"
	"errors"
)

var errShortBox = errors.New("mp4: box header truncated")

// boxType is a 4-byte ISOBMFF box type.
type boxType [4]byte

func (t boxType) String() string { return string(t[:]) }

var (
	typeFtyp = boxType{'f', 't', 'y', 'p'}
	typeMoov = boxType{'m', 'o', 'o', 'v'}
	typeMvhd = boxType{'m', 'v', 'h', 'd'}
	typeTrak = boxType{'t', 'r', 'a', 'k'}
	typeTkhd = boxType{'t', 'k', 'h', 'd'}
	typeMdia = boxType{'m', 'd', 'i', 'a'}
	typeMdhd = boxType{'m', 'd', 'h', 'd'}
	typeHdlr = boxType{'h', 'd', 'l', 'r'}
	typeMinf = boxType{'m', 'i', 'n', 'f'}
	typeStbl = boxType{'s', 't', 'b', 'l'}
	typeStsd = boxType{'s', 't', 's', 'd'}
	typeStts = boxType{'s', 't', 't', 's'}
	typeCtts = boxType{'c', 't', 't', 's'}
	typeStsc = boxType{'s', 't', 's', 'c'}
	typeStsz = boxType{'s', 't', 's', 'z'}
	typeStco = boxType{'s', 't', 'c', 'o'}
	typeCo64 = boxType{'c', 'o', '6', '4'}
	typeStss = boxType{'s', 't', 's', 's'}
	typeMdat = boxType{'m', 'd', 'a', 't'}
	typeUdta = boxType{'u', 'd', 't', 'a'}
	typeMeta = boxType{'m', 'e', 't', 'a'}
	typeAvc1 = boxType{'a', 'v', 'c', '1'}
	typeAvcC = boxType{'a', 'v', 'c', 'C'}
	typeHvc1 = boxType{'h', 'v', 'c', '1'}
	typeHev1 = boxType{'h', 'e', 'v', '1'}
	typeMp4a = boxType{'m', 'p', '4', 'a'}
	typeEsds = boxType{'e', 's', 'd', 's'}
)

var fullBoxTypes = map[boxType]bool{
	typeMvhd: true, typeTkhd: true, typeMdhd: true, typeHdlr: true,
	typeStsd: true, typeStts: true, typeCtts: true, typeStsc: true,
	typeStsz: true, typeStco: true, typeCo64: true, typeStss: true,
	typeMeta: true, typeEsds: true,
}

// boxHeader is a decoded box header (size covers the whole box,
// including the header itself).
type boxHeader struct {
	typ       boxType
	size      int64
	headerLen int
}

// readBoxHeader decodes a box header at the start of b. It handles the
// 64-bit extended-size form (size field == 1) but not size == 0
// ("extends to end of file") — callers resolve that against the
// enclosing box's remaining length.
func readBoxHeader(b []byte) (boxHeader, error) {
	if len(b) < 8 {
		return boxHeader{}, errShortBox
	}
	size := int64(binary.BigEndian.Uint32(b[0:4]))
	var typ boxType
	copy(typ[:], b[4:8])
	headerLen := 8
	if size == 1 {
		if len(b) < 16 {
			return boxHeader{}, errShortBox
		}
		size = int64(binary.BigEndian.Uint64(b[8:16]))
		headerLen = 16
	}
	return boxHeader{typ: typ, size: size, headerLen: headerLen}, nil
}

// boxWalker iterates sibling boxes within a byte slice.
type boxWalker struct {
	buf  []byte
	pos  int
	cur  boxHeader
	body []byte // payload of the current box, after its header
}

func newBoxWalker(buf []byte) *boxWalker { return &boxWalker{buf: buf} }

// next advances to the next sibling box, returning false when the
// buffer is exhausted.
func (w *boxWalker) next() bool {
	if w.pos+8 > len(w.buf) {
		return false
	}
	hdr, err := readBoxHeader(w.buf[w.pos:])
	if err != nil {
		return false
	}
	size := hdr.size
	if size == 0 {
		size = int64(len(w.buf) - w.pos)
	}
	if size < int64(hdr.headerLen) || w.pos+int(size) > len(w.buf) {
		return false
	}
	w.cur = hdr
	bodyStart := w.pos + hdr.headerLen
	bodyEnd := w.pos + int(size)
	w.body = w.buf[bodyStart:bodyEnd]
	w.pos = bodyEnd
	return true
}

func (w *boxWalker) typ() boxType { return w.cur.typ }

// data returns the box payload, skipping the 4-byte version+flags
// header for "full boxes".
func (w *boxWalker) data() []byte {
	if fullBoxTypes[w.cur.typ] && len(w.body) >= 4 {
		return w.body[4:]
	}
	return w.body
}

// rawBox returns the entire box including its header.
func (w *boxWalker) rawBox() []byte {
	start := w.pos - len(w.body) - w.cur.headerLen
	return w.buf[start:w.pos]
}

func (w *boxWalker) version() uint8 {
	if len(w.body) >= 1 {
		return w.body[0]
	}
	return 0
}

// children returns a walker over this box's direct children (the body
// minus any full-box version+flags prefix).
func (w *boxWalker) children() *boxWalker {
	return newBoxWalker(w.data())
}
