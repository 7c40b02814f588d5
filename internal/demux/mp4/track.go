package mp4

import (
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
)

const op = "mp4"

type trackKind int

const (
	trackUnknown trackKind = iota
	trackVideo
	trackAudio
)

// mp4Sample is one entry of a track's reconstructed sample schedule
// (spec §4.3's stsz/stsc/stco/co64/stts walk).
type mp4Sample struct {
	offset   int64
	size     uint32
	duration uint32
	dts      int64
	isSync   bool
}

// track holds everything extracted from one trak box: identity,
// codec parameters, and the full sample schedule built from the
// sample table boxes.
type track struct {
	id        uint32
	kind      trackKind
	timescale uint32
	duration  uint64

	width, height int

	channelCount  int
	sampleRate    int
	bitsPerSample int

	codec       string
	codecDetail string
	aacProfile  uint8
	avcProfile  byte

	samples []mp4Sample

	stszData, sttsData, stscData, cttsData, stssData, stcoData, co64Data []byte
	cttsVersion                                                          uint8
	hasCo64                                                              bool
}

var (
	handlerVide = boxType{'v', 'i', 'd', 'e'}
	handlerSoun = boxType{'s', 'o', 'u', 'n'}
)

// parseMoov walks a moov box (including its own 8-byte header) and
// returns every trak it contains plus the movie-level duration from
// mvhd.
func parseMoov(moovBuf []byte) ([]*track, uint64, error) {
	w := newBoxWalker(moovBuf)
	if !w.next() || w.typ() != typeMoov {
		return nil, 0, mediaerr.New(mediaerr.KindMalformed, op, "moov box not found")
	}

	var tracks []*track
	var movieDuration uint64

	children := w.children()
	for children.next() {
		switch children.typ() {
		case typeMvhd:
			_, dur := readMvhd(children.data())
			movieDuration = dur
		case typeTrak:
			t := parseTrak(children.rawBox())
			if t != nil {
				tracks = append(tracks, t)
			}
		}
	}
	return tracks, movieDuration, nil
}

func readMvhd(data []byte) (timescale uint32, duration uint64) {
	if len(data) < 1 {
		return 0, 0
	}
	if data[0] == 1 {
		if len(data) < 28 {
			return 0, 0
		}
		return binary.BigEndian.Uint32(data[16:20]), binary.BigEndian.Uint64(data[20:28])
	}
	if len(data) < 16 {
		return 0, 0
	}
	return binary.BigEndian.Uint32(data[8:12]), uint64(binary.BigEndian.Uint32(data[12:16]))
}

func parseTrak(rawTrak []byte) *track {
	t := &track{}
	w := newBoxWalker(rawTrak)
	if !w.next() || w.typ() != typeTrak {
		return nil
	}
	children := w.children()
	for children.next() {
		switch children.typ() {
		case typeTkhd:
			id, width, height := readTkhd(children.data(), children.version())
			t.id = id
			t.width, t.height = width, height
		case typeMdia:
			parseMdia(children.rawBox(), t)
		}
	}
	if t.id == 0 || t.kind == trackUnknown {
		return nil
	}
	if err := t.buildSampleSchedule(); err != nil {
		return nil
	}
	return t
}

func readTkhd(data []byte, version uint8) (id uint32, width, height int) {
	// data is past the version+flags word. version 1 widens the three
	// time fields from 32 to 64 bits; track ID and dimensions sit at
	// fixed offsets relative to that.
	var idOffset, dimOffset int
	if version == 1 {
		idOffset = 16 // creation(8)+modification(8)
		dimOffset = 16 + 4 + 4 + 8 + 8 + 2 + 2 + 2 + 2 + 36 // + track_id+reserved+duration+reserved2+layer+alt_group+volume+reserved3+matrix
	} else {
		idOffset = 8
		dimOffset = 8 + 4 + 4 + 4 + 8 + 2 + 2 + 2 + 2 + 36
	}
	if len(data) < idOffset+4 {
		return 0, 0, 0
	}
	id = binary.BigEndian.Uint32(data[idOffset : idOffset+4])
	if len(data) < dimOffset+8 {
		return id, 0, 0
	}
	w := binary.BigEndian.Uint32(data[dimOffset : dimOffset+4])
	h := binary.BigEndian.Uint32(data[dimOffset+4 : dimOffset+8])
	return id, int(w >> 16), int(h >> 16)
}

func parseMdia(rawMdia []byte, t *track) {
	w := newBoxWalker(rawMdia)
	if !w.next() {
		return
	}
	var handler boxType
	children := w.children()
	for children.next() {
		switch children.typ() {
		case typeMdhd:
			ts, dur := readMdhd(children.data(), children.version())
			t.timescale = ts
			t.duration = dur
		case typeHdlr:
			handler = readHdlr(children.data())
		case typeMinf:
			parseMinf(children.rawBox(), t, handler)
		}
	}
}

func readMdhd(data []byte, version uint8) (timescale uint32, duration uint64) {
	if version == 1 {
		if len(data) < 28 {
			return 0, 0
		}
		return binary.BigEndian.Uint32(data[16:20]), binary.BigEndian.Uint64(data[20:28])
	}
	if len(data) < 16 {
		return 0, 0
	}
	return binary.BigEndian.Uint32(data[8:12]), uint64(binary.BigEndian.Uint32(data[12:16]))
}

func readHdlr(data []byte) boxType {
	if len(data) < 8 {
		return boxType{}
	}
	var ht boxType
	copy(ht[:], data[4:8])
	return ht
}

func parseMinf(rawMinf []byte, t *track, handler boxType) {
	w := newBoxWalker(rawMinf)
	if !w.next() {
		return
	}
	children := w.children()
	for children.next() {
		if children.typ() == typeStbl {
			parseStbl(children.rawBox(), t, handler)
		}
	}
}

func parseStbl(rawStbl []byte, t *track, handler boxType) {
	w := newBoxWalker(rawStbl)
	if !w.next() {
		return
	}
	children := w.children()
	for children.next() {
		switch children.typ() {
		case typeStsd:
			parseStsd(children.data(), t, handler)
		case typeStsz:
			t.stszData = children.data()
		case typeStts:
			t.sttsData = children.data()
		case typeStsc:
			t.stscData = children.data()
		case typeCtts:
			t.cttsData = children.data()
			t.cttsVersion = children.version()
		case typeStss:
			t.stssData = children.data()
		case typeStco:
			t.stcoData = children.data()
		case typeCo64:
			t.co64Data = children.data()
			t.hasCo64 = true
		}
	}
}

func parseStsd(data []byte, t *track, handler boxType) {
	if len(data) < 4 {
		return
	}
	w := newBoxWalker(data[4:]) // skip entry_count
	if !w.next() {
		return
	}
	entryType := w.typ()
	entryData := w.rawBox()

	switch {
	case handler == handlerVide && (entryType == typeAvc1 || entryType == typeHvc1 || entryType == typeHev1):
		t.kind = trackVideo
		if entryType == typeAvc1 {
			t.codec = "h264"
		} else {
			t.codec = "h265"
		}
		if len(entryData) >= 78 {
			children := newBoxWalker(entryData[78:])
			for children.next() {
				if children.typ() == typeAvcC {
					d := children.data()
					if len(d) >= 4 {
						t.avcProfile = d[1]
					}
				}
			}
		}
	case handler == handlerSoun && entryType == typeMp4a:
		t.kind = trackAudio
		t.codec = "aac"
		if len(entryData) >= 36 {
			t.channelCount = int(binary.BigEndian.Uint16(entryData[16+8 : 16+8+2]))
			sr := binary.BigEndian.Uint32(entryData[16+16 : 16+16+4])
			t.sampleRate = int(sr >> 16)
			children := newBoxWalker(entryData[36:])
			for children.next() {
				if children.typ() == typeEsds {
					oti, aot := parseEsds(children.data())
					t.aacProfile = aot
					if oti != 0 {
						t.codecDetail = mediainfo.MP4ObjectTypeIndication(oti)
					}
				}
			}
		}
	}
}

// parseEsds walks the ES_Descriptor tree to the DecoderSpecificInfo
// and returns the MPEG-4 object type indication plus the AAC audio
// object type from the top five bits of the first AudioSpecificConfig
// byte (spec §4.3).
func parseEsds(data []byte) (oti uint8, audioObjectType uint8) {
	ptr, end := 0, len(data)
	if ptr >= end || data[ptr] != 0x03 {
		return 0, 0
	}
	ptr++
	ptr = skipDescLen(data, ptr, end)
	if ptr < 0 || ptr+3 > end {
		return 0, 0
	}
	flags := data[ptr+2]
	ptr += 3
	if flags&0x80 != 0 {
		ptr += 2
	}
	if flags&0x40 != 0 {
		if ptr >= end {
			return 0, 0
		}
		ptr += 1 + int(data[ptr])
	}
	if flags&0x20 != 0 {
		ptr += 2
	}
	if ptr >= end || data[ptr] != 0x04 {
		return 0, 0
	}
	ptr++
	ptr = skipDescLen(data, ptr, end)
	if ptr < 0 || ptr+13 > end {
		return 0, 0
	}
	oti = data[ptr]
	ptr += 13
	if ptr >= end || data[ptr] != 0x05 {
		return oti, 0
	}
	ptr++
	ptr = skipDescLen(data, ptr, end)
	if ptr < 0 || ptr >= end {
		return oti, 0
	}
	audioObjectType = data[ptr] >> 3
	return oti, audioObjectType
}

func skipDescLen(data []byte, ptr, end int) int {
	for ptr < end {
		b := data[ptr]
		ptr++
		if b&0x80 == 0 {
			return ptr
		}
	}
	return -1
}

// buildSampleSchedule reconstructs the per-sample offset/size/duration
// table by walking stsz, stsc, stco/co64, stts and ctts in lockstep
// (spec §4.3 chunk-schedule reconstruction).
func (t *track) buildSampleSchedule() error {
	if t.stszData == nil || t.sttsData == nil || t.stscData == nil {
		return mediaerr.New(mediaerr.KindMalformed, op, "missing required sample table box")
	}
	if t.stcoData == nil && t.co64Data == nil {
		return mediaerr.New(mediaerr.KindMalformed, op, "missing chunk offset table")
	}

	sizes, err := readStsz(t.stszData)
	if err != nil {
		return err
	}
	n := len(sizes)
	if n == 0 {
		t.samples = nil
		return nil
	}

	stsc, err := readStsc(t.stscData)
	if err != nil || len(stsc) == 0 {
		return mediaerr.New(mediaerr.KindMalformed, op, "empty stsc table")
	}
	stts, err := readStts(t.sttsData)
	if err != nil || len(stts) == 0 {
		return mediaerr.New(mediaerr.KindMalformed, op, "empty stts table")
	}
	var ctts []cttsEntry
	if t.cttsData != nil {
		ctts, _ = readCtts(t.cttsData)
	}
	var syncSamples map[uint32]bool
	if t.stssData != nil {
		syncSamples = readStss(t.stssData)
	}

	var chunkOffsets []int64
	if t.hasCo64 {
		chunkOffsets, err = readCo64(t.co64Data)
	} else {
		chunkOffsets, err = readStco(t.stcoData)
	}
	if err != nil {
		return err
	}

	samples := make([]mp4Sample, n)

	stscIdx := 0
	nextStscFirstChunk := uint32(0)
	if len(stsc) > 1 {
		nextStscFirstChunk = stsc[1].firstChunk
	}
	curStsc := stsc[0]

	sttsIdx := 0
	sttsRemaining := stts[0].count
	curSttsDuration := stts[0].duration

	cttsIdx := 0
	var cttsRemaining uint32
	var curCttsOffset int32
	if len(ctts) > 0 {
		cttsRemaining = ctts[0].count
		curCttsOffset = ctts[0].offset
	}

	chunkIdx := uint32(1)
	if int(chunkIdx-1) >= len(chunkOffsets) {
		return mediaerr.New(mediaerr.KindMalformed, op, "chunk offset table shorter than stsc implies")
	}
	chunkOffset := chunkOffsets[0]
	sampleInChunk := uint32(0)
	var offsetInChunk int64
	var dts int64

	for i := 0; i < n; i++ {
		isSync := true
		if syncSamples != nil {
			isSync = syncSamples[uint32(i+1)]
		}
		presOff := int32(0)
		if len(ctts) > 0 {
			presOff = curCttsOffset
		}
		samples[i] = mp4Sample{
			offset:   offsetInChunk + chunkOffset,
			size:     sizes[i],
			duration: curSttsDuration,
			dts:      dts + int64(presOff),
			isSync:   isSync,
		}

		if i+1 >= n {
			break
		}
		sampleInChunk++
		offsetInChunk += int64(sizes[i])
		if sampleInChunk >= curStsc.samplesPerChunk {
			sampleInChunk = 0
			offsetInChunk = 0
			chunkIdx++
			if int(chunkIdx-1) < len(chunkOffsets) {
				chunkOffset = chunkOffsets[chunkIdx-1]
			}
			if stscIdx+1 < len(stsc) && chunkIdx >= nextStscFirstChunk {
				stscIdx++
				curStsc = stsc[stscIdx]
				if stscIdx+1 < len(stsc) {
					nextStscFirstChunk = stsc[stscIdx+1].firstChunk
				}
			}
		}

		dts += int64(curSttsDuration)
		sttsRemaining--
		if sttsRemaining == 0 && sttsIdx+1 < len(stts) {
			sttsIdx++
			sttsRemaining = stts[sttsIdx].count
			curSttsDuration = stts[sttsIdx].duration
		}

		if len(ctts) > 0 {
			cttsRemaining--
			if cttsRemaining == 0 && cttsIdx+1 < len(ctts) {
				cttsIdx++
				curCttsOffset = ctts[cttsIdx].offset
				cttsRemaining = ctts[cttsIdx].count
			}
		}
	}

	t.samples = samples
	return nil
}

func readStsz(data []byte) ([]uint32, error) {
	if len(data) < 8 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "short stsz")
	}
	sampleSize := binary.BigEndian.Uint32(data[0:4])
	count := binary.BigEndian.Uint32(data[4:8])
	sizes := make([]uint32, count)
	if sampleSize != 0 {
		for i := range sizes {
			sizes[i] = sampleSize
		}
		return sizes, nil
	}
	if len(data) < 8+int(count)*4 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated stsz table")
	}
	for i := uint32(0); i < count; i++ {
		sizes[i] = binary.BigEndian.Uint32(data[8+i*4 : 12+i*4])
	}
	return sizes, nil
}

type stscEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
}

func readStsc(data []byte) ([]stscEntry, error) {
	if len(data) < 4 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "short stsc")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if len(data) < 4+int(count)*12 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated stsc table")
	}
	entries := make([]stscEntry, count)
	for i := uint32(0); i < count; i++ {
		base := 4 + i*12
		entries[i] = stscEntry{
			firstChunk:      binary.BigEndian.Uint32(data[base : base+4]),
			samplesPerChunk: binary.BigEndian.Uint32(data[base+4 : base+8]),
		}
	}
	return entries, nil
}

type sttsEntry struct {
	count    uint32
	duration uint32
}

func readStts(data []byte) ([]sttsEntry, error) {
	if len(data) < 4 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "short stts")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if len(data) < 4+int(count)*8 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated stts table")
	}
	entries := make([]sttsEntry, count)
	for i := uint32(0); i < count; i++ {
		base := 4 + i*8
		entries[i] = sttsEntry{
			count:    binary.BigEndian.Uint32(data[base : base+4]),
			duration: binary.BigEndian.Uint32(data[base+4 : base+8]),
		}
	}
	return entries, nil
}

type cttsEntry struct {
	count  uint32
	offset int32
}

func readCtts(data []byte) ([]cttsEntry, error) {
	if len(data) < 4 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "short ctts")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if len(data) < 4+int(count)*8 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated ctts table")
	}
	entries := make([]cttsEntry, count)
	for i := uint32(0); i < count; i++ {
		base := 4 + i*8
		entries[i] = cttsEntry{
			count:  binary.BigEndian.Uint32(data[base : base+4]),
			offset: int32(binary.BigEndian.Uint32(data[base+4 : base+8])),
		}
	}
	return entries, nil
}

func readStss(data []byte) map[uint32]bool {
	if len(data) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if len(data) < 4+int(count)*4 {
		return nil
	}
	m := make(map[uint32]bool, count)
	for i := uint32(0); i < count; i++ {
		base := 4 + i*4
		m[binary.BigEndian.Uint32(data[base:base+4])] = true
	}
	return m
}

func readStco(data []byte) ([]int64, error) {
	if len(data) < 4 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "short stco")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if len(data) < 4+int(count)*4 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated stco table")
	}
	out := make([]int64, count)
	for i := uint32(0); i < count; i++ {
		base := 4 + i*4
		out[i] = int64(binary.BigEndian.Uint32(data[base : base+4]))
	}
	return out, nil
}

func readCo64(data []byte) ([]int64, error) {
	if len(data) < 4 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "short co64")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	if len(data) < 4+int(count)*8 {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "truncated co64 table")
	}
	out := make([]int64, count)
	for i := uint32(0); i < count; i++ {
		base := 4 + i*8
		out[i] = int64(binary.BigEndian.Uint64(data[base : base+8]))
	}
	return out, nil
}
