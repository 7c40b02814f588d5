// Package asf demuxes Advanced Systems Format (ASF/WMA/WMV) files (spec
// §4.6) — the header's GUID-keyed object tree, then fixed-size data
// packets whose Payload Parsing Information is itself a small
// bit-packed format (spec glossary "payload parsing information").
package asf

import (
	"context"
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/mediainfo"
	"github.com/jmylchreest/media-extract/internal/riff"
	"github.com/jmylchreest/media-extract/internal/sample"
	"golang.org/x/text/encoding/unicode"
)

const op = "asf"

type streamKind int

const (
	streamUnknown streamKind = iota
	streamVideo
	streamAudio
)

type asfStream struct {
	number        int
	kind          streamKind
	codec         string
	codecDetail   string
	fmtEx         riff.WaveFormatEx
	width, height int
}

// Demuxer walks an ASF Header Object then streams Data Object packets.
type Demuxer struct {
	rv   *bitio.Reservoir
	opts config.Options

	streams []*asfStream

	minPacketSize, maxPacketSize uint32
	packetSize                   int64
	totalDataPackets             uint64
	playDurationHNS              uint64
	sendDurationHNS              uint64
	prerollMS                    uint64
	maxBitrate                   uint32
	broadcast, seekable          bool

	extStreamProps map[int][]byte

	title, author, copyright, description, rating string

	packetsRead uint64
}

// Detect reports whether peek starts with the Header Object GUID (spec
// §4.1 step 5).
func Detect(peek []byte) bool {
	return len(peek) >= 16 && [16]byte(peek[:16]) == guidHeaderObject
}

// New constructs an ASF demuxer over rv.
func New(rv *bitio.Reservoir, opts config.Options) *Demuxer {
	return &Demuxer{rv: rv, opts: opts.WithDefaults(), extStreamProps: map[int][]byte{}}
}

func readGUID(ctx context.Context, rv *bitio.Reservoir) ([16]byte, error) {
	return bitio.ReadGUID(ctx, rv, op)
}

func readN(ctx context.Context, rv *bitio.Reservoir, n int) ([]byte, error) {
	ok, err := rv.Ensure(ctx, n)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindIO, op, "reading bytes", err)
	}
	if !ok {
		return nil, mediaerr.New(mediaerr.KindEndOfStream, op, "unexpected end of stream")
	}
	return rv.Take(n), nil
}

// objectHeader is the 24-byte GUID+size prefix shared by every ASF
// object at every nesting level.
type objectHeader struct {
	guid [16]byte
	size uint64
}

func readObjectHeader(ctx context.Context, rv *bitio.Reservoir) (objectHeader, error) {
	guid, err := readGUID(ctx, rv)
	if err != nil {
		return objectHeader{}, err
	}
	sizeBytes, err := readN(ctx, rv, 8)
	if err != nil {
		return objectHeader{}, err
	}
	return objectHeader{guid: guid, size: binary.LittleEndian.Uint64(sizeBytes)}, nil
}

// Probe walks the Header Object's sub-objects, then reads the Data
// Object's own 50-byte header (spec §4.6, §4.12).
func (d *Demuxer) Probe(ctx context.Context) (*mediainfo.MediaInfo, error) {
	hdr, err := readObjectHeader(ctx, d.rv)
	if err != nil {
		return nil, err
	}
	if hdr.guid != guidHeaderObject {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "missing ASF Header Object")
	}

	countBytes, err := readN(ctx, d.rv, 4)
	if err != nil {
		return nil, err
	}
	numObjects := binary.LittleEndian.Uint32(countBytes)
	if _, err := readN(ctx, d.rv, 2); err != nil { // reserved1, reserved2
		return nil, err
	}

	for i := uint32(0); i < numObjects; i++ {
		sub, err := readObjectHeader(ctx, d.rv)
		if err != nil {
			return nil, err
		}
		bodySize := int64(sub.size) - 24
		if bodySize < 0 {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "header sub-object size smaller than its own header")
		}
		if d.opts.Limits.MaxHeaderObjectSize > 0 && bodySize > d.opts.Limits.MaxHeaderObjectSize {
			return nil, mediaerr.New(mediaerr.KindMalformed, op, "header sub-object exceeds configured size limit")
		}
		body, err := readN(ctx, d.rv, int(bodySize))
		if err != nil {
			return nil, err
		}

		switch sub.guid {
		case guidFileProperties:
			if err := d.parseFileProperties(body); err != nil {
				return nil, err
			}
		case guidStreamProperties:
			if err := d.parseStreamProperties(body); err != nil {
				return nil, err
			}
		case guidHeaderExtension:
			d.parseHeaderExtension(body)
		case guidContentDescription:
			d.parseContentDescription(body)
		default:
			// Codec List, Extended Content Description, and anything
			// else are recognized only well
			// enough to skip (spec §5.4 supplement).
		}
	}

	if d.minPacketSize != d.maxPacketSize {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "ASF minimum and maximum data packet sizes must be equal")
	}
	d.packetSize = int64(d.maxPacketSize)

	dataHdr, err := readObjectHeader(ctx, d.rv)
	if err != nil {
		return nil, err
	}
	if dataHdr.guid != guidDataObject {
		return nil, mediaerr.New(mediaerr.KindMalformed, op, "expected ASF Data Object")
	}
	if _, err := readGUID(ctx, d.rv); err != nil { // File ID, unused
		return nil, err
	}
	totalPacketsBytes, err := readN(ctx, d.rv, 8)
	if err != nil {
		return nil, err
	}
	d.totalDataPackets = binary.LittleEndian.Uint64(totalPacketsBytes)
	if _, err := readN(ctx, d.rv, 2); err != nil { // reserved
		return nil, err
	}

	return d.buildMediaInfo(), nil
}

func (d *Demuxer) parseFileProperties(body []byte) error {
	if len(body) < 80 {
		return mediaerr.New(mediaerr.KindMalformed, op, "short File Properties Object")
	}
	d.playDurationHNS = binary.LittleEndian.Uint64(body[40:48])
	d.sendDurationHNS = binary.LittleEndian.Uint64(body[48:56])
	d.prerollMS = binary.LittleEndian.Uint64(body[56:64])
	flags := binary.LittleEndian.Uint32(body[64:68])
	d.broadcast = flags&0x01 != 0
	d.seekable = flags&0x02 != 0
	d.minPacketSize = binary.LittleEndian.Uint32(body[68:72])
	d.maxPacketSize = binary.LittleEndian.Uint32(body[72:76])
	d.maxBitrate = binary.LittleEndian.Uint32(body[76:80])
	return nil
}

// parseContentDescription reads the Content Description Object's five
// length-prefixed UTF-16LE strings in order: Title, Author, Copyright,
// Description, Rating. A field is left empty if its declared length
// runs past the object body (tolerated, not fatal: this object is
// purely informational).
func (d *Demuxer) parseContentDescription(body []byte) {
	off := 0
	next := func() string {
		if off+2 > len(body) {
			return ""
		}
		n := int(binary.LittleEndian.Uint16(body[off : off+2]))
		off += 2
		if off+n > len(body) {
			off = len(body)
			return ""
		}
		s := decodeUTF16LE(body[off : off+n])
		off += n
		return s
	}
	d.title = next()
	d.author = next()
	d.copyright = next()
	d.description = next()
	d.rating = next()
}

// decodeUTF16LE decodes a null-terminated UTF-16LE byte string, the
// encoding every textual ASF object field uses. Decode errors (odd
// length, truncated surrogate) yield an empty string rather than
// failing the whole probe, matching this object's purely informational
// role.
func decodeUTF16LE(b []byte) string {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	s := string(out)
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}

func (d *Demuxer) parseStreamProperties(body []byte) error {
	if len(body) < 54 {
		return mediaerr.New(mediaerr.KindMalformed, op, "short Stream Properties Object")
	}
	var streamType [16]byte
	copy(streamType[:], body[0:16])
	typeSpecificLen := binary.LittleEndian.Uint32(body[40:44])
	flags := binary.LittleEndian.Uint16(body[48:50])
	streamNumber := int(flags & 0x7F)

	s := &asfStream{number: streamNumber}
	typeSpecificStart := 54
	typeSpecificEnd := typeSpecificStart + int(typeSpecificLen)
	if typeSpecificEnd > len(body) {
		return mediaerr.New(mediaerr.KindMalformed, op, "Stream Properties type-specific data exceeds object size")
	}
	typeSpecific := body[typeSpecificStart:typeSpecificEnd]

	switch streamType {
	case guidAudioMedia:
		s.kind = streamAudio
		w, err := riff.ParseWaveFormatEx(typeSpecific)
		if err != nil {
			return err
		}
		s.fmtEx = w
		if c, ok := mediainfo.ASFAudioCodecForFormatTag(w.FormatTag); ok {
			s.codec = c
		} else {
			s.codec = "wma"
		}
	case guidVideoMedia:
		s.kind = streamVideo
		if len(typeSpecific) >= 11 {
			s.width = int(int32(binary.LittleEndian.Uint32(typeSpecific[0:4])))
			s.height = int(int32(binary.LittleEndian.Uint32(typeSpecific[4:8])))
			bmiStart := 11
			if len(typeSpecific) >= bmiStart+20 {
				s.codecDetail = string(typeSpecific[bmiStart+16 : bmiStart+20])
			}
		}
	default:
		return nil
	}

	d.streams = append(d.streams, s)
	return nil
}

// parseHeaderExtension scans the Header Extension Object's nested
// object list for Extended Stream Properties objects, keeping the
// verbatim bytes of each for the ASF writer to reuse byte-exactly
// (spec §4.12's "Header Extension (verbatim Extended Stream Properties
// from source)").
func (d *Demuxer) parseHeaderExtension(body []byte) {
	const prefixLen = 16 + 2 + 4
	if len(body) < prefixLen {
		return
	}
	dataSize := binary.LittleEndian.Uint32(body[18:22])
	end := prefixLen + int(dataSize)
	if end > len(body) {
		end = len(body)
	}
	nested := body[prefixLen:end]

	off := 0
	for off+24 <= len(nested) {
		var guid [16]byte
		copy(guid[:], nested[off:off+16])
		size := binary.LittleEndian.Uint64(nested[off+16 : off+24])
		objEnd := off + int(size)
		if int64(size) < 24 || objEnd > len(nested) {
			return
		}
		if guid == guidExtendedStreamProperties {
			objBody := nested[off+24 : objEnd]
			if len(objBody) >= 50 {
				streamNumber := int(binary.LittleEndian.Uint16(objBody[48:50]))
				d.extStreamProps[streamNumber] = append([]byte(nil), nested[off:objEnd]...)
			}
		}
		off = objEnd
	}
}

func (d *Demuxer) buildMediaInfo() *mediainfo.MediaInfo {
	info := &mediainfo.MediaInfo{Container: mediainfo.ContainerASF}
	info.FileProperties = &mediainfo.ASFFileProperties{
		PlayDurationHNS: d.playDurationHNS,
		SendDurationHNS: d.sendDurationHNS,
		PrerollMS:       d.prerollMS,
		MaxBitrate:      d.maxBitrate,
		Broadcast:       d.broadcast,
		Seekable:        d.seekable,
		MinPacketSize:   d.minPacketSize,
		MaxPacketSize:   d.maxPacketSize,
		Title:           d.title,
		Author:          d.author,
		Copyright:       d.copyright,
		Description:     d.description,
		Rating:          d.rating,
	}
	if !d.broadcast {
		seconds := float64(d.playDurationHNS)/1e7 - float64(d.prerollMS)/1e3
		if seconds < 0 {
			seconds = 0
		}
		info.DurationSeconds = &seconds
	}

	if len(d.extStreamProps) > 0 {
		info.AdditionalStreamInfo = map[int]*mediainfo.ASFStreamInfo{}
	}
	for _, s := range d.streams {
		var codecPrivate []byte
		if len(s.fmtEx.Extra) > 0 {
			codecPrivate = s.fmtEx.Extra
		}
		if raw, ok := d.extStreamProps[s.number]; ok || codecPrivate != nil {
			if info.AdditionalStreamInfo == nil {
				info.AdditionalStreamInfo = map[int]*mediainfo.ASFStreamInfo{}
			}
			info.AdditionalStreamInfo[s.number] = &mediainfo.ASFStreamInfo{
				CodecPrivate:                codecPrivate,
				ExtendedStreamPropertiesRaw: raw,
			}
		}
		switch s.kind {
		case streamVideo:
			info.VideoStreams = append(info.VideoStreams, mediainfo.VideoStreamInfo{
				ID:          s.number,
				Codec:       s.codec,
				CodecDetail: s.codecDetail,
				Width:       s.width,
				Height:      s.height,
			})
		case streamAudio:
			info.AudioStreams = append(info.AudioStreams, mediainfo.AudioStreamInfo{
				ID:            s.number,
				Codec:         s.codec,
				ChannelCount:  int(s.fmtEx.Channels),
				SampleRate:    int(s.fmtEx.SamplesPerSec),
				BitsPerSample: int(s.fmtEx.BitsPerSample),
				Bitrate:       int64(s.fmtEx.AvgBytesPerSec) * 8,
				FormatTag:     s.fmtEx.FormatTag,
				BlockAlign:    int(s.fmtEx.BlockAlign),
			})
		}
	}
	return info
}

func (d *Demuxer) findStream(number int) *asfStream {
	for _, s := range d.streams {
		if s.number == number {
			return s
		}
	}
	return nil
}

// lengthTypeWidth maps a 2-bit ASF "length type" field to the byte
// width it designates (spec §4.6: "Length type values 0,1,2,3 ⇒
// 0,1,2,4 bytes").
func lengthTypeWidth(code byte) int {
	switch code & 0x03 {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	default:
		return 4
	}
}

func readLEUint(ctx context.Context, rv *bitio.Reservoir, width int) (uint64, error) {
	if width == 0 {
		return 0, nil
	}
	b, err := readN(ctx, rv, width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// Extract streams Data Object packets forward, emitting every payload
// belonging to trackID with enough metadata to repack it byte-exactly
// (spec §4.6's emitted-metadata struct, mirrored by sample.ASFExtra).
func (d *Demuxer) Extract(ctx context.Context, trackID int, cb sample.Callback) error {
	st := d.findStream(trackID)
	if st == nil {
		return mediaerr.New(mediaerr.KindNotFound, op, "no stream with that number")
	}

	for d.packetsRead < d.totalDataPackets {
		if err := d.readPacket(ctx, trackID, cb); err != nil {
			return err
		}
		d.packetsRead++
	}
	return nil
}

func (d *Demuxer) readPacket(ctx context.Context, trackID int, cb sample.Callback) error {
	packetStart := d.rv.Total()
	packetEnd := packetStart + d.packetSize

	ok, err := d.rv.Ensure(ctx, 1)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindIO, op, "reading packet", err)
	}
	if !ok {
		return mediaerr.New(mediaerr.KindEndOfStream, op, "truncated ASF data packet")
	}
	flagsByte := d.rv.Peek(1)[0]

	var ecLength int
	if flagsByte&0x80 != 0 {
		d.rv.Advance(1)
		ecLength = int(flagsByte & 0x0F)
		if _, err := readN(ctx, d.rv, ecLength); err != nil {
			return err
		}
	}

	lengthTypeFlags, err := readU8(ctx, d.rv)
	if err != nil {
		return err
	}
	propertyFlags, err := readU8(ctx, d.rv)
	if err != nil {
		return err
	}

	multiplePayloads := lengthTypeFlags&0x01 != 0
	sequenceWidth := lengthTypeWidth(lengthTypeFlags >> 1)
	paddingWidth := lengthTypeWidth(lengthTypeFlags >> 3)
	packetLengthWidth := lengthTypeWidth(lengthTypeFlags >> 5)

	// Bits 6-7 of propertyFlags are a Stream Number Length Type field,
	// but the Stream Number subfield itself is always one byte (spec
	// §4.6 point 4) so that width is never consulted.
	replicatedLenWidth := lengthTypeWidth(propertyFlags)
	offsetWidth := lengthTypeWidth(propertyFlags >> 2)
	mediaObjNumWidth := lengthTypeWidth(propertyFlags >> 4)

	packetLength, err := readLEUint(ctx, d.rv, packetLengthWidth)
	if err != nil {
		return err
	}
	if packetLengthWidth == 0 {
		packetLength = uint64(d.packetSize)
	}
	if _, err := readLEUint(ctx, d.rv, sequenceWidth); err != nil {
		return err
	}
	paddingLength, err := readLEUint(ctx, d.rv, paddingWidth)
	if err != nil {
		return err
	}
	sendTimeBytes, err := readN(ctx, d.rv, 4)
	if err != nil {
		return err
	}
	sendTimeMS := binary.LittleEndian.Uint32(sendTimeBytes)
	durationBytes, err := readN(ctx, d.rv, 2)
	if err != nil {
		return err
	}
	durationMS := binary.LittleEndian.Uint16(durationBytes)

	numPayloads := 1
	payloadLengthWidth := 0
	if multiplePayloads {
		payloadFlags, err := readU8(ctx, d.rv)
		if err != nil {
			return err
		}
		numPayloads = int(payloadFlags & 0x3F)
		payloadLengthWidth = lengthTypeWidth(payloadFlags >> 6)
	}

	contentEnd := packetStart + int64(packetLength) - int64(paddingLength)

	for i := 0; i < numPayloads; i++ {
		streamNumByte, err := readU8(ctx, d.rv)
		if err != nil {
			return err
		}
		isKeyframe := streamNumByte&0x80 != 0
		streamNumber := int(streamNumByte & 0x7F)

		mediaObjNum, err := readLEUint(ctx, d.rv, mediaObjNumWidth)
		if err != nil {
			return err
		}
		offsetIntoMediaObj, err := readLEUint(ctx, d.rv, offsetWidth)
		if err != nil {
			return err
		}
		replicatedLen, err := readLEUint(ctx, d.rv, replicatedLenWidth)
		if err != nil {
			return err
		}

		var payloadLen int64
		if multiplePayloads {
			v, err := readLEUint(ctx, d.rv, payloadLengthWidth)
			if err != nil {
				return err
			}
			payloadLen = int64(v)
		} else {
			payloadLen = contentEnd - d.rv.Total()
			if payloadLen < 0 {
				return mediaerr.New(mediaerr.KindMalformed, op, "single payload length computed negative")
			}
		}

		if replicatedLen == 1 {
			// Compressed payload: the single replicated byte is a
			// presentation-time delta, followed by (length, data)
			// sub-payloads until payloadLen is exhausted.
			if _, err := readU8(ctx, d.rv); err != nil { // presentation-time delta, unused
				return err
			}
			consumed := int64(1)
			for consumed < payloadLen {
				subLen, err := readU8(ctx, d.rv)
				if err != nil {
					return err
				}
				consumed++
				data, err := readN(ctx, d.rv, int(subLen))
				if err != nil {
					return err
				}
				consumed += int64(subLen)
				if streamNumber == trackID {
					if err := emitASFSample(cb, streamNumber, data, mediaObjNum, offsetIntoMediaObj, nil, sendTimeMS, durationMS, isKeyframe, true); err != nil {
						return err
					}
				}
			}
			continue
		}

		var replicated []byte
		if replicatedLen > 0 {
			replicated, err = readN(ctx, d.rv, int(replicatedLen))
			if err != nil {
				return err
			}
		}
		remaining := payloadLen - int64(replicatedLen)
		if remaining < 0 {
			return mediaerr.New(mediaerr.KindMalformed, op, "payload length smaller than its replicated data")
		}
		data, err := readN(ctx, d.rv, int(remaining))
		if err != nil {
			return err
		}
		if streamNumber == trackID {
			if err := emitASFSample(cb, streamNumber, data, mediaObjNum, offsetIntoMediaObj, replicated, sendTimeMS, durationMS, isKeyframe, false); err != nil {
				return err
			}
		}
	}

	consumedTotal := d.rv.Total() - packetStart
	remainder := packetEnd - packetStart - consumedTotal
	if remainder > 0 {
		if _, err := d.rv.Skip(ctx, remainder); err != nil {
			return mediaerr.Wrap(mediaerr.KindIO, op, "skipping packet padding", err)
		}
	} else if remainder < 0 {
		return mediaerr.New(mediaerr.KindMalformed, op, "ASF packet overran its own fixed size")
	}
	return nil
}

func emitASFSample(cb sample.Callback, streamNumber int, data []byte, mediaObjNum, offset uint64, replicated []byte, sendTimeMS uint32, durationMS uint16, isKeyframe, isCompressed bool) error {
	return cb(sample.Sample{
		Data:       data,
		TrackID:    streamNumber,
		Time:       float64(sendTimeMS) / 1000,
		IsKeyframe: isKeyframe,
		ASF: &sample.ASFExtra{
			MediaObjectNumber:     uint32(mediaObjNum),
			OffsetIntoMediaObject: uint32(offset),
			ReplicatedData:        replicated,
			PacketSendTimeMS:      sendTimeMS,
			PacketDurationMS:      durationMS,
			IsCompressedPayload:   isCompressed,
		},
	})
}

func readU8(ctx context.Context, rv *bitio.Reservoir) (byte, error) {
	b, err := readN(ctx, rv, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}
