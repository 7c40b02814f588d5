// Package asfmux repackages ASF/WMA payload records into a byte-exact,
// single-stream ASF file with fixed-size packets (spec §4.12) — the
// most intricate muxer in this module, mirroring the object layout
// internal/demux/asf reads back.
package asfmux

import (
	"encoding/binary"

	"github.com/jmylchreest/media-extract/internal/asfguid"
	"github.com/jmylchreest/media-extract/internal/mediaerr"
	"github.com/jmylchreest/media-extract/internal/riff"
	"github.com/jmylchreest/media-extract/internal/sample"
)

const op = "asfmux"

// Per-payload packet overhead: EC flags+2 zero bytes(3) + length-type
// flags+property flags(2) + packet length DWORD+padding BYTE+send time
// DWORD+duration WORD(11) + stream number BYTE+media-object-number
// DWORD+offset DWORD+replicated-data-length BYTE(10).
const payloadOverhead = 3 + 2 + 11 + 10

const (
	ecFlags        = 0x82 // EC present, audio-spread, 2-byte EC data
	lengthTypeFlags = 0x68 // single payload, packet-length DWORD, padding BYTE
	propertyFlags  = 0x7D // replicated-length BYTE, offset DWORD, media-obj-num DWORD, stream-num BYTE
)

type payload struct {
	streamNumber  int
	data          []byte
	replicated    []byte
	mediaObjNum   uint32
	offset        uint32
	sendTimeMS    uint32
	durationMS    uint16
}

// Writer buffers ASF payload records until Finish, since the packet
// size and File Properties totals can only be computed once every
// payload has been seen (spec §5 resource policy: "WMA writer...
// buffer the entire data object").
type Writer struct {
	streamNumber int
	fmtEx        riff.WaveFormatEx
	extStreamProps []byte // verbatim Extended Stream Properties object from source, or nil

	playDurationHNS uint64
	sendDurationHNS uint64
	prerollMS       uint64
	maxBitrate      uint32

	payloads []payload
	maxFrame int // largest (len(replicated)+len(data)) seen, drives packet size
}

// NewWriter constructs a Writer for a single audio stream, carrying
// forward the source's File Properties timing fields and (optionally)
// its verbatim Extended Stream Properties object.
func NewWriter(streamNumber int, fmtEx riff.WaveFormatEx, playDurationHNS, sendDurationHNS uint64, prerollMS uint64, maxBitrate uint32, extStreamProps []byte) *Writer {
	return &Writer{
		streamNumber:    streamNumber,
		fmtEx:           fmtEx,
		extStreamProps:  extStreamProps,
		playDurationHNS: playDurationHNS,
		sendDurationHNS: sendDurationHNS,
		prerollMS:       prerollMS,
		maxBitrate:      maxBitrate,
	}
}

// WritePayload buffers one ASF payload record, as emitted by
// internal/demux/asf's Extract (spec §4.6 metadata struct).
func (w *Writer) WritePayload(s sample.Sample) {
	var replicated []byte
	var mediaObjNum, offset uint32
	var sendTimeMS uint32
	var durationMS uint16
	if s.ASF != nil {
		replicated = s.ASF.ReplicatedData
		mediaObjNum = s.ASF.MediaObjectNumber
		offset = s.ASF.OffsetIntoMediaObject
		sendTimeMS = s.ASF.PacketSendTimeMS
		durationMS = s.ASF.PacketDurationMS
	}
	w.payloads = append(w.payloads, payload{
		streamNumber: w.streamNumber,
		data:         append([]byte(nil), s.Data...),
		replicated:   append([]byte(nil), replicated...),
		mediaObjNum:  mediaObjNum,
		offset:       offset,
		sendTimeMS:   sendTimeMS,
		durationMS:   durationMS,
	})
	if frame := len(replicated) + len(s.Data); frame > w.maxFrame {
		w.maxFrame = frame
	}
}

// packetSize computes the fixed output packet size: the smallest
// multiple of 256 bytes that can hold the largest buffered payload
// plus its framing overhead (spec §4.12). Rounding to a 256-byte
// boundary keeps the largest payload's padding within the single-BYTE
// Padding Length field; buildPacket rejects any other payload that
// would need more than 255 bytes of padding.
func (w *Writer) packetSize() int64 {
	base := int64(w.maxFrame + payloadOverhead)
	if base%256 == 0 {
		return base
	}
	return (base/256 + 1) * 256
}

// Finish serializes the complete ASF file: Header Object (File
// Properties, Stream Properties, Header Extension) followed by the
// Data Object and its fixed-size packets.
func (w *Writer) Finish() ([]byte, error) {
	packetSize := w.packetSize()

	packets := make([][]byte, 0, len(w.payloads))
	for _, p := range w.payloads {
		pkt, err := w.buildPacket(p, packetSize)
		if err != nil {
			return nil, err
		}
		packets = append(packets, pkt)
	}

	streamProps := w.buildStreamProperties(packetSize)
	headerExt := w.buildHeaderExtension()

	dataPacketsCount := uint64(len(packets))
	dataObjectSize := int64(50) + int64(len(packets))*packetSize

	// File Properties carries the total File Size, which includes the
	// Header Object itself — build once with a placeholder to learn
	// headerObjSize, then rebuild with the real total (spec §4.12
	// "Patch File Properties File Size... before final header write").
	headerObjSize := w.headerObjectSize(packetSize, dataPacketsCount, streamProps, headerExt)
	fileSize := uint64(headerObjSize) + uint64(dataObjectSize)
	headerObj := w.buildHeaderObject(packetSize, dataPacketsCount, fileSize, streamProps, headerExt)

	out := make([]byte, 0, int(headerObjSize)+int(dataObjectSize))
	out = append(out, headerObj...)

	out = append(out, asfguid.DataObject[:]...)
	out = append(out, le64(uint64(dataObjectSize))...)
	out = append(out, make([]byte, 16)...) // File ID, zeroed
	out = append(out, le64(dataPacketsCount)...)
	out = append(out, 0x01, 0x01) // reserved

	for _, pkt := range packets {
		out = append(out, pkt...)
	}
	return out, nil
}

// headerObjectSize reports the byte size buildHeaderObject would
// produce, without knowing fileSize yet (File Properties' File Size
// field doesn't affect the object's own length).
func (w *Writer) headerObjectSize(packetSize int64, dataPacketsCount uint64, streamProps, headerExt []byte) int64 {
	fileProps := w.buildFileProperties(packetSize, dataPacketsCount, 0)
	return 24 + 6 + int64(len(fileProps)+len(streamProps)+len(headerExt))
}

func (w *Writer) buildHeaderObject(packetSize int64, dataPacketsCount, fileSize uint64, streamProps, headerExt []byte) []byte {
	fileProps := w.buildFileProperties(packetSize, dataPacketsCount, fileSize)

	headerBody := append([]byte{}, fileProps...)
	headerBody = append(headerBody, streamProps...)
	headerBody = append(headerBody, headerExt...)

	const numSubObjects = 3
	headerObjBody := make([]byte, 6, 6+len(headerBody))
	binary.LittleEndian.PutUint32(headerObjBody[0:4], numSubObjects)
	headerObjBody = append(headerObjBody, headerBody...)

	headerObjSize := int64(24 + len(headerObjBody))
	headerObj := make([]byte, 0, headerObjSize)
	headerObj = append(headerObj, asfguid.HeaderObject[:]...)
	headerObj = append(headerObj, le64(uint64(headerObjSize))...)
	headerObj = append(headerObj, headerObjBody...)
	return headerObj
}

func (w *Writer) buildFileProperties(packetSize int64, dataPacketsCount, fileSize uint64) []byte {
	body := make([]byte, 80)
	// body[0:16] File ID left zero.
	binary.LittleEndian.PutUint64(body[16:24], fileSize)
	// body[24:32] Creation Date left zero.
	binary.LittleEndian.PutUint64(body[32:40], dataPacketsCount)
	binary.LittleEndian.PutUint64(body[40:48], w.playDurationHNS)
	binary.LittleEndian.PutUint64(body[48:56], w.sendDurationHNS)
	binary.LittleEndian.PutUint64(body[56:64], w.prerollMS)
	binary.LittleEndian.PutUint32(body[64:68], 0x02) // seekable, not broadcast
	binary.LittleEndian.PutUint32(body[68:72], uint32(packetSize))
	binary.LittleEndian.PutUint32(body[72:76], uint32(packetSize))
	binary.LittleEndian.PutUint32(body[76:80], w.maxBitrate)

	obj := make([]byte, 0, 24+len(body))
	obj = append(obj, asfguid.FileProperties[:]...)
	obj = append(obj, le64(uint64(24+len(body)))...)
	obj = append(obj, body...)
	return obj
}

func (w *Writer) buildStreamProperties(packetSize int64) []byte {
	typeSpecific := riff.MarshalWaveFormatEx(w.fmtEx)

	// Error Correction Data for the audio-spread type: span(1) +
	// virtualPacketLength(2) + virtualChunkLength(2) +
	// silenceDataLength(2) + silenceData(silenceLen, zeroed).
	silenceLen := int(w.fmtEx.BlockAlign)
	ecData := make([]byte, 7+silenceLen)
	ecData[0] = 1 // span
	binary.LittleEndian.PutUint16(ecData[1:3], uint16(clampU16(w.maxFrame)))
	binary.LittleEndian.PutUint16(ecData[3:5], uint16(clampU16(w.maxFrame)))
	binary.LittleEndian.PutUint16(ecData[5:7], uint16(silenceLen))

	body := make([]byte, 54+len(typeSpecific)+len(ecData))
	copy(body[0:16], asfguid.AudioMedia[:])
	copy(body[16:32], asfguid.AudioSpread[:])
	// body[32:40] Time Offset left zero.
	binary.LittleEndian.PutUint32(body[40:44], uint32(len(typeSpecific)))
	binary.LittleEndian.PutUint32(body[44:48], uint32(len(ecData)))
	binary.LittleEndian.PutUint16(body[48:50], uint16(w.streamNumber&0x7F))
	// body[50:54] Reserved left zero.
	copy(body[54:54+len(typeSpecific)], typeSpecific)
	copy(body[54+len(typeSpecific):], ecData)

	obj := make([]byte, 0, 24+len(body))
	obj = append(obj, asfguid.StreamProperties[:]...)
	obj = append(obj, le64(uint64(24+len(body)))...)
	obj = append(obj, body...)
	return obj
}

// buildHeaderExtension wraps the verbatim source Extended Stream
// Properties object, if any, in its required 22-byte prefix (spec
// §4.12 "Header Extension (verbatim Extended Stream Properties from
// source)").
func (w *Writer) buildHeaderExtension() []byte {
	var nested []byte
	if len(w.extStreamProps) > 0 {
		nested = w.extStreamProps
	}

	body := make([]byte, 22+len(nested))
	copy(body[0:16], asfguid.HeaderExtensionReserved1[:])
	// body[16:18] Reserved2 left zero.
	binary.LittleEndian.PutUint32(body[18:22], uint32(len(nested)))
	copy(body[22:], nested)

	obj := make([]byte, 0, 24+len(body))
	obj = append(obj, asfguid.HeaderExtension[:]...)
	obj = append(obj, le64(uint64(24+len(body)))...)
	obj = append(obj, body...)
	return obj
}

func (w *Writer) buildPacket(p payload, packetSize int64) ([]byte, error) {
	contentSize := payloadOverhead + len(p.replicated) + len(p.data)
	if int64(contentSize) > packetSize {
		return nil, mediaerr.New(mediaerr.KindFragmentationUnsupported, op, "payload exceeds the fixed ASF packet size")
	}
	padding := int(packetSize) - contentSize
	if padding > 0xFF {
		// Padding Length is a BYTE field; a payload far smaller than the
		// one that sized the fixed packet can't be represented.
		return nil, mediaerr.New(mediaerr.KindFragmentationUnsupported, op, "payload too small relative to the fixed ASF packet size")
	}

	pkt := make([]byte, 0, packetSize)
	pkt = append(pkt, ecFlags, 0x00, 0x00)
	pkt = append(pkt, lengthTypeFlags, propertyFlags)
	pkt = append(pkt, le32(uint32(packetSize))...)
	pkt = append(pkt, byte(padding))
	pkt = append(pkt, le32(p.sendTimeMS)...)
	pkt = append(pkt, le16(p.durationMS)...)
	pkt = append(pkt, byte(p.streamNumber&0x7F))
	pkt = append(pkt, le32(p.mediaObjNum)...)
	pkt = append(pkt, le32(p.offset)...)
	pkt = append(pkt, byte(len(p.replicated)))
	pkt = append(pkt, p.replicated...)
	pkt = append(pkt, p.data...)
	pkt = append(pkt, make([]byte, padding)...)
	return pkt, nil
}

func clampU16(v int) int {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return v
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
