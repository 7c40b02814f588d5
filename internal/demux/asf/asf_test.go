package asf

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func le64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

func object(guid [16]byte, body []byte) []byte {
	var out bytes.Buffer
	out.Write(guid[:])
	out.Write(le64(uint64(24 + len(body))))
	out.Write(body)
	return out.Bytes()
}

func fileProperties(packetSize uint32) []byte {
	body := make([]byte, 80)
	copy(body[0:16], guidHeaderObject[:]) // File ID, value unused by this parser
	binary.LittleEndian.PutUint64(body[40:48], 50_000_000) // PlayDuration (5s in 100ns units)
	binary.LittleEndian.PutUint64(body[48:56], 50_000_000) // SendDuration
	binary.LittleEndian.PutUint64(body[56:64], 0)          // Preroll
	binary.LittleEndian.PutUint32(body[64:68], 0x02)       // Flags: seekable
	binary.LittleEndian.PutUint32(body[68:72], packetSize) // Minimum
	binary.LittleEndian.PutUint32(body[72:76], packetSize) // Maximum
	binary.LittleEndian.PutUint32(body[76:80], 128000)     // MaxBitrate
	return object(guidFileProperties, body)
}

func streamProperties(streamNumber int, fmtEx []byte) []byte {
	body := make([]byte, 54+len(fmtEx))
	copy(body[0:16], guidAudioMedia[:])
	// ErrorCorrectionType GUID left zero.
	binary.LittleEndian.PutUint32(body[40:44], uint32(len(fmtEx)))
	binary.LittleEndian.PutUint16(body[48:50], uint16(streamNumber))
	copy(body[54:], fmtEx)
	return object(guidStreamProperties, body)
}

// utf16LEZ encodes s as null-terminated UTF-16LE, the encoding every
// Content Description Object field uses.
func utf16LEZ(s string) []byte {
	b := make([]byte, 0, (len(s)+1)*2)
	for _, r := range s {
		b = append(b, byte(r), byte(r>>8))
	}
	return append(b, 0, 0)
}

// contentDescriptionObject builds a Content Description Object with the
// given title/author and empty copyright/description/rating fields.
func contentDescriptionObject(title, author string) []byte {
	fields := [][]byte{utf16LEZ(title), utf16LEZ(author), utf16LEZ(""), utf16LEZ(""), utf16LEZ("")}
	var body bytes.Buffer
	for _, f := range fields {
		body.Write(le16(uint16(len(f))))
		body.Write(f)
	}
	return object(guidContentDescription, body.Bytes())
}

// buildASF constructs a minimal single-audio-stream ASF file: a Header
// Object with File Properties + Stream Properties (plus any
// extraSubObjects), and a Data Object holding two fixed-size
// single-payload packets.
func buildASF(t *testing.T, packetSize uint32, payload1, payload2 []byte, extraSubObjects ...[]byte) []byte {
	t.Helper()

	fmtEx := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtEx[0:2], 1) // PCM
	binary.LittleEndian.PutUint16(fmtEx[2:4], 2)
	binary.LittleEndian.PutUint32(fmtEx[4:8], 44100)
	binary.LittleEndian.PutUint32(fmtEx[8:12], 44100*4)
	binary.LittleEndian.PutUint16(fmtEx[12:14], 4)
	binary.LittleEndian.PutUint16(fmtEx[14:16], 16)

	subObjects := append(fileProperties(packetSize), streamProperties(0, fmtEx)...)
	for _, extra := range extraSubObjects {
		subObjects = append(subObjects, extra...)
	}

	var header bytes.Buffer
	header.Write(guidHeaderObject[:])
	headerBodySize := 4 + 2 + len(subObjects)
	header.Write(le64(uint64(24 + headerBodySize)))
	header.Write(le32(uint32(2 + len(extraSubObjects)))) // NumberOfHeaderObjects
	header.Write(le16(0))                                // reserved1, reserved2
	header.Write(subObjects)

	packet := func(payload []byte) []byte {
		p := make([]byte, packetSize)
		p[0] = 0x80 // error-correction flags: present, zero-length data
		p[1] = 0x00 // length-type flags: single payload, no length/sequence/padding fields
		p[2] = 0x00 // property flags: all fixed-width fields absent (0-byte widths)
		binary.LittleEndian.PutUint32(p[3:7], 0)  // send time
		binary.LittleEndian.PutUint16(p[7:9], 0)  // duration
		p[9] = 0x80                               // stream number 0, keyframe
		copy(p[10:], payload)
		return p
	}

	var data bytes.Buffer
	data.Write(guidDataObject[:])
	data.Write(le64(uint64(50 + 2*packetSize)))
	data.Write(guidHeaderObject[:]) // File ID, unused
	data.Write(le64(2))             // TotalDataPackets
	data.Write(le16(0))             // reserved

	var out bytes.Buffer
	out.Write(header.Bytes())
	out.Write(data.Bytes())
	out.Write(packet(payload1))
	out.Write(packet(payload2))
	return out.Bytes()
}

func TestASFProbeAndExtractAudioStream(t *testing.T) {
	const packetSize = 64
	p1 := append([]byte("PKT1"), make([]byte, packetSize-10-4)...)
	p2 := append([]byte("PKT2"), make([]byte, packetSize-10-4)...)
	data := buildASF(t, packetSize, p1, p2)

	rv := bitio.New(bytes.NewReader(data))
	d := New(rv, config.Options{})

	info, err := d.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, len(info.AudioStreams))
	require.Equal(t, 0, info.AudioStreams[0].ID)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)
	require.Equal(t, 44100, info.AudioStreams[0].SampleRate)
	require.NotNil(t, info.DurationSeconds)
	require.InDelta(t, 5.0, *info.DurationSeconds, 0.001)

	var payloads [][]byte
	err = d.Extract(context.Background(), 0, func(s sample.Sample) error {
		payloads = append(payloads, append([]byte(nil), s.Data...))
		require.NotNil(t, s.ASF)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{p1, p2}, payloads)
}

func TestASFProbeDecodesContentDescription(t *testing.T) {
	const packetSize = 64
	p1 := append([]byte("PKT1"), make([]byte, packetSize-10-4)...)
	p2 := append([]byte("PKT2"), make([]byte, packetSize-10-4)...)
	data := buildASF(t, packetSize, p1, p2, contentDescriptionObject("Test Title", "Test Author"))

	rv := bitio.New(bytes.NewReader(data))
	d := New(rv, config.Options{})
	info, err := d.Probe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info.FileProperties)

	got := struct{ Title, Author, Copyright, Description, Rating string }{
		info.FileProperties.Title, info.FileProperties.Author,
		info.FileProperties.Copyright, info.FileProperties.Description, info.FileProperties.Rating,
	}
	want := struct{ Title, Author, Copyright, Description, Rating string }{
		Title: "Test Title", Author: "Test Author",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Content Description mismatch (-want +got):\n%s", diff)
	}
}

func TestASFDetect(t *testing.T) {
	require.True(t, Detect(guidHeaderObject[:]))
	require.False(t, Detect(guidDataObject[:]))
}

func TestLengthTypeWidth(t *testing.T) {
	require.Equal(t, 0, lengthTypeWidth(0))
	require.Equal(t, 1, lengthTypeWidth(1))
	require.Equal(t, 2, lengthTypeWidth(2))
	require.Equal(t, 4, lengthTypeWidth(3))
}
