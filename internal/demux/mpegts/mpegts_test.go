package mpegts

import (
	"bytes"
	"context"
	"testing"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

// crc32MPEG computes the non-reflected CRC-32/MPEG-2 checksum PSI
// sections use (polynomial 0x04C11DB7, init 0xFFFFFFFF, no final xor).
func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func tsPacket(pid int, start bool, continuity int, payload []byte) []byte {
	pkt := make([]byte, packetSize)
	pkt[0] = 0x47
	b1 := byte(pid>>8) & 0x1F
	if start {
		b1 |= 0x40
	}
	pkt[1] = b1
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | byte(continuity&0x0F) // adaptation_field_control=01 (payload only)
	n := copy(pkt[4:], payload)
	for i := 4 + n; i < packetSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

func patSection(pmtPID int) []byte {
	// program_number(2) + reserved/version/current_next(1) +
	// section_number(1) + last_section_number(1) +
	// reserved/program_map_PID(2)
	body := append(be16(1), 0xC1, 0x00, 0x00)
	body = append(body, byte(0xE0|((pmtPID>>8)&0x1F)), byte(pmtPID))

	section := append([]byte{0x00}, append(be16(uint16(0xB000|(len(body)+4))), body...)...)
	crc := crc32MPEG(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	return append([]byte{0x00}, section...) // pointer_field=0
}

func pmtSection(pcrPID, esStreamType, esPID int) []byte {
	body := append(be16(1), // program_number
		0xC1,       // reserved+version+current_next
		0x00, 0x00, // section_number, last_section_number
	)
	body = append(body, byte(0xE0|((pcrPID>>8)&0x1F)), byte(pcrPID))
	body = append(body, be16(0)...) // reserved+program_info_length=0
	body = append(body, byte(esStreamType), byte(0xE0|((esPID>>8)&0x1F)), byte(esPID))
	body = append(body, be16(0)...) // reserved+ES_info_length=0

	section := append([]byte{0x02}, append(be16(uint16(0xB000|(len(body)+4))), body...)...)
	crc := crc32MPEG(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	return append([]byte{0x00}, section...)
}

func pesPacket(streamID byte, payload []byte) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x00, 0x01, streamID})
	packetLen := 8 + len(payload)
	b.Write(be16(uint16(packetLen)))
	b.WriteByte(0x80)                                     // marker bits
	b.WriteByte(0x80)                                      // PTS-only flag
	b.WriteByte(0x05)                                      // PES_header_data_length
	b.Write([]byte{0x21, 0x00, 0x01, 0x00, 0x01})           // PTS = 0
	b.Write(payload)
	return b.Bytes()
}

func buildTS(t *testing.T, audioPID int, audioPayload []byte) []byte {
	t.Helper()
	const pmtPID = 0x1000
	const streamTypeAC3 = 0x81

	var out bytes.Buffer
	out.Write(tsPacket(0x0000, true, 0, patSection(pmtPID)))
	out.Write(tsPacket(pmtPID, true, 0, pmtSection(audioPID, streamTypeAC3, audioPID)))
	out.Write(tsPacket(audioPID, true, 0, pesPacket(0xC0, audioPayload)))
	return out.Bytes()
}

func TestMPEGTSProbeAndExtractAudioStream(t *testing.T) {
	payload := []byte("FAKE-AC3-FRAME-DATA")
	data := buildTS(t, 0x101, payload)

	rv := bitio.New(bytes.NewReader(data))
	d := New(rv, config.Options{})

	info, err := d.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, info.AudioStreams, 1)
	require.Equal(t, 0x101, info.AudioStreams[0].ID)
	require.Equal(t, "ac3", info.AudioStreams[0].Codec)

	var got [][]byte
	err = d.Extract(context.Background(), 0x101, func(s sample.Sample) error {
		got = append(got, append([]byte(nil), s.Data...))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{payload}, got)
}

func TestMPEGTSDetect(t *testing.T) {
	pkt1 := make([]byte, packetSize)
	pkt1[0] = 0x47
	pkt2 := make([]byte, packetSize)
	pkt2[0] = 0x47
	require.True(t, Detect(append(pkt1, pkt2...)))

	bdav1 := make([]byte, bdavPacketSize)
	bdav1[bdavPrefix] = 0x47
	bdav2 := make([]byte, bdavPacketSize)
	bdav2[bdavPrefix] = 0x47
	require.True(t, Detect(append(append([]byte{}, bdav1...), bdav2...)))

	require.False(t, Detect([]byte{0x00, 0x00, 0x00}))
}

func TestSplitADTSFrames(t *testing.T) {
	frame := func(payloadLen int) []byte {
		total := 7 + payloadLen
		f := make([]byte, total)
		f[0] = 0xFF
		f[1] = 0xF1
		f[3] = byte((total >> 11) & 0x03)
		f[4] = byte((total >> 3) & 0xFF)
		f[5] = byte((total & 0x07) << 5)
		return f
	}
	f1 := frame(10)
	f2 := frame(20)
	combined := append(append([]byte{}, f1...), f2...)

	frames := splitADTSFrames(combined)
	require.Equal(t, [][]byte{f1, f2}, frames)

	require.Nil(t, splitADTSFrames([]byte("not adts")))
}
