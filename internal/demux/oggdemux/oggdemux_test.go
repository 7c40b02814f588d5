package oggdemux

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/jmylchreest/media-extract/internal/bitio"
	"github.com/jmylchreest/media-extract/internal/demux/config"
	"github.com/jmylchreest/media-extract/internal/sample"
	"github.com/stretchr/testify/require"
)

// buildOGGPage wraps a single packet in one OGG page (no lacing across
// pages, segment table sized for packets under 255 bytes).
func buildOGGPage(packet []byte, seq uint32) []byte {
	var page bytes.Buffer
	page.WriteString("OggS")
	page.WriteByte(0)    // version
	page.WriteByte(0x02) // header_type: first page of stream
	for i := 0; i < 8; i++ {
		page.WriteByte(0) // granule position
	}
	seqBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(seqBytes, 1) // serial number
	page.Write(seqBytes)
	binary.LittleEndian.PutUint32(seqBytes, seq)
	page.Write(seqBytes) // page sequence number
	page.Write(make([]byte, 4)) // checksum (unchecked by this demuxer)

	segCount := (len(packet) / 255) + 1
	page.WriteByte(byte(segCount))
	remaining := len(packet)
	for i := 0; i < segCount; i++ {
		if remaining >= 255 {
			page.WriteByte(255)
			remaining -= 255
		} else {
			page.WriteByte(byte(remaining))
		}
	}
	page.Write(packet)
	return page.Bytes()
}

func opusHeadPacket(channels uint8) []byte {
	p := make([]byte, 19)
	copy(p[0:8], "OpusHead")
	p[8] = 1 // version
	p[9] = channels
	return p
}

func TestOGGProbeIdentifiesOpus(t *testing.T) {
	data := buildOGGPage(opusHeadPacket(2), 0)
	rv := bitio.New(bytes.NewReader(data))
	d := New(rv, config.Options{})

	info, err := d.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, "opus", info.AudioStreams[0].Codec)
	require.Equal(t, 48000, info.AudioStreams[0].SampleRate)
	require.Equal(t, 2, info.AudioStreams[0].ChannelCount)
}

func TestOGGExtractReplaysProbedPrefix(t *testing.T) {
	page0 := buildOGGPage(opusHeadPacket(1), 0)
	page1 := buildOGGPage([]byte("second-packet-payload"), 1)
	full := append(append([]byte{}, page0...), page1...)

	rv := bitio.New(bytes.NewReader(full))
	d := New(rv, config.Options{})
	_, err := d.Probe(context.Background())
	require.NoError(t, err)

	var out []byte
	err = d.Extract(context.Background(), 0, func(s sample.Sample) error {
		out = append(out, s.Data...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, full, out)
}

func TestOGGDetect(t *testing.T) {
	require.True(t, Detect([]byte("OggS\x00\x02")))
	require.False(t, Detect([]byte("RIFF")))
}
